package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"designsync/internal/api"
	"designsync/pkg/params"
	"designsync/pkg/store"
	"designsync/pkg/zoom"
)

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Read and write the canonical design parameters",
}

var paramsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the canonical parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp api.ParamsResponse
		if err := newAPIClient(serverURL).do(cmd.Context(), "GET", "/api/params", nil, &resp); err != nil {
			return err
		}
		return printParams(cmd, resp)
	},
}

var paramsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one parameter, as a picker would",
	Long: `Set one parameter. The value is validated against the key's schema;
an invalid value is rejected and nothing changes.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.SetParamRequest{Key: args[0], Value: nativeArg(params.Key(args[0]), args[1])}
		var resp api.ParamsResponse
		if err := newAPIClient(serverURL).do(cmd.Context(), "PATCH", "/api/params", req, &resp); err != nil {
			return err
		}
		return printParams(cmd, resp)
	},
}

var paramsNavigateCmd = &cobra.Command{
	Use:   "navigate <query>",
	Short: "Replace all parameters from a query string",
	Long: `Replace all parameters, as loading a new URL would. Invalid values
fall back to their defaults.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp api.ParamsResponse
		if err := newAPIClient(serverURL).do(cmd.Context(), "PUT", "/api/params", api.NavigateRequest{Query: args[0]}, &resp); err != nil {
			return err
		}
		return printParams(cmd, resp)
	},
}

var linkFull bool

var paramsLinkCmd = &cobra.Command{
	Use:   "link",
	Short: "Print a shareable link to the current parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp api.ParamsResponse
		if err := newAPIClient(serverURL).do(cmd.Context(), "GET", "/api/params", nil, &resp); err != nil {
			return err
		}
		query := resp.Query
		if linkFull {
			query = params.Parse(query).EncodeFull()
		}
		link := strings.TrimRight(serverURL, "/") + "/"
		if query != "" {
			link += "?" + query
		}
		fmt.Fprintln(cmd.OutOrStdout(), link)
		return nil
	},
}

// nativeArg turns a command-line value into the JSON scalar the key expects.
func nativeArg(k params.Key, raw string) any {
	d, ok := params.Lookup(k)
	if !ok {
		return raw
	}
	switch d.Type {
	case params.TypeInt:
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	case params.TypeBool:
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	}
	return raw
}

func printParams(cmd *cobra.Command, resp api.ParamsResponse) error {
	if jsonOutput {
		return printJSON(cmd, resp)
	}
	tracked := make(map[string]bool, len(resp.Tracked))
	for _, k := range resp.Tracked {
		tracked[k] = true
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, k := range params.Keys() {
		mark := ""
		if tracked[string(k)] {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%v\t%s\n", k, resp.Params[string(k)], mark)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nquery: %q  (* = synced to frames)\n", resp.Query)
	return nil
}

var zoomCmd = &cobra.Command{
	Use:   "zoom [in|out|fit|reset|<level>]",
	Short: "Send a zoom command to every frame, or print the last reported level",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAPIClient(serverURL)
		var resp api.ZoomResponse
		if len(args) == 0 {
			if err := c.do(cmd.Context(), "GET", "/api/zoom", nil, &resp); err != nil {
				return err
			}
		} else {
			zc, err := parseZoomArg(args[0])
			if err != nil {
				return err
			}
			if err := c.do(cmd.Context(), "POST", "/api/zoom", zoomRequest(zc), &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s sent to %d frame(s)\n", zc, resp.Frames)
		}
		if jsonOutput {
			return printJSON(cmd, resp)
		}
		if !resp.Known {
			fmt.Fprintln(cmd.OutOrStdout(), "zoom: no report yet")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "zoom: %.0f%%\n", resp.Zoom*100)
		return nil
	},
}

func zoomRequest(c zoom.Command) api.ZoomRequest {
	req := api.ZoomRequest{Type: c.Op}
	if c.Op == zoom.OpZoomSet {
		v := c.Value
		req.Value = &v
	}
	return req
}

func parseZoomArg(arg string) (zoom.Command, error) {
	switch strings.ToLower(arg) {
	case "in", "+":
		return zoom.In(), nil
	case "out", "-":
		return zoom.Out(), nil
	case "fit":
		return zoom.Fit(), nil
	case "reset":
		return zoom.Reset(), nil
	}
	s := strings.TrimSuffix(arg, "%")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return zoom.Command{}, fmt.Errorf("unknown zoom argument %q", arg)
	}
	if s != arg {
		v /= 100
	}
	cmd := zoom.Set(v)
	return cmd, cmd.Check()
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "Manage named parameter presets",
}

var presetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List presets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var list []store.Preset
		if err := newAPIClient(serverURL).do(cmd.Context(), "GET", "/api/presets", nil, &list); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, list)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tQUERY\tUPDATED")
		for _, p := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Query, p.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var presetsSaveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Save the current parameters as a preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !store.ValidPresetName(args[0]) {
			return store.ErrInvalidPresetName
		}
		var p store.Preset
		if err := newAPIClient(serverURL).do(cmd.Context(), "PUT", presetPath(args[0]), nil, &p); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s: %s\n", p.Name, p.Query)
		return nil
	},
}

var presetsApplyCmd = &cobra.Command{
	Use:   "apply <name>",
	Short: "Navigate to a saved preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]string
		if err := newAPIClient(serverURL).do(cmd.Context(), "POST", presetPath(args[0], "/apply"), nil, &out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied %s: %s\n", args[0], out["query"])
		return nil
	},
}

var presetsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return newAPIClient(serverURL).do(cmd.Context(), "DELETE", presetPath(args[0]), nil, nil)
	},
}

var originsCmd = &cobra.Command{
	Use:   "origins",
	Short: "Inspect or override the frame origin allow-list",
}

var originsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the active allow-list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return originsCall(cmd, "GET", nil)
	},
}

var originsSetCmd = &cobra.Command{
	Use:   "set <origin>...",
	Short: "Override the allow-list until cleared",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return originsCall(cmd, "PUT", api.OriginsRequest{Origins: args})
	},
}

var originsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the override and use the configured list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return originsCall(cmd, "DELETE", nil)
	},
}

func originsCall(cmd *cobra.Command, method string, body any) error {
	var resp api.OriginsResponse
	if err := newAPIClient(serverURL).do(cmd.Context(), method, "/api/config/origins", body, &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, resp)
	}
	for _, o := range resp.Origins {
		fmt.Fprintln(cmd.OutOrStdout(), o)
	}
	return nil
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print bridge counters and attached frames",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp api.StatsResponse
		if err := newAPIClient(serverURL).do(cmd.Context(), "GET", "/api/stats", nil, &resp); err != nil {
			return err
		}
		return printJSON(cmd, resp)
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
