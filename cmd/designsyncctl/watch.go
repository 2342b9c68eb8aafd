package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"designsync/pkg/bridge"
	"designsync/pkg/config"
	"designsync/pkg/params"
	"designsync/pkg/preview"
	"designsync/pkg/relay"
)

var (
	watchOrigin string
	watchQuery  string
	watchURL    string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Join the relay as a preview frame and print parameter changes",
	Long: `Connect to the server's frame relay the way a preview iframe does.
Every change to a synced parameter is printed as it arrives. Zoom commands
are applied to a headless canvas and the resulting level is reported back.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	def := config.DefaultConfig()
	watchCmd.Flags().StringVar(&watchOrigin, "origin", def.Bridge.AllowedOrigins[len(def.Bridge.AllowedOrigins)-1], "origin to present to the server; must be allowed there")
	watchCmd.Flags().StringVar(&watchQuery, "query", "", "query string the frame starts from, as if loaded with a stale URL")
	watchCmd.Flags().StringVar(&watchURL, "url", "", "relay URL (default from --config, else "+def.Relay.URL+")")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if watchURL == "" {
		watchURL = cfg.Relay.URL
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	return watch(ctx, cmd.OutOrStdout(), cfg, logger)
}

func watch(ctx context.Context, out io.Writer, cfg *config.Config, logger *slog.Logger) error {
	serverOrigin, err := relay.OriginFromURL(watchURL)
	if err != nil {
		return err
	}
	policy, err := bridge.NewOriginPolicy([]string{serverOrigin})
	if err != nil {
		return err
	}
	ep, err := bridge.NewEndpoint(bridge.Config{Origin: watchOrigin, Policy: policy, Logger: logger})
	if err != nil {
		return err
	}
	defer ep.Close()

	frame, err := preview.NewFrame(preview.FrameConfig{
		Endpoint: ep,
		Kind:     cfg.MessageKind(),
		Initial:  params.Parse(watchQuery),
		Tracked:  cfg.Tracked(),
		Limits:   cfg.Zoom,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer frame.Close()

	var mu sync.Mutex
	printf := func(format string, a ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, a...)
	}
	for _, k := range frame.Store().Tracked() {
		unsub := frame.Store().Subscribe(k, func(key params.Key, v string) {
			printf("%s=%s  (v%d)\n", key, v, frame.Store().Version())
		})
		defer unsub()
	}

	client, err := relay.NewClient(relay.ClientConfig{
		URL:         watchURL,
		Endpoint:    ep,
		MaxFailures: cfg.Relay.MaxFailures,
		BaseDelay:   cfg.Relay.Backoff.BaseDelay.Std(),
		MaxDelay:    cfg.Relay.Backoff.MaxDelay.Std(),
		OnConnect: func(bridge.Peer) {
			printf("connected to %s as %s\n", watchURL, watchOrigin)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	frame.SetParent(client)

	err = client.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
