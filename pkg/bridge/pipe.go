package bridge

import "errors"

// pipePeer delivers straight into another in-process endpoint.
type pipePeer struct {
	from *Endpoint
	to   *Endpoint
}

func (p pipePeer) Send(data []byte) error {
	err := p.to.Deliver(p.from.origin, data)
	if errors.Is(err, ErrClosed) {
		return err
	}
	// Like postMessage, the sender is not told what the receiver did with it.
	return nil
}

// Pipe links two in-process endpoints. toB sends from a to b, toA from b to a.
func Pipe(a, b *Endpoint) (toB, toA Peer) {
	return pipePeer{from: a, to: b}, pipePeer{from: b, to: a}
}
