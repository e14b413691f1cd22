package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/config"
)

var ErrNoHealthy = errors.New("transport: no healthy gateways")

// Gateway is a Transport whose health can be checked before use.
type Gateway interface {
	Transport
	Ready() bool
}

// Pool spreads sends round-robin over the gateways whose breaker is closed.
// It never retries; retries belong to the delivery queue.
type Pool struct {
	gateways []Gateway
	rr       atomic.Uint64
}

func NewPool(gateways ...Gateway) *Pool {
	return &Pool{gateways: gateways}
}

// NewPoolFromConfig builds one HTTP gateway per configured base URL.
func NewPoolFromConfig(cfg config.TransportConfig, now func() time.Time) *Pool {
	urls := cfg.Gateways
	if len(urls) == 0 {
		urls = []string{cfg.BaseURL}
	}
	gws := make([]Gateway, 0, len(urls))
	for _, u := range urls {
		c := cfg
		c.BaseURL = u
		gws = append(gws, NewHTTPTransport(c, now))
	}
	return NewPool(gws...)
}

var _ Transport = (*Pool)(nil)

func (p *Pool) pick() (Gateway, error) {
	healthy := make([]Gateway, 0, len(p.gateways))
	for _, g := range p.gateways {
		if g.Ready() {
			healthy = append(healthy, g)
		}
	}
	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}
	x := p.rr.Add(1)
	return healthy[int((x-1)%uint64(len(healthy)))], nil
}

func (p *Pool) Divide(body string) []string { return Divide(body) }

func (p *Pool) Send(ctx context.Context, body, address string, endpointID int32) <-chan Result {
	g, err := p.pick()
	if err != nil {
		return failed(err)
	}
	return g.Send(ctx, body, address, endpointID)
}

func (p *Pool) SendMultipart(ctx context.Context, parts []string, address string, endpointID int32) <-chan Result {
	g, err := p.pick()
	if err != nil {
		return failed(err)
	}
	return g.SendMultipart(ctx, parts, address, endpointID)
}

func failed(err error) <-chan Result {
	out := make(chan Result, 1)
	out <- Result{Code: CodeTransportUnavailable, Err: err}
	close(out)
	return out
}
