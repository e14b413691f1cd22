package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubGateway struct {
	name  string
	ready bool
	sent  []string
}

func (g *stubGateway) Ready() bool { return g.ready }

func (g *stubGateway) Divide(body string) []string { return Divide(body) }

func (g *stubGateway) Send(_ context.Context, body, _ string, _ int32) <-chan Result {
	g.sent = append(g.sent, body)
	out := make(chan Result, 1)
	out <- Result{Code: CodeOK}
	close(out)
	return out
}

func (g *stubGateway) SendMultipart(ctx context.Context, parts []string, address string, id int32) <-chan Result {
	return g.Send(ctx, parts[0], address, id)
}

func TestPoolRoundRobinOverHealthy(t *testing.T) {
	a := &stubGateway{name: "a", ready: true}
	b := &stubGateway{name: "b", ready: false}
	c := &stubGateway{name: "c", ready: true}
	p := NewPool(a, b, c)

	for i := 0; i < 4; i++ {
		assert.Equal(t, CodeOK, (<-p.Send(context.Background(), "m", "+901", 1)).Code)
	}
	assert.Len(t, a.sent, 2)
	assert.Empty(t, b.sent)
	assert.Len(t, c.sent, 2)
}

func TestPoolNoHealthy(t *testing.T) {
	p := NewPool(&stubGateway{ready: false})

	res := <-p.SendMultipart(context.Background(), []string{"a"}, "+901", 1)
	assert.Equal(t, CodeTransportUnavailable, res.Code)
	assert.ErrorIs(t, res.Err, ErrNoHealthy)
}
