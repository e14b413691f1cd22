package endpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type staticSnap struct {
	snap Snapshot
	err  error
}

func (s staticSnap) Snapshot(context.Context) (Snapshot, error) { return s.snap, s.err }

var dualSIM = Snapshot{
	DefaultID: 22,
	Endpoints: []model.Endpoint{
		{SubscriptionID: 11, Slot: 0, Carrier: "Turkcell", Active: true},
		{SubscriptionID: 22, Slot: 1, Carrier: "Vodafone", Active: true},
		{SubscriptionID: 33, Slot: 2, Carrier: "Off", Active: false},
	},
}

func target(mode model.SelectionMode, slot int32) model.TargetAddress {
	return model.TargetAddress{Phone: "+905559999999", Enabled: true, SelectionMode: mode, PreferredSlot: slot}
}

func TestResolveSingleEndpoint(t *testing.T) {
	r := NewResolver(staticSnap{snap: Snapshot{
		DefaultID: 5,
		Endpoints: []model.Endpoint{{SubscriptionID: 5, Slot: 0, Active: true}},
	}}, model.SelectionAuto, zaptest.NewLogger(t))

	for _, mode := range []model.SelectionMode{model.SelectionAuto, model.SelectionSourceSIM, model.SelectionSpecificSIM} {
		sel := r.Resolve(context.Background(), target(mode, 0), 5)
		assert.True(t, sel.Valid)
		assert.Equal(t, DefaultEndpointID, sel.EndpointID)
		assert.Equal(t, ReasonSingleEndpoint, sel.Reason)
	}
}

func TestResolveModes(t *testing.T) {
	tests := []struct {
		name       string
		target     model.TargetAddress
		source     int32
		wantID     int32
		wantSlot   int32
		wantReason string
	}{
		{"auto uses system default", target(model.SelectionAuto, model.NoPreferredSlot), 11, 22, 1, ReasonSystemDefault},
		{"source sim", target(model.SelectionSourceSIM, model.NoPreferredSlot), 11, 11, 0, ReasonSourceEndpoint},
		{"source sim inactive falls back", target(model.SelectionSourceSIM, model.NoPreferredSlot), 33, 22, 1, ReasonSystemDefault},
		{"source sim unknown falls back", target(model.SelectionSourceSIM, model.NoPreferredSlot), model.UnknownEndpoint, 22, 1, ReasonSystemDefault},
		{"specific sim", target(model.SelectionSpecificSIM, 0), 22, 11, 0, ReasonPreferredSlot},
		{"specific sim inactive slot", target(model.SelectionSpecificSIM, 2), 22, 22, 1, ReasonSystemDefault},
		{"specific sim without slot", target(model.SelectionSpecificSIM, model.NoPreferredSlot), 22, 22, 1, ReasonSystemDefault},
	}
	r := NewResolver(staticSnap{snap: dualSIM}, model.SelectionAuto, zaptest.NewLogger(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := r.Resolve(context.Background(), tt.target, tt.source)
			assert.True(t, sel.Valid)
			assert.Equal(t, tt.wantID, sel.EndpointID)
			assert.Equal(t, tt.wantSlot, sel.Slot)
			assert.Equal(t, tt.wantReason, sel.Reason)
		})
	}
}

func TestResolveAutoWithoutDefault(t *testing.T) {
	snap := dualSIM
	snap.DefaultID = DefaultEndpointID
	r := NewResolver(staticSnap{snap: snap}, model.SelectionAuto, zaptest.NewLogger(t))

	sel := r.Resolve(context.Background(), target(model.SelectionAuto, model.NoPreferredSlot), 22)
	assert.True(t, sel.Valid)
	assert.Equal(t, int32(11), sel.EndpointID)
	assert.Equal(t, ReasonFirstActive, sel.Reason)
}

func TestResolveUnknownModeUsesGlobalDefault(t *testing.T) {
	r := NewResolver(staticSnap{snap: dualSIM}, model.SelectionSourceSIM, zaptest.NewLogger(t))

	sel := r.Resolve(context.Background(), target(model.SelectionMode("round_robin"), model.NoPreferredSlot), 11)
	assert.Equal(t, int32(11), sel.EndpointID)
	assert.Equal(t, ReasonSourceEndpoint, sel.Reason)

	sel = r.Resolve(context.Background(), target("", model.NoPreferredSlot), 11)
	assert.Equal(t, int32(11), sel.EndpointID)
}

func TestResolveNoActiveEndpoints(t *testing.T) {
	r := NewResolver(staticSnap{snap: Snapshot{DefaultID: DefaultEndpointID}}, model.SelectionAuto, zaptest.NewLogger(t))

	sel := r.Resolve(context.Background(), target(model.SelectionSourceSIM, model.NoPreferredSlot), 11)
	assert.False(t, sel.Valid)
	assert.Equal(t, DefaultEndpointID, sel.EndpointID)
	assert.Equal(t, ReasonNoActive, sel.Reason)
}

func TestResolveDirectoryFailure(t *testing.T) {
	r := NewResolver(staticSnap{err: errors.New("offline")}, model.SelectionAuto, zaptest.NewLogger(t))

	sel := r.Resolve(context.Background(), target(model.SelectionAuto, model.NoPreferredSlot), 11)
	assert.False(t, sel.Valid)
	assert.Equal(t, DefaultEndpointID, sel.EndpointID)
	assert.Equal(t, ReasonDirectoryFailed, sel.Reason)
}
