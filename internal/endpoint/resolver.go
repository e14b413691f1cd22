package endpoint

import (
	"context"

	"github.com/jmehdipour/sms-forwarder/internal/model"
	"go.uber.org/zap"
)

// DefaultEndpointID asks the transport to use the device's own default.
const DefaultEndpointID int32 = -1

const (
	ReasonSingleEndpoint  = "single endpoint device"
	ReasonSystemDefault   = "system default endpoint"
	ReasonFirstActive     = "first active endpoint"
	ReasonNoActive        = "no active endpoint"
	ReasonSourceEndpoint  = "source endpoint"
	ReasonPreferredSlot   = "preferred slot"
	ReasonDirectoryFailed = "endpoint directory unavailable"
)

// Selection is the resolved send endpoint. Valid=false carries the
// DefaultEndpointID sentinel.
type Selection struct {
	EndpointID int32
	Slot       int32
	Reason     string
	Valid      bool
}

type Snapshotter interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

type Resolver struct {
	dir         Snapshotter
	defaultMode model.SelectionMode
	logger      *zap.Logger
}

func NewResolver(dir Snapshotter, defaultMode model.SelectionMode, logger *zap.Logger) *Resolver {
	if !defaultMode.Valid() {
		defaultMode = model.SelectionAuto
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{dir: dir, defaultMode: defaultMode, logger: logger}
}

// Resolve picks the endpoint to send to target with. It never fails; when
// nothing usable is found the selection is invalid.
func (r *Resolver) Resolve(ctx context.Context, target model.TargetAddress, sourceEndpointID int32) Selection {
	snap, err := r.dir.Snapshot(ctx)
	if err != nil {
		r.logger.Warn("endpoint directory unavailable", zap.Error(err))
		return Selection{EndpointID: DefaultEndpointID, Slot: model.UnknownEndpoint, Reason: ReasonDirectoryFailed}
	}
	active := snap.Active()
	if len(active) == 1 {
		return Selection{EndpointID: DefaultEndpointID, Slot: model.UnknownEndpoint, Reason: ReasonSingleEndpoint, Valid: true}
	}

	mode := target.SelectionMode
	if !mode.Valid() {
		mode = r.defaultMode
	}

	switch mode {
	case model.SelectionSourceSIM:
		for _, ep := range active {
			if sourceEndpointID != model.UnknownEndpoint && ep.SubscriptionID == sourceEndpointID {
				return Selection{EndpointID: ep.SubscriptionID, Slot: ep.Slot, Reason: ReasonSourceEndpoint, Valid: true}
			}
		}
	case model.SelectionSpecificSIM:
		for _, ep := range active {
			if target.PreferredSlot != model.NoPreferredSlot && ep.Slot == target.PreferredSlot {
				return Selection{EndpointID: ep.SubscriptionID, Slot: ep.Slot, Reason: ReasonPreferredSlot, Valid: true}
			}
		}
	}
	return auto(snap.DefaultID, active)
}

func auto(defaultID int32, active []model.Endpoint) Selection {
	for _, ep := range active {
		if defaultID != DefaultEndpointID && ep.SubscriptionID == defaultID {
			return Selection{EndpointID: ep.SubscriptionID, Slot: ep.Slot, Reason: ReasonSystemDefault, Valid: true}
		}
	}
	if len(active) > 0 {
		ep := active[0]
		return Selection{EndpointID: ep.SubscriptionID, Slot: ep.Slot, Reason: ReasonFirstActive, Valid: true}
	}
	return Selection{EndpointID: DefaultEndpointID, Slot: model.UnknownEndpoint, Reason: ReasonNoActive}
}
