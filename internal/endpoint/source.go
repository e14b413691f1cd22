package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/config"
	"github.com/jmehdipour/sms-forwarder/internal/model"
)

// Snapshot is one reading of the device's send endpoints.
type Snapshot struct {
	Endpoints []model.Endpoint `json:"endpoints"`
	// DefaultID is the subscription the device sends with when none is
	// chosen; DefaultEndpointID when the device has no preference.
	DefaultID int32 `json:"default_subscription_id"`
}

func (s Snapshot) Active() []model.Endpoint {
	out := make([]model.Endpoint, 0, len(s.Endpoints))
	for _, ep := range s.Endpoints {
		if ep.Active {
			out = append(out, ep)
		}
	}
	return out
}

// Source queries the device for its current endpoints.
type Source interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// StaticSource serves the endpoints listed in configuration.
type StaticSource struct {
	snap Snapshot
}

func NewStaticSource(cfg config.EndpointsConfig) *StaticSource {
	eps := make([]model.Endpoint, 0, len(cfg.Static))
	for _, e := range cfg.Static {
		eps = append(eps, model.Endpoint{
			SubscriptionID: e.SubscriptionID,
			Slot:           e.Slot,
			Carrier:        e.Carrier,
			DisplayName:    e.DisplayName,
			Active:         e.Active,
		})
	}
	return &StaticSource{snap: Snapshot{Endpoints: eps, DefaultID: cfg.DefaultSubscriptionID}}
}

func (s *StaticSource) Fetch(context.Context) (Snapshot, error) {
	out := s.snap
	out.Endpoints = append([]model.Endpoint(nil), s.snap.Endpoints...)
	return out, nil
}

// HTTPSource reads endpoints from the modem gateway (GET base_url+path).
type HTTPSource struct {
	url    string
	client *http.Client
}

func NewHTTPSource(cfg config.EndpointSourceConfig) *HTTPSource {
	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 2000
	}
	return &HTTPSource{
		url:    cfg.BaseURL + cfg.Path,
		client: &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Snapshot{}, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return Snapshot{}, fmt.Errorf("endpoint source %s: status=%d", s.url, res.StatusCode)
	}

	snap := Snapshot{DefaultID: DefaultEndpointID}
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("endpoint source %s: decode: %w", s.url, err)
	}
	return snap, nil
}

// NewSource picks the configured source.
func NewSource(cfg config.EndpointsConfig) (Source, error) {
	switch cfg.Source {
	case "static", "":
		return NewStaticSource(cfg), nil
	case "http":
		return NewHTTPSource(cfg.HTTP), nil
	default:
		return nil, fmt.Errorf("unknown endpoint source %q", cfg.Source)
	}
}
