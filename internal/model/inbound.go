package model

import "time"

// UnknownEndpoint marks a missing subscription id or slot.
const UnknownEndpoint int32 = -1

// InboundMessage is one received SMS as reported by the device.
type InboundMessage struct {
	Sender           string    `json:"sender"`
	Body             string    `json:"body"`
	Timestamp        time.Time `json:"-"`
	SourceEndpointID int32     `json:"source_endpoint_id"`
	SourceSlot       int32     `json:"source_slot"`
}

// HasSource reports whether the receiving endpoint is known.
func (m InboundMessage) HasSource() bool {
	return m.SourceEndpointID != UnknownEndpoint || m.SourceSlot != UnknownEndpoint
}

// InboundEnvelope is the payload consumed from Kafka and accepted over HTTP.
type InboundEnvelope struct {
	Sender           string `json:"sender"             validate:"required,max=64"`
	Body             string `json:"body"               validate:"required,max=1600"`
	TimestampMs      int64  `json:"timestamp_ms"       validate:"gte=0"`
	SourceEndpointID *int32 `json:"source_endpoint_id" validate:"omitempty,gte=-1"`
	SourceSlot       *int32 `json:"source_slot"        validate:"omitempty,gte=-1"`
	Priority         string `json:"priority,omitempty" validate:"omitempty,oneof=high normal low urgent deferred"`
}

// Message converts the envelope; missing ids become UnknownEndpoint and a
// zero timestamp becomes now.
func (e InboundEnvelope) Message(now time.Time) InboundMessage {
	m := InboundMessage{
		Sender:           e.Sender,
		Body:             e.Body,
		Timestamp:        now,
		SourceEndpointID: UnknownEndpoint,
		SourceSlot:       UnknownEndpoint,
	}
	if e.TimestampMs > 0 {
		m.Timestamp = time.UnixMilli(e.TimestampMs)
	}
	if e.SourceEndpointID != nil {
		m.SourceEndpointID = *e.SourceEndpointID
	}
	if e.SourceSlot != nil {
		m.SourceSlot = *e.SourceSlot
	}
	return m
}
