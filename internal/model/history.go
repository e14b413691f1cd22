package model

import "time"

// HistoryRecord is the single terminal outcome of a delivery job.
type HistoryRecord struct {
	ID                   int64     `json:"id"`
	JobID                string    `json:"job_id"`
	Sender               string    `json:"sender"`
	OriginalBody         string    `json:"original_body"`
	Target               string    `json:"target"`
	ForwardedBody        string    `json:"forwarded_body"`
	Timestamp            time.Time `json:"timestamp"`
	Success              bool      `json:"success"`
	Error                string    `json:"error,omitempty"`
	SourceSlot           int32     `json:"source_slot"`
	ForwardingSlot       int32     `json:"forwarding_slot"`
	SourceEndpointID     int32     `json:"source_endpoint_id"`
	ForwardingEndpointID int32     `json:"forwarding_endpoint_id"`
	RetryCount           int       `json:"retry_count"`
	Priority             Priority  `json:"priority"`
}

// HistoryFilter narrows history listings; zero values mean "any".
type HistoryFilter struct {
	Target  string
	Sender  string
	Success *bool
	Limit   int
	Offset  int
}
