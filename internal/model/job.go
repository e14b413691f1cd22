package model

import "time"

type JobState string

const (
	JobQueued          JobState = "queued"
	JobDispatching     JobState = "dispatching"
	JobRetryScheduled  JobState = "retry_scheduled"
	JobSucceeded       JobState = "succeeded"
	JobFailedPermanent JobState = "failed_permanent"
)

func (s JobState) String() string {
	return string(s)
}

func (s JobState) Valid() bool {
	switch s {
	case JobQueued, JobDispatching, JobRetryScheduled, JobSucceeded, JobFailedPermanent:
		return true
	}
	return false
}

// Terminal reports whether no further transitions can happen.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailedPermanent
}

var jobTransitions = map[JobState][]JobState{
	JobQueued:         {JobDispatching},
	JobDispatching:    {JobSucceeded, JobRetryScheduled, JobFailedPermanent, JobQueued},
	JobRetryScheduled: {JobQueued},
}

// CanTransition reports whether from -> to is an edge of the job state machine.
// DISPATCHING -> QUEUED is the crash-recovery edge.
func CanTransition(from, to JobState) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// DefaultJobTag is attached to every forward job; cancelling it clears the queue.
const DefaultJobTag = "sms_forward"

// DeliveryJob is the persisted unit of work in delivery_jobs.
type DeliveryJob struct {
	ID               string    `json:"id"`
	Seq              int64     `json:"seq"`
	Tag              string    `json:"tag"`
	ChainKey         string    `json:"chain_key"`
	Sender           string    `json:"sender"`
	Body             string    `json:"body"`         // original inbound body
	ForwardBody      string    `json:"forward_body"` // formatted body handed to the transport
	Target           string    `json:"target"`
	Priority         Priority  `json:"priority"`
	State            JobState  `json:"state"`
	RetryCount       int       `json:"retry_count"`
	SourceEndpointID int32     `json:"source_endpoint_id"`
	SourceSlot       int32     `json:"source_slot"`
	EndpointID       int32     `json:"endpoint_id"`
	Slot             int32     `json:"slot"`
	LastError        string    `json:"last_error,omitempty"`
	ReceivedAt       time.Time `json:"received_at"`
	EnqueuedAt       time.Time `json:"enqueued_at"`
	NextAttemptAt    time.Time `json:"next_attempt_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ChainKey groups jobs whose ordering and de-duplication interact.
func ChainKey(p Priority, target string) string {
	return p.String() + ":" + target
}
