package model

import (
	"strings"
	"time"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) String() string { return string(p) }

// ParsePriority normalizes input; empty => normal.
// Returns (value, true) if valid; otherwise (normal, false).
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, true
	case "high", "urgent":
		return PriorityHigh, true
	case "low", "deferred":
		return PriorityLow, true
	default:
		return PriorityNormal, false
	}
}

func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityNormal || p == PriorityLow
}

// InitialDelay is how long a freshly enqueued job of this tier waits before
// its first dispatch.
func (p Priority) InitialDelay() time.Duration {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 5 * time.Second
	default:
		return time.Second
	}
}

// DedupPolicy says what happens to pending jobs of the same chain on enqueue.
type DedupPolicy int

const (
	// DedupAppend queues the job behind every pending job of its chain.
	DedupAppend DedupPolicy = iota
	// DedupReplace drops pending (not dispatching) jobs of the chain first.
	DedupReplace
	// DedupAppendOrReplace coalesces into an identical pending job, else appends.
	DedupAppendOrReplace
)

func (d DedupPolicy) String() string {
	switch d {
	case DedupReplace:
		return "replace"
	case DedupAppendOrReplace:
		return "append_or_replace"
	default:
		return "append"
	}
}

func (p Priority) DedupPolicy() DedupPolicy {
	switch p {
	case PriorityHigh:
		return DedupReplace
	case PriorityLow:
		return DedupAppendOrReplace
	default:
		return DedupAppend
	}
}
