package model

import (
	"strings"
	"time"
)

type SelectionMode string

const (
	SelectionAuto        SelectionMode = "auto"
	SelectionSourceSIM   SelectionMode = "source_sim"
	SelectionSpecificSIM SelectionMode = "specific_sim"
)

func (m SelectionMode) String() string { return string(m) }

func (m SelectionMode) Valid() bool {
	return m == SelectionAuto || m == SelectionSourceSIM || m == SelectionSpecificSIM
}

// ParseSelectionMode returns (auto, false) for unknown input.
func ParseSelectionMode(s string) (SelectionMode, bool) {
	m := SelectionMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return SelectionAuto, false
	}
	return m, true
}

// NoPreferredSlot is the preferred_slot value of targets without a fixed SIM.
const NoPreferredSlot int32 = -1

// TargetAddress is one forwarding destination in target_addresses.
type TargetAddress struct {
	Phone         string
	DisplayName   string
	Primary       bool
	Enabled       bool
	PreferredSlot int32
	SelectionMode SelectionMode
	LastUsedAt    time.Time
	CreatedAt     time.Time
}
