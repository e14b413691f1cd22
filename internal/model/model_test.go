package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParsePriority(t *testing.T) {
	cases := []struct {
		in   string
		want Priority
		ok   bool
	}{
		{"", PriorityNormal, true},
		{"normal", PriorityNormal, true},
		{" HIGH ", PriorityHigh, true},
		{"urgent", PriorityHigh, true},
		{"low", PriorityLow, true},
		{"Deferred", PriorityLow, true},
		{"asap", PriorityNormal, false},
	}
	for _, c := range cases {
		got, ok := ParsePriority(c.in)
		assert.Equal(t, c.want, got, c.in)
		assert.Equal(t, c.ok, ok, c.in)
	}
}

func TestPriorityTiers(t *testing.T) {
	assert.Equal(t, time.Duration(0), PriorityHigh.InitialDelay())
	assert.Equal(t, time.Second, PriorityNormal.InitialDelay())
	assert.Equal(t, 5*time.Second, PriorityLow.InitialDelay())

	assert.Equal(t, DedupReplace, PriorityHigh.DedupPolicy())
	assert.Equal(t, DedupAppend, PriorityNormal.DedupPolicy())
	assert.Equal(t, DedupAppendOrReplace, PriorityLow.DedupPolicy())
	assert.Equal(t, "append_or_replace", DedupAppendOrReplace.String())
}

func TestChainKey(t *testing.T) {
	assert.Equal(t, "high:+905552222222", ChainKey(PriorityHigh, "+905552222222"))
	assert.NotEqual(t, ChainKey(PriorityHigh, "+90"), ChainKey(PriorityLow, "+90"))
}

func TestJobTransitions(t *testing.T) {
	assert.True(t, CanTransition(JobQueued, JobDispatching))
	assert.True(t, CanTransition(JobDispatching, JobSucceeded))
	assert.True(t, CanTransition(JobDispatching, JobRetryScheduled))
	assert.True(t, CanTransition(JobDispatching, JobFailedPermanent))
	assert.True(t, CanTransition(JobDispatching, JobQueued))
	assert.True(t, CanTransition(JobRetryScheduled, JobQueued))

	assert.False(t, CanTransition(JobQueued, JobSucceeded))
	assert.False(t, CanTransition(JobSucceeded, JobQueued))
	assert.False(t, CanTransition(JobFailedPermanent, JobDispatching))
	assert.False(t, CanTransition("", JobSucceeded))

	assert.True(t, JobSucceeded.Terminal())
	assert.True(t, JobFailedPermanent.Terminal())
	assert.False(t, JobRetryScheduled.Terminal())
	assert.False(t, JobState("paused").Valid())
}

func TestParseRuleTypeAndAction(t *testing.T) {
	typ, ok := ParseRuleType("sim-based")
	assert.True(t, ok)
	assert.Equal(t, RuleSIMBased, typ)

	_, ok = ParseRuleType("regex")
	assert.False(t, ok)

	act, ok := ParseRuleAction(" allow ")
	assert.True(t, ok)
	assert.Equal(t, ActionAllow, act)

	_, ok = ParseRuleAction("drop")
	assert.False(t, ok)
}

func TestActionContradictsType(t *testing.T) {
	assert.True(t, FilterRule{Type: RuleWhitelist, Action: ActionBlock}.ActionContradictsType())
	assert.True(t, FilterRule{Type: RuleBlacklist, Action: ActionAllow}.ActionContradictsType())
	assert.False(t, FilterRule{Type: RuleBlacklist, Action: ActionBlock}.ActionContradictsType())
	assert.False(t, FilterRule{Type: RuleKeyword, Action: ActionBlock}.ActionContradictsType())
}

func TestParseSelectionMode(t *testing.T) {
	m, ok := ParseSelectionMode("SOURCE_SIM")
	assert.True(t, ok)
	assert.Equal(t, SelectionSourceSIM, m)

	m, ok = ParseSelectionMode("sim2")
	assert.False(t, ok)
	assert.Equal(t, SelectionAuto, m)
}

func TestEnvelopeMessage(t *testing.T) {
	now := time.UnixMilli(1760000000000)
	id, slot := int32(22), int32(1)

	m := InboundEnvelope{Sender: "+90555", Body: "hi"}.Message(now)
	assert.Equal(t, now, m.Timestamp)
	assert.Equal(t, UnknownEndpoint, m.SourceEndpointID)
	assert.Equal(t, UnknownEndpoint, m.SourceSlot)
	assert.False(t, m.HasSource())

	m = InboundEnvelope{
		Sender: "+90555", Body: "hi", TimestampMs: 1750000000000,
		SourceEndpointID: &id, SourceSlot: &slot,
	}.Message(now)
	assert.Equal(t, time.UnixMilli(1750000000000), m.Timestamp)
	assert.Equal(t, int32(22), m.SourceEndpointID)
	assert.Equal(t, int32(1), m.SourceSlot)
	assert.True(t, m.HasSource())
}
