package model

import (
	"strings"
	"time"
)

type RuleType string

const (
	RuleKeyword       RuleType = "KEYWORD"
	RuleSenderNumber  RuleType = "SENDER_NUMBER"
	RuleTimeBased     RuleType = "TIME_BASED"
	RuleWhitelist     RuleType = "WHITELIST"
	RuleBlacklist     RuleType = "BLACKLIST"
	RuleSpamDetection RuleType = "SPAM_DETECTION"
	RuleSIMBased      RuleType = "SIM_BASED"
)

func (t RuleType) String() string { return string(t) }

func (t RuleType) Valid() bool {
	switch t {
	case RuleKeyword, RuleSenderNumber, RuleTimeBased, RuleWhitelist,
		RuleBlacklist, RuleSpamDetection, RuleSIMBased:
		return true
	}
	return false
}

// ParseRuleType accepts any case and '-' for '_'.
func ParseRuleType(s string) (RuleType, bool) {
	t := RuleType(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_"))
	return t, t.Valid()
}

type RuleAction string

const (
	ActionAllow RuleAction = "ALLOW"
	ActionBlock RuleAction = "BLOCK"
)

func (a RuleAction) String() string { return string(a) }

func (a RuleAction) Valid() bool { return a == ActionAllow || a == ActionBlock }

func ParseRuleAction(s string) (RuleAction, bool) {
	a := RuleAction(strings.ToUpper(strings.TrimSpace(s)))
	return a, a.Valid()
}

// FilterRule is one row of filter_rules.
type FilterRule struct {
	ID            int64
	Name          string
	Type          RuleType
	Pattern       string
	Action        RuleAction
	Enabled       bool
	CaseSensitive bool
	IsRegex       bool
	Priority      int
	MatchCount    int64
	LastMatchedAt time.Time
	CreatedAt     time.Time
	ModifiedAt    time.Time
}

// ActionContradictsType reports a WHITELIST that blocks or a BLACKLIST that
// allows. The action still decides; this only feeds warnings.
func (r FilterRule) ActionContradictsType() bool {
	return (r.Type == RuleWhitelist && r.Action == ActionBlock) ||
		(r.Type == RuleBlacklist && r.Action == ActionAllow)
}
