package seed

import (
	"context"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/jmehdipour/sms-forwarder/internal/util"
	"gopkg.in/yaml.v3"
)

// File is the YAML layout accepted by the seed command.
type File struct {
	Rules   []Rule   `yaml:"rules"   validate:"dive"`
	Targets []Target `yaml:"targets" validate:"dive"`
}

type Rule struct {
	Name          string `yaml:"name"           validate:"required,max=128"`
	Type          string `yaml:"type"           validate:"required"`
	Pattern       string `yaml:"pattern"`
	Action        string `yaml:"action"         validate:"required"`
	Enabled       *bool  `yaml:"enabled"`
	CaseSensitive bool   `yaml:"case_sensitive"`
	IsRegex       bool   `yaml:"is_regex"`
	Priority      int    `yaml:"priority"`
}

type Target struct {
	Phone         string `yaml:"phone"          validate:"required,max=32"`
	DisplayName   string `yaml:"display_name"   validate:"max=128"`
	Primary       bool   `yaml:"primary"`
	Enabled       *bool  `yaml:"enabled"`
	PreferredSlot *int32 `yaml:"preferred_slot" validate:"omitempty,gte=-1"`
	SelectionMode string `yaml:"selection_mode" validate:"omitempty,oneof=auto source_sim specific_sim"`
}

type RuleStore interface {
	ListAll(ctx context.Context) ([]model.FilterRule, error)
	Insert(ctx context.Context, r model.FilterRule) (int64, error)
}

type TargetStore interface {
	Upsert(ctx context.Context, t model.TargetAddress) error
}

// Parse decodes and validates a seed file.
func Parse(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return File{}, fmt.Errorf("seed: decode: %w", err)
	}
	if err := validator.New().Struct(&f); err != nil {
		return File{}, fmt.Errorf("seed: %w", err)
	}
	for _, r := range f.Rules {
		if _, err := r.toModel(); err != nil {
			return File{}, err
		}
	}
	return f, nil
}

func (r Rule) toModel() (model.FilterRule, error) {
	typ, ok := model.ParseRuleType(r.Type)
	if !ok {
		return model.FilterRule{}, fmt.Errorf("seed: rule %q: unknown type %q", r.Name, r.Type)
	}
	act, ok := model.ParseRuleAction(r.Action)
	if !ok {
		return model.FilterRule{}, fmt.Errorf("seed: rule %q: unknown action %q", r.Name, r.Action)
	}
	return model.FilterRule{
		Name:          r.Name,
		Type:          typ,
		Pattern:       r.Pattern,
		Action:        act,
		Enabled:       r.Enabled == nil || *r.Enabled,
		CaseSensitive: r.CaseSensitive,
		IsRegex:       r.IsRegex,
		Priority:      r.Priority,
	}, nil
}

func (t Target) toModel(countryCode string) model.TargetAddress {
	slot := model.NoPreferredSlot
	if t.PreferredSlot != nil {
		slot = *t.PreferredSlot
	}
	mode, _ := model.ParseSelectionMode(t.SelectionMode)
	return model.TargetAddress{
		Phone:         util.NormalizePhone(t.Phone, countryCode),
		DisplayName:   t.DisplayName,
		Primary:       t.Primary,
		Enabled:       t.Enabled == nil || *t.Enabled,
		PreferredSlot: slot,
		SelectionMode: mode,
	}
}

// Result counts what Apply wrote.
type Result struct {
	RulesInserted int
	RulesSkipped  int
	Targets       int
}

// Apply upserts targets and inserts rules whose name is not stored yet, so
// running the same file twice is harmless.
func Apply(ctx context.Context, rules RuleStore, targets TargetStore, f File, countryCode string) (Result, error) {
	var res Result

	existing, err := rules.ListAll(ctx)
	if err != nil {
		return res, fmt.Errorf("seed: list rules: %w", err)
	}
	names := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		names[r.Name] = struct{}{}
	}

	for _, r := range f.Rules {
		if _, ok := names[r.Name]; ok {
			res.RulesSkipped++
			continue
		}
		m, err := r.toModel()
		if err != nil {
			return res, err
		}
		if _, err := rules.Insert(ctx, m); err != nil {
			return res, fmt.Errorf("seed: insert rule %q: %w", r.Name, err)
		}
		names[r.Name] = struct{}{}
		res.RulesInserted++
	}

	for _, t := range f.Targets {
		if err := targets.Upsert(ctx, t.toModel(countryCode)); err != nil {
			return res, fmt.Errorf("seed: upsert target %q: %w", t.Phone, err)
		}
		res.Targets++
	}
	return res, nil
}

// Demo is a small rule set and one target for local runs.
func Demo() File {
	off := false
	return File{
		Rules: []Rule{
			{Name: "block spam", Type: "SPAM_DETECTION", Action: "BLOCK", Priority: 100},
			{Name: "allow bank", Type: "SENDER_NUMBER", Pattern: "BANK", Action: "ALLOW", Priority: 50},
			{Name: "quiet hours", Type: "TIME_BASED", Pattern: "23:00-07:00", Action: "BLOCK", Priority: 10, Enabled: &off},
			{Name: "otp codes", Type: "KEYWORD", Pattern: `\b\d{4,8}\b`, IsRegex: true, Action: "ALLOW", Priority: 5},
		},
		Targets: []Target{
			{Phone: "+905550000001", DisplayName: "Demo phone", Primary: true, SelectionMode: "auto"},
		},
	}
}
