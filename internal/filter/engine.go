// Package filter decides whether an inbound message is forwarded.
package filter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/metrics"
	"github.com/jmehdipour/sms-forwarder/internal/model"
	"go.uber.org/zap"
)

const (
	ReasonNoFilters        = "no filters configured"
	ReasonNoMatch          = "no rule matched"
	ReasonStoreUnavailable = "rule store unavailable"
)

// RuleStore is the slice of the rules repository the engine needs.
type RuleStore interface {
	ListEnabled(ctx context.Context) ([]model.FilterRule, error)
	RecordMatch(ctx context.Context, id int64, at time.Time) error
}

// EndpointLister returns the live send endpoints; SIM_BASED rules match on
// their carrier and display names.
type EndpointLister interface {
	Active(ctx context.Context) ([]model.Endpoint, error)
}

type Input struct {
	Sender           string
	Body             string
	Timestamp        time.Time
	SourceEndpointID int32
	SourceSlot       int32
}

func (in Input) hasSource() bool {
	return in.SourceEndpointID != model.UnknownEndpoint || in.SourceSlot != model.UnknownEndpoint
}

type Decision struct {
	Allow  bool
	Reason string
	Rule   *model.FilterRule // nil unless a rule decided
}

type Options struct {
	Location       *time.Location
	RegexCacheSize int
	Now            func() time.Time
}

// Engine evaluates the enabled rule set against one message at a time.
type Engine struct {
	store     RuleStore
	endpoints EndpointLister
	regex     *regexCache
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger

	pending sync.WaitGroup
}

func NewEngine(store RuleStore, endpoints EndpointLister, opts Options, logger *zap.Logger) (*Engine, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rc, err := newRegexCache(opts.RegexCacheSize)
	if err != nil {
		return nil, fmt.Errorf("filter: regex cache: %w", err)
	}
	return &Engine{
		store:     store,
		endpoints: endpoints,
		regex:     rc,
		loc:       opts.Location,
		now:       opts.Now,
		logger:    logger,
	}, nil
}

// Evaluate runs the enabled rules in order (priority desc, creation asc) and
// returns the decision of the first one that matches. It never fails: a rule
// that errors is skipped and an unreachable store allows the message.
func (e *Engine) Evaluate(ctx context.Context, in Input) Decision {
	rules, err := e.store.ListEnabled(ctx)
	if err != nil {
		e.logger.Warn("rule store unavailable, allowing message", zap.Error(err))
		metrics.FilterDecisionsTotal.WithLabelValues("fail_open").Inc()
		return Decision{Allow: true, Reason: ReasonStoreUnavailable}
	}
	if len(rules) == 0 {
		metrics.FilterDecisionsTotal.WithLabelValues("default").Inc()
		return Decision{Allow: true, Reason: ReasonNoFilters}
	}

	for i := range rules {
		rule := rules[i]
		matched, err := e.match(ctx, rule, in)
		if err != nil {
			e.logger.Warn("rule evaluation failed",
				zap.Int64("rule_id", rule.ID),
				zap.String("rule_type", rule.Type.String()),
				zap.Error(err),
			)
			metrics.RuleErrorsTotal.WithLabelValues(rule.Type.String()).Inc()
			continue
		}
		if !matched {
			continue
		}

		if rule.ActionContradictsType() {
			e.logger.Warn("rule action contradicts its type",
				zap.Int64("rule_id", rule.ID),
				zap.String("rule_type", rule.Type.String()),
				zap.String("action", rule.Action.String()),
			)
		}
		e.recordMatch(rule.ID)

		allow := rule.Action == model.ActionAllow
		if allow {
			metrics.FilterDecisionsTotal.WithLabelValues("allow").Inc()
		} else {
			metrics.FilterDecisionsTotal.WithLabelValues("block").Inc()
		}
		return Decision{
			Allow:  allow,
			Reason: fmt.Sprintf("rule %q (%s) matched", rule.Name, rule.Type),
			Rule:   &rule,
		}
	}

	metrics.FilterDecisionsTotal.WithLabelValues("default").Inc()
	return Decision{Allow: true, Reason: ReasonNoMatch}
}

// Wait blocks until every pending match-counter update has finished.
func (e *Engine) Wait() {
	e.pending.Wait()
}

func (e *Engine) recordMatch(id int64) {
	at := e.now()
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.store.RecordMatch(ctx, id, at); err != nil {
			e.logger.Warn("record rule match failed", zap.Int64("rule_id", id), zap.Error(err))
		}
	}()
}

func (e *Engine) match(ctx context.Context, rule model.FilterRule, in Input) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched, err = false, fmt.Errorf("matcher panic: %v", r)
		}
	}()

	switch rule.Type {
	case model.RuleKeyword:
		return e.matchKeyword(rule, in.Body)
	case model.RuleSenderNumber:
		return e.matchSender(rule, in.Sender)
	case model.RuleTimeBased:
		return e.matchTime(rule, in.Timestamp)
	case model.RuleWhitelist, model.RuleBlacklist:
		ok, err := e.matchSender(rule, in.Sender)
		if err != nil || ok {
			return ok, err
		}
		return e.matchKeyword(rule, in.Body)
	case model.RuleSpamDetection:
		return matchSpam(rule, in.Sender, in.Body), nil
	case model.RuleSIMBased:
		return e.matchSIM(ctx, rule, in)
	default:
		return false, fmt.Errorf("unknown rule type %q", rule.Type)
	}
}
