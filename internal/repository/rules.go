package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/jmoiron/sqlx"
)

// RulesRepository persists filter_rules.
type RulesRepository interface {
	ListEnabled(ctx context.Context) ([]model.FilterRule, error)
	ListAll(ctx context.Context) ([]model.FilterRule, error)
	Insert(ctx context.Context, r model.FilterRule) (int64, error)
	RecordMatch(ctx context.Context, id int64, at time.Time) error
}

type RulesRepositoryImpl struct {
	db *sqlx.DB
}

func NewRulesRepository(db *sqlx.DB) *RulesRepositoryImpl {
	return &RulesRepositoryImpl{db: db}
}

var _ RulesRepository = (*RulesRepositoryImpl)(nil)

type ruleRow struct {
	ID            int64  `db:"id"`
	Name          string `db:"name"`
	Type          string `db:"rule_type"`
	Pattern       string `db:"pattern"`
	Action        string `db:"action"`
	Enabled       bool   `db:"enabled"`
	CaseSensitive bool   `db:"case_sensitive"`
	IsRegex       bool   `db:"is_regex"`
	Priority      int    `db:"priority"`
	MatchCount    int64  `db:"match_count"`
	LastMatchedMs int64  `db:"last_matched_ms"`
	CreatedMs     int64  `db:"created_ms"`
	ModifiedMs    int64  `db:"modified_ms"`
}

func (r ruleRow) toModel() model.FilterRule {
	return model.FilterRule{
		ID:            r.ID,
		Name:          r.Name,
		Type:          model.RuleType(r.Type),
		Pattern:       r.Pattern,
		Action:        model.RuleAction(r.Action),
		Enabled:       r.Enabled,
		CaseSensitive: r.CaseSensitive,
		IsRegex:       r.IsRegex,
		Priority:      r.Priority,
		MatchCount:    r.MatchCount,
		LastMatchedAt: fromMillis(r.LastMatchedMs),
		CreatedAt:     fromMillis(r.CreatedMs),
		ModifiedAt:    fromMillis(r.ModifiedMs),
	}
}

const ruleColumns = `id, name, rule_type, pattern, action, enabled, case_sensitive, is_regex,
	priority, match_count, last_matched_ms, created_ms, modified_ms`

// ListEnabled returns enabled rules in evaluation order: priority desc, then
// oldest first.
func (r *RulesRepositoryImpl) ListEnabled(ctx context.Context) ([]model.FilterRule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM filter_rules
		WHERE enabled = 1
		ORDER BY priority DESC, created_ms ASC, id ASC`)
}

func (r *RulesRepositoryImpl) ListAll(ctx context.Context) ([]model.FilterRule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM filter_rules
		ORDER BY priority DESC, created_ms ASC, id ASC`)
}

func (r *RulesRepositoryImpl) list(ctx context.Context, q string) ([]model.FilterRule, error) {
	var rows []ruleRow
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	out := make([]model.FilterRule, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// Insert stores a new rule; zero timestamps become now.
func (r *RulesRepositoryImpl) Insert(ctx context.Context, rule model.FilterRule) (int64, error) {
	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	if rule.ModifiedAt.IsZero() {
		rule.ModifiedAt = rule.CreatedAt
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO filter_rules
		    (name, rule_type, pattern, action, enabled, case_sensitive, is_regex, priority,
		     match_count, last_matched_ms, created_ms, modified_ms)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)
	`,
		rule.Name, rule.Type.String(), rule.Pattern, rule.Action.String(),
		rule.Enabled, rule.CaseSensitive, rule.IsRegex, rule.Priority,
		toMillis(rule.CreatedAt), toMillis(rule.ModifiedAt),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecordMatch bumps the match counter and last-matched timestamp.
func (r *RulesRepositoryImpl) RecordMatch(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE filter_rules
		SET match_count = match_count + 1, last_matched_ms = ?
		WHERE id = ?
	`, toMillis(at), id)
	return err
}
