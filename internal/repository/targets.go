package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/jmoiron/sqlx"
)

// TargetsRepository persists target_addresses.
type TargetsRepository interface {
	ListEnabled(ctx context.Context) ([]model.TargetAddress, error)
	Upsert(ctx context.Context, t model.TargetAddress) error
	TouchLastUsed(ctx context.Context, phone string, at time.Time) error
}

type TargetsRepositoryImpl struct {
	db *sqlx.DB
}

func NewTargetsRepository(db *sqlx.DB) *TargetsRepositoryImpl {
	return &TargetsRepositoryImpl{db: db}
}

var _ TargetsRepository = (*TargetsRepositoryImpl)(nil)

type targetRow struct {
	Phone         string `db:"phone"`
	DisplayName   string `db:"display_name"`
	Primary       bool   `db:"is_primary"`
	Enabled       bool   `db:"enabled"`
	PreferredSlot int32  `db:"preferred_slot"`
	SelectionMode string `db:"selection_mode"`
	LastUsedMs    int64  `db:"last_used_ms"`
	CreatedMs     int64  `db:"created_ms"`
}

// ListEnabled returns enabled targets, primary first.
func (r *TargetsRepositoryImpl) ListEnabled(ctx context.Context) ([]model.TargetAddress, error) {
	var rows []targetRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT phone, display_name, is_primary, enabled, preferred_slot, selection_mode, last_used_ms, created_ms
		  FROM target_addresses
		 WHERE enabled = 1
		 ORDER BY is_primary DESC, created_ms ASC, phone ASC
	`)
	if err != nil {
		return nil, err
	}

	out := make([]model.TargetAddress, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.TargetAddress{
			Phone:         row.Phone,
			DisplayName:   row.DisplayName,
			Primary:       row.Primary,
			Enabled:       row.Enabled,
			PreferredSlot: row.PreferredSlot,
			// unknown modes stay verbatim; the resolver maps them to the global default
			SelectionMode: model.SelectionMode(row.SelectionMode),
			LastUsedAt:    fromMillis(row.LastUsedMs),
			CreatedAt:     fromMillis(row.CreatedMs),
		})
	}
	return out, nil
}

// Upsert inserts the target or rewrites its settings, keeping last_used_ms.
func (r *TargetsRepositoryImpl) Upsert(ctx context.Context, t model.TargetAddress) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	return withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE target_addresses
			SET display_name = ?, is_primary = ?, enabled = ?, preferred_slot = ?, selection_mode = ?
			WHERE phone = ?
		`, t.DisplayName, t.Primary, t.Enabled, t.PreferredSlot, t.SelectionMode.String(), t.Phone)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO target_addresses
			    (phone, display_name, is_primary, enabled, preferred_slot, selection_mode, last_used_ms, created_ms)
			VALUES
			    (?, ?, ?, ?, ?, ?, 0, ?)
		`, t.Phone, t.DisplayName, t.Primary, t.Enabled, t.PreferredSlot, t.SelectionMode.String(), toMillis(t.CreatedAt))
		return err
	})
}

func (r *TargetsRepositoryImpl) TouchLastUsed(ctx context.Context, phone string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE target_addresses SET last_used_ms = ? WHERE phone = ?`, toMillis(at), phone)
	return err
}
