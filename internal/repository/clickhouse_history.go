package repository

import (
	"context"

	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHHistoryRepository mirrors forward outcomes into ClickHouse for reporting.
// Expected table: smsfwd.forward_history with the same columns as the store.
type CHHistoryRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHHistoryRepository(ch *sqlx.DB) *CHHistoryRepository {
	return &CHHistoryRepository{ch: ch}
}

var (
	_ HistoryRecorder = (*CHHistoryRepository)(nil)
	_ HistoryReader   = (*CHHistoryRepository)(nil)
)

// Record inserts one row; ClickHouse batches need an explicit transaction.
func (r *CHHistoryRepository) Record(ctx context.Context, rec model.HistoryRecord) error {
	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO smsfwd.forward_history
		    (job_id, sender, original_body, target, forwarded_body, timestamp_ms, success, error_text,
		     source_slot, forwarding_slot, source_endpoint_id, forwarding_endpoint_id, retry_count, priority)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx, historyArgs(rec)...); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *CHHistoryRepository) List(ctx context.Context, f model.HistoryFilter) ([]model.HistoryRecord, error) {
	q, args := historyQuery(`
		SELECT 0 AS id, job_id, sender, original_body, target, forwarded_body, timestamp_ms, success, error_text,
		       source_slot, forwarding_slot, source_endpoint_id, forwarding_endpoint_id, retry_count, priority
		FROM smsfwd.forward_history
		WHERE 1 = 1
	`, f)

	var rows []historyRow
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]model.HistoryRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}
