package repository

import (
	"context"

	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/jmoiron/sqlx"
)

// HistoryRecorder is the append-only sink for terminal job outcomes.
type HistoryRecorder interface {
	Record(ctx context.Context, rec model.HistoryRecord) error
}

// HistoryReader lists recorded outcomes, newest first.
type HistoryReader interface {
	List(ctx context.Context, f model.HistoryFilter) ([]model.HistoryRecord, error)
}

// HistoryRepository persists forward_history in the job store, so an outcome
// can be written in the same transaction that removes its job.
type HistoryRepository interface {
	HistoryRecorder
	HistoryReader
	Insert(ctx context.Context, tx *sqlx.Tx, rec model.HistoryRecord) error
}

type HistoryRepositoryImpl struct {
	db *sqlx.DB
}

func NewHistoryRepository(db *sqlx.DB) *HistoryRepositoryImpl {
	return &HistoryRepositoryImpl{db: db}
}

var _ HistoryRepository = (*HistoryRepositoryImpl)(nil)

type historyRow struct {
	ID                   int64  `db:"id"`
	JobID                string `db:"job_id"`
	Sender               string `db:"sender"`
	OriginalBody         string `db:"original_body"`
	Target               string `db:"target"`
	ForwardedBody        string `db:"forwarded_body"`
	TimestampMs          int64  `db:"timestamp_ms"`
	Success              bool   `db:"success"`
	Error                string `db:"error_text"`
	SourceSlot           int32  `db:"source_slot"`
	ForwardingSlot       int32  `db:"forwarding_slot"`
	SourceEndpointID     int32  `db:"source_endpoint_id"`
	ForwardingEndpointID int32  `db:"forwarding_endpoint_id"`
	RetryCount           int    `db:"retry_count"`
	Priority             string `db:"priority"`
}

func (r historyRow) toModel() model.HistoryRecord {
	return model.HistoryRecord{
		ID:                   r.ID,
		JobID:                r.JobID,
		Sender:               r.Sender,
		OriginalBody:         r.OriginalBody,
		Target:               r.Target,
		ForwardedBody:        r.ForwardedBody,
		Timestamp:            fromMillis(r.TimestampMs),
		Success:              r.Success,
		Error:                r.Error,
		SourceSlot:           r.SourceSlot,
		ForwardingSlot:       r.ForwardingSlot,
		SourceEndpointID:     r.SourceEndpointID,
		ForwardingEndpointID: r.ForwardingEndpointID,
		RetryCount:           r.RetryCount,
		Priority:             model.Priority(r.Priority),
	}
}

const insertHistory = `
	INSERT INTO forward_history
	    (job_id, sender, original_body, target, forwarded_body, timestamp_ms, success, error_text,
	     source_slot, forwarding_slot, source_endpoint_id, forwarding_endpoint_id, retry_count, priority)
	VALUES
	    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func historyArgs(rec model.HistoryRecord) []any {
	return []any{
		rec.JobID, rec.Sender, rec.OriginalBody, rec.Target, rec.ForwardedBody,
		toMillis(rec.Timestamp), rec.Success, rec.Error,
		rec.SourceSlot, rec.ForwardingSlot, rec.SourceEndpointID, rec.ForwardingEndpointID,
		rec.RetryCount, rec.Priority.String(),
	}
}

func (r *HistoryRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, rec model.HistoryRecord) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, insertHistory, historyArgs(rec)...)
		return err
	})
}

func (r *HistoryRepositoryImpl) Record(ctx context.Context, rec model.HistoryRecord) error {
	return r.Insert(ctx, nil, rec)
}

func (r *HistoryRepositoryImpl) List(ctx context.Context, f model.HistoryFilter) ([]model.HistoryRecord, error) {
	q, args := historyQuery(`
		SELECT id, job_id, sender, original_body, target, forwarded_body, timestamp_ms, success, error_text,
		       source_slot, forwarding_slot, source_endpoint_id, forwarding_endpoint_id, retry_count, priority
		FROM forward_history
		WHERE 1 = 1
	`, f)

	var rows []historyRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]model.HistoryRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// historyQuery appends filter, ordering and paging to a base select.
func historyQuery(base string, f model.HistoryFilter) (string, []any) {
	limit, offset := f.Limit, f.Offset
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := base
	var args []any
	if f.Target != "" {
		q += " AND target = ?"
		args = append(args, f.Target)
	}
	if f.Sender != "" {
		q += " AND sender = ?"
		args = append(args, f.Sender)
	}
	if f.Success != nil {
		q += " AND success = ?"
		args = append(args, *f.Success)
	}

	q += " ORDER BY timestamp_ms DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)
	return q, args
}
