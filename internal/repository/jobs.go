package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/jmoiron/sqlx"
)

// JobsRepository persists delivery_jobs. Rows only exist for live jobs
// (queued or dispatching); terminal jobs are deleted.
type JobsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, j model.DeliveryJob) (int64, error)
	Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.DeliveryJob, error)
	DeleteQueuedInChain(ctx context.Context, tx *sqlx.Tx, chainKey string) (int64, error)
	FindQueuedDuplicate(ctx context.Context, tx *sqlx.Tx, chainKey, sender, body string) (*model.DeliveryJob, error)
	Refresh(ctx context.Context, tx *sqlx.Tx, j model.DeliveryJob) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.DeliveryJob, error)
	ScheduleRetry(ctx context.Context, tx *sqlx.Tx, id string, retryCount int, next time.Time, lastErr string, now time.Time) (bool, error)
	Delete(ctx context.Context, tx *sqlx.Tx, id string) (bool, error)
	DeleteByTag(ctx context.Context, tag string) ([]string, error)
	ListPending(ctx context.Context, limit int) ([]model.DeliveryJob, error)
	RecoverStale(ctx context.Context, updatedBefore, now time.Time) (int64, error)
	CountByState(ctx context.Context) (map[model.JobState]int64, error)
}

type JobsRepositoryImpl struct {
	db *sqlx.DB
}

func NewJobsRepository(db *sqlx.DB) *JobsRepositoryImpl {
	return &JobsRepositoryImpl{db: db}
}

var _ JobsRepository = (*JobsRepositoryImpl)(nil)

type jobRow struct {
	Seq              int64  `db:"seq"`
	ID               string `db:"id"`
	Tag              string `db:"tag"`
	ChainKey         string `db:"chain_key"`
	Sender           string `db:"sender"`
	Body             string `db:"body"`
	ForwardBody      string `db:"forward_body"`
	Target           string `db:"target"`
	Priority         string `db:"priority"`
	State            string `db:"state"`
	RetryCount       int    `db:"retry_count"`
	SourceEndpointID int32  `db:"source_endpoint_id"`
	SourceSlot       int32  `db:"source_slot"`
	EndpointID       int32  `db:"endpoint_id"`
	Slot             int32  `db:"slot"`
	LastError        string `db:"last_error"`
	ReceivedMs       int64  `db:"received_ms"`
	EnqueuedMs       int64  `db:"enqueued_ms"`
	NextAttemptMs    int64  `db:"next_attempt_ms"`
	UpdatedMs        int64  `db:"updated_ms"`
}

func (r jobRow) toModel() model.DeliveryJob {
	return model.DeliveryJob{
		ID:               r.ID,
		Seq:              r.Seq,
		Tag:              r.Tag,
		ChainKey:         r.ChainKey,
		Sender:           r.Sender,
		Body:             r.Body,
		ForwardBody:      r.ForwardBody,
		Target:           r.Target,
		Priority:         model.Priority(r.Priority),
		State:            model.JobState(r.State),
		RetryCount:       r.RetryCount,
		SourceEndpointID: r.SourceEndpointID,
		SourceSlot:       r.SourceSlot,
		EndpointID:       r.EndpointID,
		Slot:             r.Slot,
		LastError:        r.LastError,
		ReceivedAt:       fromMillis(r.ReceivedMs),
		EnqueuedAt:       fromMillis(r.EnqueuedMs),
		NextAttemptAt:    fromMillis(r.NextAttemptMs),
		UpdatedAt:        fromMillis(r.UpdatedMs),
	}
}

func toModels(rows []jobRow) []model.DeliveryJob {
	out := make([]model.DeliveryJob, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out
}

const jobColumns = `seq, id, tag, chain_key, sender, body, forward_body, target, priority, state,
	retry_count, source_endpoint_id, source_slot, endpoint_id, slot, last_error,
	received_ms, enqueued_ms, next_attempt_ms, updated_ms`

// Insert adds a queued job and returns its sequence number.
func (r *JobsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, j model.DeliveryJob) (int64, error) {
	const q = `
		INSERT INTO delivery_jobs
		    (id, tag, chain_key, sender, body, forward_body, target, priority, state,
		     retry_count, source_endpoint_id, source_slot, endpoint_id, slot, last_error,
		     received_ms, enqueued_ms, next_attempt_ms, updated_ms)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var seq int64
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q,
			j.ID, j.Tag, j.ChainKey, j.Sender, j.Body, j.ForwardBody, j.Target,
			j.Priority.String(), model.JobQueued.String(),
			j.RetryCount, j.SourceEndpointID, j.SourceSlot, j.EndpointID, j.Slot, j.LastError,
			toMillis(j.ReceivedAt), toMillis(j.EnqueuedAt), toMillis(j.NextAttemptAt), toMillis(j.EnqueuedAt),
		)
		if err != nil {
			return err
		}
		seq, err = res.LastInsertId()
		return err
	})
	return seq, err
}

// Get returns nil, nil when the job does not exist.
func (r *JobsRepositoryImpl) Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.DeliveryJob, error) {
	var row jobRow
	q := `SELECT ` + jobColumns + ` FROM delivery_jobs WHERE id = ?`
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &row, q, id)
	} else {
		err = r.db.GetContext(ctx, &row, q, id)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j := row.toModel()
	return &j, nil
}

// DeleteQueuedInChain drops every job of the chain that is not being dispatched.
func (r *JobsRepositoryImpl) DeleteQueuedInChain(ctx context.Context, tx *sqlx.Tx, chainKey string) (int64, error) {
	var n int64
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM delivery_jobs WHERE chain_key = ? AND state = ?`, chainKey, model.JobQueued.String())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// FindQueuedDuplicate returns the oldest queued job of the chain carrying the
// same sender and body, or nil.
func (r *JobsRepositoryImpl) FindQueuedDuplicate(ctx context.Context, tx *sqlx.Tx, chainKey, sender, body string) (*model.DeliveryJob, error) {
	var rows []jobRow
	q := `SELECT ` + jobColumns + ` FROM delivery_jobs
		WHERE chain_key = ? AND state = ? AND sender = ? AND body = ?
		ORDER BY seq ASC LIMIT 1`
	args := []any{chainKey, model.JobQueued.String(), sender, body}
	var err error
	if tx != nil {
		err = tx.SelectContext(ctx, &rows, q, args...)
	} else {
		err = r.db.SelectContext(ctx, &rows, q, args...)
	}
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	j := rows[0].toModel()
	return &j, nil
}

// Refresh rewrites a queued job in place (coalescing), keeping its sequence.
func (r *JobsRepositoryImpl) Refresh(ctx context.Context, tx *sqlx.Tx, j model.DeliveryJob) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE delivery_jobs
			SET forward_body = ?, source_endpoint_id = ?, source_slot = ?, endpoint_id = ?, slot = ?,
			    retry_count = 0, last_error = '', received_ms = ?, next_attempt_ms = ?, updated_ms = ?
			WHERE id = ? AND state = ?
		`, j.ForwardBody, j.SourceEndpointID, j.SourceSlot, j.EndpointID, j.Slot,
			toMillis(j.ReceivedAt), toMillis(j.NextAttemptAt), toMillis(j.UpdatedAt),
			j.ID, model.JobQueued.String())
		return err
	})
}

// ClaimDue moves up to limit due jobs to dispatching and returns them. A job
// is due when its next attempt time has passed and no earlier job of its
// chain is still alive, so each chain dispatches in enqueue order.
func (r *JobsRepositoryImpl) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.DeliveryJob, error) {
	if limit <= 0 {
		limit = 1
	}
	var claimed []model.DeliveryJob
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		var rows []jobRow
		err := tx.SelectContext(ctx, &rows, `
			SELECT `+jobColumns+` FROM delivery_jobs j
			WHERE j.state = ? AND j.next_attempt_ms <= ?
			  AND NOT EXISTS (
			      SELECT 1 FROM delivery_jobs p
			      WHERE p.chain_key = j.chain_key AND p.seq < j.seq
			  )
			ORDER BY j.next_attempt_ms ASC, j.seq ASC
			LIMIT ?
		`, model.JobQueued.String(), toMillis(now), limit)
		if err != nil || len(rows) == 0 {
			return err
		}

		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		q, args, err := sqlx.In(
			`UPDATE delivery_jobs SET state = ?, updated_ms = ? WHERE state = ? AND id IN (?)`,
			model.JobDispatching.String(), toMillis(now), model.JobQueued.String(), ids,
		)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(q), args...); err != nil {
			return err
		}

		claimed = toModels(rows)
		for i := range claimed {
			claimed[i].State = model.JobDispatching
			claimed[i].UpdatedAt = now
		}
		return nil
	})
	return claimed, err
}

// ScheduleRetry returns a dispatching job to queued with a new attempt time.
// It reports false when the job no longer exists (cancelled meanwhile).
func (r *JobsRepositoryImpl) ScheduleRetry(ctx context.Context, tx *sqlx.Tx, id string, retryCount int, next time.Time, lastErr string, now time.Time) (bool, error) {
	var ok bool
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE delivery_jobs
			SET state = ?, retry_count = ?, next_attempt_ms = ?, last_error = ?, updated_ms = ?
			WHERE id = ?
		`, model.JobQueued.String(), retryCount, toMillis(next), lastErr, toMillis(now), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		ok = n > 0
		return err
	})
	return ok, err
}

func (r *JobsRepositoryImpl) Delete(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	var ok bool
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM delivery_jobs WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		ok = n > 0
		return err
	})
	return ok, err
}

// DeleteByTag removes every live job carrying tag and returns their ids.
func (r *JobsRepositoryImpl) DeleteByTag(ctx context.Context, tag string) ([]string, error) {
	var ids []string
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &ids, `SELECT id FROM delivery_jobs WHERE tag = ?`, tag); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM delivery_jobs WHERE tag = ?`, tag)
		return err
	})
	return ids, err
}

func (r *JobsRepositoryImpl) ListPending(ctx context.Context, limit int) ([]model.DeliveryJob, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT `+jobColumns+` FROM delivery_jobs ORDER BY next_attempt_ms ASC, seq ASC LIMIT ?`, limit); err != nil {
		return nil, err
	}
	return toModels(rows), nil
}

// RecoverStale requeues jobs left in dispatching by a process that died
// mid-send. The attempt is not counted.
func (r *JobsRepositoryImpl) RecoverStale(ctx context.Context, updatedBefore, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE delivery_jobs
		SET state = ?, next_attempt_ms = ?, updated_ms = ?
		WHERE state = ? AND updated_ms < ?
	`, model.JobQueued.String(), toMillis(now), toMillis(now), model.JobDispatching.String(), toMillis(updatedBefore))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *JobsRepositoryImpl) CountByState(ctx context.Context) (map[model.JobState]int64, error) {
	var rows []struct {
		State string `db:"state"`
		N     int64  `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT state, COUNT(*) AS n FROM delivery_jobs GROUP BY state`); err != nil {
		return nil, err
	}
	out := make(map[model.JobState]int64, len(rows))
	for _, row := range rows {
		out[model.JobState(row.State)] = row.N
	}
	return out, nil
}
