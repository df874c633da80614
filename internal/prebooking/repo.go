package prebooking

import (
	"context"
	"fmt"
	"time"

	"github.com/example/box-scheduler/internal/db"
)

// Repo persists intents. Every status change is a conditional update on the
// expected prior status, so concurrent writers cannot both win.
type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

const intentCols = `id,user_email,fingerprint,box_id,box_subdomain,box_aimharder_id,class_id,class_day,class_time,class_name,available_at,status,dispatch_handle,last_attempt_at,fired_at,latency_ms,booking_id,error_code,error_message,executed_by,email_sent,created_at,updated_at`

func scanIntent(row db.Row) (Intent, error) {
	var i Intent
	var status string
	err := row.Scan(&i.ID, &i.UserEmail, &i.Fingerprint, &i.BoxID, &i.BoxSubdomain, &i.BoxAimharderID,
		&i.ClassID, &i.ClassDay, &i.ClassTime, &i.ClassName, &i.AvailableAt, &status, &i.DispatchHandle,
		&i.LastAttemptAt, &i.FiredAt, &i.LatencyMS, &i.BookingID, &i.ErrorCode, &i.ErrorMessage, &i.ExecutedBy,
		&i.EmailSent, &i.CreatedAt, &i.UpdatedAt)
	i.Status = Status(status)
	return i, err
}

func insert(ctx context.Context, tx db.Tx, i Intent) error {
	return tx.Exec(ctx, `
INSERT INTO prebookings(id,user_email,fingerprint,box_id,box_subdomain,box_aimharder_id,class_id,class_day,class_time,class_name,available_at,status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,'pending')`,
		i.ID, i.UserEmail, i.Fingerprint, i.BoxID, i.BoxSubdomain, i.BoxAimharderID,
		i.ClassID, i.ClassDay, i.ClassTime, i.ClassName, i.AvailableAt)
}

// CreateScheduled inserts a pending intent and attaches the handle returned by
// schedule, all in one transaction. If schedule fails nothing is persisted.
func (r *Repo) CreateScheduled(ctx context.Context, i Intent, schedule func(Intent) (string, error)) (Intent, error) {
	err := r.db.InTx(ctx, func(tx db.Tx) error {
		if err := insert(ctx, tx, i); err != nil {
			return fmt.Errorf("insert prebooking: %w", err)
		}
		handle, err := schedule(i)
		if err != nil {
			return err
		}
		if err := tx.Exec(ctx, `UPDATE prebookings SET dispatch_handle=$2, updated_at=now() WHERE id=$1`, i.ID, handle); err != nil {
			return fmt.Errorf("attach dispatch handle: %w", err)
		}
		i.DispatchHandle = &handle
		return nil
	})
	if err != nil {
		return Intent{}, err
	}
	i.Status = StatusPending
	return i, nil
}

func (r *Repo) Get(ctx context.Context, id string) (Intent, error) {
	i, err := scanIntent(r.db.QueryRow(ctx, `SELECT `+intentCols+` FROM prebookings WHERE id=$1`, id))
	if err != nil {
		if db.IsNotFound(err) {
			return Intent{}, ErrNotFound
		}
		return Intent{}, fmt.Errorf("get prebooking: %w", err)
	}
	return i, nil
}

func (r *Repo) ListByUser(ctx context.Context, email string, limit int) ([]Intent, error) {
	rows, err := r.db.Query(ctx, `SELECT `+intentCols+` FROM prebookings WHERE user_email=$1 ORDER BY created_at DESC LIMIT $2`, email, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Intent
	for rows.Next() {
		i, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// DuePending returns pending intents with available_at <= until, earliest first.
func (r *Repo) DuePending(ctx context.Context, until time.Time, limit int) ([]Intent, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+intentCols+`
FROM prebookings
WHERE status='pending' AND available_at <= $1
ORDER BY available_at ASC, created_at ASC
LIMIT $2`, until, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Intent
	for rows.Next() {
		i, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// CountDuePending is used to report how much a sweep left behind.
func (r *Repo) CountDuePending(ctx context.Context, until time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM prebookings WHERE status='pending' AND available_at <= $1`, until).Scan(&n)
	return n, err
}

// Claim moves pending -> firing. ErrConflict means another invocation owns it
// or it is no longer pending.
func (r *Repo) Claim(ctx context.Context, id string, src Source) error {
	n, err := r.db.ExecRows(ctx, `
UPDATE prebookings SET status='firing', executed_by=$2, last_attempt_at=now(), updated_at=now()
WHERE id=$1 AND status='pending'`, id, string(src))
	if err != nil {
		return fmt.Errorf("claim prebooking: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// Finish records the terminal outcome of a claimed intent.
func (r *Repo) Finish(ctx context.Context, id string, o Outcome) error {
	return r.terminal(ctx, id, StatusFiring, o)
}

// FailPending fails an intent that never got claimed (e.g. its session is gone).
func (r *Repo) FailPending(ctx context.Context, id string, o Outcome) error {
	o.Status = StatusFailed
	return r.terminal(ctx, id, StatusPending, o)
}

func (r *Repo) terminal(ctx context.Context, id string, from Status, o Outcome) error {
	if !o.Status.Terminal() {
		return fmt.Errorf("finish prebooking: %q is not terminal", o.Status)
	}
	latency := int(o.Latency / time.Millisecond)
	n, err := r.db.ExecRows(ctx, `
UPDATE prebookings
SET status=$3, executed_by=COALESCE(executed_by, NULLIF($4,'')), last_attempt_at=now(), fired_at=$5,
    latency_ms=NULLIF($6,0), booking_id=NULLIF($7,''), error_code=NULLIF($8,''), error_message=NULLIF($9,''), updated_at=now()
WHERE id=$1 AND status=$2`,
		id, string(from), string(o.Status), string(o.Source), o.FiredAt, latency, o.BookingID, o.ErrorCode, o.ErrorMessage)
	if err != nil {
		return fmt.Errorf("finish prebooking: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// NoteAttempt stamps an attempt that left the intent pending (e.g. out of budget).
func (r *Repo) NoteAttempt(ctx context.Context, id, code, msg string) error {
	return r.db.Exec(ctx, `
UPDATE prebookings SET last_attempt_at=now(), error_code=$2, error_message=$3, updated_at=now()
WHERE id=$1 AND status='pending'`, id, code, msg)
}

func (r *Repo) MarkNotified(ctx context.Context, id string) error {
	return r.db.Exec(ctx, `UPDATE prebookings SET email_sent=true, updated_at=now() WHERE id=$1`, id)
}

// Cancel moves pending -> cancelled and returns the dispatch handle to revoke.
func (r *Repo) Cancel(ctx context.Context, id string) (string, error) {
	var handle *string
	err := r.db.QueryRow(ctx, `
UPDATE prebookings SET status='cancelled', updated_at=now()
WHERE id=$1 AND status='pending'
RETURNING dispatch_handle`, id).Scan(&handle)
	if err != nil {
		if db.IsNotFound(err) {
			if _, gerr := r.Get(ctx, id); gerr != nil {
				return "", gerr
			}
			return "", ErrConflict
		}
		return "", fmt.Errorf("cancel prebooking: %w", err)
	}
	if handle == nil {
		return "", nil
	}
	return *handle, nil
}
