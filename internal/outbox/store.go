package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"shiftdrop/internal/db"
)

var ErrNotFound = errors.New("outbox message not found")

const messageColumns = `id,message_type,payload,status,reference,created_at,processed_at,retry_count,next_retry_at,last_error`

// Store persists outbox messages.
type Store struct {
	DB *db.DB
}

func NewStore(conn *db.DB) *Store {
	return &Store{DB: conn}
}

func (s *Store) q(query string) string { return s.DB.Dialect.Rebind(query) }

// Enqueue writes m inside the caller's transaction.
func (s *Store) Enqueue(ctx context.Context, tx *sql.Tx, m Message) error {
	if m.Status == "" {
		m.Status = StatusPending
	}
	_, err := tx.ExecContext(ctx, s.q(`INSERT INTO outbox_messages(`+messageColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`),
		m.ID, m.MessageType, string(m.Payload), string(m.Status), db.Nullable(m.Reference), db.FormatTime(m.CreatedAt),
		db.NullTime(m.ProcessedAt), m.RetryCount, db.NullTime(m.NextRetryAt), db.Nullable(m.LastError))
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", m.MessageType, err)
	}
	return nil
}

// FetchReady returns up to limit Pending messages due at now, oldest first.
func (s *Store) FetchReady(ctx context.Context, now time.Time, limit int) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx, s.q(`SELECT `+messageColumns+` FROM outbox_messages
		WHERE status=? AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at, id LIMIT ?`), string(StatusPending), db.FormatTime(now), limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func (s *Store) Get(ctx context.Context, id string) (Message, error) {
	rows, err := s.DB.QueryContext(ctx, s.q(`SELECT `+messageColumns+` FROM outbox_messages WHERE id=?`), id)
	if err != nil {
		return Message{}, err
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return Message{}, err
	}
	if len(msgs) == 0 {
		return Message{}, ErrNotFound
	}
	return msgs[0], nil
}

// Cancel moves a Pending message to Cancelled. It reports false when the
// message was already Sent, Failed or Cancelled.
func (s *Store) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.DB.ExecContext(ctx, s.q(`UPDATE outbox_messages SET status=?, processed_at=?, next_retry_at=NULL WHERE id=? AND status=?`),
		string(StatusCancelled), db.FormatTime(now), id, string(StatusPending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return false, err
		}
	}
	return n > 0, nil
}

// CancelByReference cancels every Pending message about reference within tx.
func (s *Store) CancelByReference(ctx context.Context, tx *sql.Tx, reference string, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, s.q(`UPDATE outbox_messages SET status=?, processed_at=?, next_retry_at=NULL WHERE reference=? AND status=?`),
		string(StatusCancelled), db.FormatTime(now), reference, string(StatusPending))
	if err != nil {
		return 0, fmt.Errorf("cancel messages for %s: %w", reference, err)
	}
	return res.RowsAffected()
}

// SaveOutcomes persists worker results in one transaction. Rows that are no
// longer Pending (cancelled meanwhile) are left alone; the count applied is returned.
func (s *Store) SaveOutcomes(ctx context.Context, msgs []Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	applied := 0
	for _, m := range msgs {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE outbox_messages
			SET status=?, processed_at=?, retry_count=?, next_retry_at=?, last_error=?
			WHERE id=? AND status=?`),
			string(m.Status), db.NullTime(m.ProcessedAt), m.RetryCount, db.NullTime(m.NextRetryAt), db.Nullable(m.LastError),
			m.ID, string(StatusPending))
		if err != nil {
			return 0, fmt.Errorf("save outcome %s: %w", m.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		applied += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return applied, nil
}

type ListFilter struct {
	Status    Status
	Reference string
	Limit     int
}

// List returns messages newest first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]Message, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, string(f.Status))
	}
	if f.Reference != "" {
		where = append(where, "reference=?")
		args = append(args, f.Reference)
	}
	query := `SELECT ` + messageColumns + ` FROM outbox_messages`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)
	rows, err := s.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// Stats counts messages per status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM outbox_messages GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[Status]int{StatusPending: 0, StatusSent: 0, StatusFailed: 0, StatusCancelled: 0}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}

// Purge deletes finished messages processed before cutoff.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, s.q(`DELETE FROM outbox_messages
		WHERE status IN (?,?,?) AND processed_at IS NOT NULL AND processed_at < ?`),
		string(StatusSent), string(StatusFailed), string(StatusCancelled), db.FormatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		var payload, status, createdAt string
		var reference, processedAt, nextRetryAt, lastError sql.NullString
		if err := rows.Scan(&m.ID, &m.MessageType, &payload, &status, &reference, &createdAt,
			&processedAt, &m.RetryCount, &nextRetryAt, &lastError); err != nil {
			return nil, err
		}
		m.Payload = []byte(payload)
		m.Status = Status(status)
		m.Reference = reference.String
		m.LastError = lastError.String
		var err error
		if m.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, err
		}
		if m.ProcessedAt, err = db.ParseNullTime(processedAt); err != nil {
			return nil, err
		}
		if m.NextRetryAt, err = db.ParseNullTime(nextRetryAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
