package repo

import (
	"context"
	"database/sql"
	"fmt"

	"shiftdrop/internal/db"
	"shiftdrop/internal/domain"
)

const shiftColumns = `id,pool_id,description,starts_at,ends_at,spots_needed,spots_remaining,status,version,created_at`

func (r Repo) InsertShift(ctx context.Context, tx *sql.Tx, s *domain.Shift) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO shifts(`+shiftColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`),
		s.ID, s.PoolID, s.Description, db.FormatTime(s.StartsAt), db.FormatTime(s.EndsAt),
		s.SpotsNeeded, s.SpotsRemaining, string(s.Status), s.Version, db.FormatTime(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert shift: %w", err)
	}
	return r.saveClaims(ctx, tx, s)
}

// GetShift loads the shift with its full claim history.
func (r Repo) GetShift(ctx context.Context, q db.Queryer, id string) (*domain.Shift, error) {
	rows, err := q.QueryContext(ctx, r.q(`SELECT `+shiftColumns+` FROM shifts WHERE id=?`), id)
	if err != nil {
		return nil, err
	}
	shifts, err := scanShifts(rows)
	if err != nil {
		return nil, err
	}
	if len(shifts) == 0 {
		return nil, fmt.Errorf("shift %s: %w", id, ErrNotFound)
	}
	s := shifts[0]
	if s.Claims, err = r.claimsFor(ctx, q, s.ID); err != nil {
		return nil, err
	}
	return s, nil
}

// ListShifts returns the pool's shifts ordered by start time.
func (r Repo) ListShifts(ctx context.Context, q db.Queryer, poolID string) ([]*domain.Shift, error) {
	rows, err := q.QueryContext(ctx, r.q(`SELECT `+shiftColumns+` FROM shifts WHERE pool_id=? ORDER BY starts_at, id`), poolID)
	if err != nil {
		return nil, err
	}
	shifts, err := scanShifts(rows)
	if err != nil {
		return nil, err
	}
	for _, s := range shifts {
		if s.Claims, err = r.claimsFor(ctx, q, s.ID); err != nil {
			return nil, err
		}
	}
	return shifts, nil
}

// SaveShift writes s back if nobody saved it since it was loaded, then bumps s.Version.
func (r Repo) SaveShift(ctx context.Context, tx *sql.Tx, s *domain.Shift) error {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE shifts SET description=?, spots_remaining=?, status=?, version=version+1
		WHERE id=? AND version=?`),
		s.Description, s.SpotsRemaining, string(s.Status), s.ID, s.Version)
	if err != nil {
		return fmt.Errorf("update shift: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConcurrencyConflict
	}
	s.Version++
	return r.saveClaims(ctx, tx, s)
}

// saveClaims updates known claims before inserting new ones so a released
// claim frees the active slot before a reclaim takes it.
func (r Repo) saveClaims(ctx context.Context, tx *sql.Tx, s *domain.Shift) error {
	if len(s.Claims) == 0 {
		return nil
	}
	existing := map[string]bool{}
	rows, err := tx.QueryContext(ctx, r.q(`SELECT id FROM claims WHERE shift_id=?`), s.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		existing[id] = true
	}
	if err := rows.Close(); err != nil {
		return err
	}
	var fresh []*domain.Claim
	for _, c := range s.Claims {
		if !existing[c.ID] {
			fresh = append(fresh, c)
			continue
		}
		if _, err := tx.ExecContext(ctx, r.q(`UPDATE claims SET status=?, released_at=? WHERE id=?`),
			string(c.Status), db.NullTime(c.ReleasedAt), c.ID); err != nil {
			return fmt.Errorf("update claim %s: %w", c.ID, err)
		}
	}
	for _, c := range fresh {
		if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO claims(id,shift_id,casual_id,status,claimed_at,released_at) VALUES (?,?,?,?,?,?)`),
			c.ID, c.ShiftID, c.CasualID, string(c.Status), db.FormatTime(c.ClaimedAt), db.NullTime(c.ReleasedAt)); err != nil {
			return fmt.Errorf("insert claim %s: %w", c.ID, err)
		}
	}
	return nil
}

func (r Repo) claimsFor(ctx context.Context, q db.Queryer, shiftID string) ([]*domain.Claim, error) {
	rows, err := q.QueryContext(ctx, r.q(`SELECT id,shift_id,casual_id,status,claimed_at,released_at FROM claims
		WHERE shift_id=? ORDER BY claimed_at, id`), shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Claim
	for rows.Next() {
		var c domain.Claim
		var status, claimedAt string
		var releasedAt sql.NullString
		if err := rows.Scan(&c.ID, &c.ShiftID, &c.CasualID, &status, &claimedAt, &releasedAt); err != nil {
			return nil, err
		}
		c.Status = domain.ClaimStatus(status)
		if c.ClaimedAt, err = db.ParseTime(claimedAt); err != nil {
			return nil, err
		}
		if c.ReleasedAt, err = db.ParseNullTime(releasedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ActiveClaimsForCasual lists the casual's active claims across shifts.
func (r Repo) ActiveClaimsForCasual(ctx context.Context, q db.Queryer, casualID string) ([]*domain.Claim, error) {
	rows, err := q.QueryContext(ctx, r.q(`SELECT id,shift_id,casual_id,status,claimed_at,released_at FROM claims
		WHERE casual_id=? AND status=? ORDER BY claimed_at, id`), casualID, string(domain.ClaimActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Claim
	for rows.Next() {
		var c domain.Claim
		var status, claimedAt string
		var releasedAt sql.NullString
		if err := rows.Scan(&c.ID, &c.ShiftID, &c.CasualID, &status, &claimedAt, &releasedAt); err != nil {
			return nil, err
		}
		c.Status = domain.ClaimStatus(status)
		if c.ClaimedAt, err = db.ParseTime(claimedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func scanShifts(rows *sql.Rows) ([]*domain.Shift, error) {
	defer rows.Close()
	var out []*domain.Shift
	for rows.Next() {
		var s domain.Shift
		var status, startsAt, endsAt, createdAt string
		if err := rows.Scan(&s.ID, &s.PoolID, &s.Description, &startsAt, &endsAt, &s.SpotsNeeded,
			&s.SpotsRemaining, &status, &s.Version, &createdAt); err != nil {
			return nil, err
		}
		s.Status = domain.ShiftStatus(status)
		var err error
		if s.StartsAt, err = db.ParseTime(startsAt); err != nil {
			return nil, err
		}
		if s.EndsAt, err = db.ParseTime(endsAt); err != nil {
			return nil, err
		}
		if s.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
