package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shiftdrop/internal/db"
	"shiftdrop/internal/domain"
)

// Repo persists pools, members and shifts. Read methods take a db.Queryer so
// they can run inside the caller's transaction.
type Repo struct {
	DB *db.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConcurrencyConflict means the shift changed since it was loaded.
	ErrConcurrencyConflict = errors.New("concurrency conflict: shift was modified by another request")
)

func (r Repo) q(query string) string { return r.DB.Dialect.Rebind(query) }

func (r Repo) InsertPool(ctx context.Context, tx *sql.Tx, p domain.Pool) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO pools(id,name,created_at) VALUES (?,?,?)`),
		p.ID, p.Name, db.FormatTime(p.CreatedAt))
	return err
}

func (r Repo) GetPool(ctx context.Context, q db.Queryer, id string) (domain.Pool, error) {
	var p domain.Pool
	var createdAt string
	err := q.QueryRowContext(ctx, r.q(`SELECT id,name,created_at FROM pools WHERE id=?`), id).Scan(&p.ID, &p.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return p, err
	}
	p.CreatedAt, err = db.ParseTime(createdAt)
	return p, err
}

func (r Repo) ListPools(ctx context.Context) ([]domain.Pool, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM pools ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Pool
	for rows.Next() {
		var p domain.Pool
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r Repo) InsertAdmin(ctx context.Context, tx *sql.Tx, a domain.PoolAdmin) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO pool_admins(id,pool_id,name,phone,created_at) VALUES (?,?,?,?,?)`),
		a.ID, a.PoolID, a.Name, a.Phone, db.FormatTime(a.CreatedAt))
	return err
}

func (r Repo) ListAdmins(ctx context.Context, q db.Queryer, poolID string) ([]domain.PoolAdmin, error) {
	rows, err := q.QueryContext(ctx, r.q(`SELECT id,pool_id,name,phone,created_at FROM pool_admins WHERE pool_id=? ORDER BY created_at, id`), poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PoolAdmin
	for rows.Next() {
		var a domain.PoolAdmin
		var createdAt string
		if err := rows.Scan(&a.ID, &a.PoolID, &a.Name, &a.Phone, &createdAt); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r Repo) InsertCasual(ctx context.Context, tx *sql.Tx, c *domain.Casual) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO casuals(id,pool_id,name,phone,created_at) VALUES (?,?,?,?,?)`),
		c.ID, c.PoolID, c.Name, c.Phone, db.FormatTime(c.CreatedAt))
	return err
}

func (r Repo) GetCasual(ctx context.Context, q db.Queryer, id string) (*domain.Casual, error) {
	var c domain.Casual
	var createdAt string
	err := q.QueryRowContext(ctx, r.q(`SELECT id,pool_id,name,phone,created_at FROM casuals WHERE id=?`), id).
		Scan(&c.ID, &c.PoolID, &c.Name, &c.Phone, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("casual %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if c.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r Repo) ListCasuals(ctx context.Context, q db.Queryer, poolID string) ([]*domain.Casual, error) {
	rows, err := q.QueryContext(ctx, r.q(`SELECT id,pool_id,name,phone,created_at FROM casuals WHERE pool_id=? ORDER BY created_at, id`), poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Casual
	for rows.Next() {
		var c domain.Casual
		var createdAt string
		if err := rows.Scan(&c.ID, &c.PoolID, &c.Name, &c.Phone, &createdAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
