package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"shiftdrop/internal/clock"
	"shiftdrop/internal/config"
	"shiftdrop/internal/db"
	"shiftdrop/internal/domain"
	"shiftdrop/internal/notify"
	"shiftdrop/internal/outbox"
	"shiftdrop/internal/repo"
)

// Engine runs each request as one transaction: load aggregates, apply the
// operation, enqueue the notifications it obliges, commit.
type Engine struct {
	DB     *db.DB
	Repo   repo.Repo
	Outbox *outbox.Store
	Config *config.Config
	Clock  clock.Clock

	// beforeSave runs after a shift is loaded and changed, just before its versioned save.
	beforeSave func(ctx context.Context, tx *sql.Tx, shiftID string) error
}

func New(conn *db.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Outbox: outbox.NewStore(conn),
		Config: cfg,
		Clock:  clock.System{},
	}
}

func (e Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock.Now()
	}
	return time.Now().UTC()
}

func (e Engine) link(parts ...string) string {
	base := strings.TrimRight(e.Config.Links.BaseURL, "/")
	return base + "/" + strings.Join(parts, "/")
}

func (e Engine) enqueue(ctx context.Context, tx *sql.Tx, p notify.Payload, reference string, now time.Time) error {
	m, err := outbox.NewMessage(p, reference, now)
	if err != nil {
		return err
	}
	return e.Outbox.Enqueue(ctx, tx, m)
}

func (e Engine) saveShift(ctx context.Context, tx *sql.Tx, s *domain.Shift) error {
	if e.beforeSave != nil {
		if err := e.beforeSave(ctx, tx, s.ID); err != nil {
			return err
		}
	}
	return e.Repo.SaveShift(ctx, tx, s)
}

func describe(s *domain.Shift) string {
	when := s.StartsAt.Format("Mon 2 Jan 15:04")
	if s.Description == "" {
		return when
	}
	return fmt.Sprintf("%s (%s)", s.Description, when)
}

func (e Engine) CreatePool(ctx context.Context, name string) (domain.Pool, error) {
	p, err := domain.NewPool(uuid.NewString(), name, e.now())
	if err != nil {
		return domain.Pool{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Pool{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPool(ctx, tx, p); err != nil {
		return domain.Pool{}, fmt.Errorf("insert pool: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Pool{}, err
	}
	return p, nil
}

// AddCasual registers a casual and sends them an invite to verify their number.
func (e Engine) AddCasual(ctx context.Context, poolID, name, phone string) (*domain.Casual, error) {
	now := e.now()
	c, err := domain.NewCasual(uuid.NewString(), poolID, name, phone, now)
	if err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	pool, err := e.Repo.GetPool(ctx, tx, poolID)
	if err != nil {
		return nil, err
	}
	if err := e.Repo.InsertCasual(ctx, tx, c); err != nil {
		return nil, fmt.Errorf("insert casual: %w", err)
	}
	invite := notify.InviteNotice{
		ParticipantID:   c.ID,
		Recipient:       c.Phone,
		ParticipantName: c.Name,
		PoolName:        pool.Name,
		VerifyURL:       e.link("casuals", c.ID, "verify"),
	}
	if err := e.enqueue(ctx, tx, invite, c.ID, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

func (e Engine) AddAdmin(ctx context.Context, poolID, name, phone string) (domain.PoolAdmin, error) {
	now := e.now()
	a, err := domain.NewPoolAdmin(uuid.NewString(), poolID, name, phone, now)
	if err != nil {
		return domain.PoolAdmin{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PoolAdmin{}, err
	}
	defer tx.Rollback()
	pool, err := e.Repo.GetPool(ctx, tx, poolID)
	if err != nil {
		return domain.PoolAdmin{}, err
	}
	if err := e.Repo.InsertAdmin(ctx, tx, a); err != nil {
		return domain.PoolAdmin{}, fmt.Errorf("insert admin: %w", err)
	}
	invite := notify.AdminInviteNotice{
		AdminID:   a.ID,
		Recipient: a.Phone,
		AdminName: a.Name,
		PoolName:  pool.Name,
		AcceptURL: e.link("admins", a.ID, "accept"),
	}
	if err := e.enqueue(ctx, tx, invite, a.ID, now); err != nil {
		return domain.PoolAdmin{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PoolAdmin{}, err
	}
	return a, nil
}

// PostShiftOptions are parameters for posting a shift.
type PostShiftOptions struct {
	PoolID      string
	Description string
	StartsAt    time.Time
	EndsAt      time.Time
	SpotsNeeded int
}

// PostShift creates an open shift and broadcasts it to every casual in the pool.
func (e Engine) PostShift(ctx context.Context, opts PostShiftOptions) (*domain.Shift, error) {
	now := e.now()
	s, err := domain.NewShift(uuid.NewString(), opts.PoolID, opts.Description, opts.StartsAt.UTC(), opts.EndsAt.UTC(), opts.SpotsNeeded, now)
	if err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetPool(ctx, tx, opts.PoolID); err != nil {
		return nil, err
	}
	if err := e.Repo.InsertShift(ctx, tx, s); err != nil {
		return nil, err
	}
	casuals, err := e.Repo.ListCasuals(ctx, tx, opts.PoolID)
	if err != nil {
		return nil, err
	}
	notificationID := uuid.NewString()
	for _, c := range casuals {
		msg := notify.ShiftBroadcast{
			NotificationID: notificationID,
			Recipient:      c.Phone,
			Description:    describe(s),
			ActionURL:      e.link("shifts", s.ID),
		}
		if err := e.enqueue(ctx, tx, msg, s.ID, now); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s, nil
}

// ClaimResult is the shift after the operation and the claim it touched.
type ClaimResult struct {
	Shift *domain.Shift `json:"shift"`
	Claim *domain.Claim `json:"claim"`
}

// loadForCasual reads the shift and the casual inside tx and links the casual
// to its claims on that shift.
func (e Engine) loadForCasual(ctx context.Context, tx *sql.Tx, shiftID, casualID string) (*domain.Shift, *domain.Casual, error) {
	s, err := e.Repo.GetShift(ctx, tx, shiftID)
	if err != nil {
		return nil, nil, err
	}
	c, err := e.Repo.GetCasual(ctx, tx, casualID)
	if err != nil {
		return nil, nil, err
	}
	c.Claims = s.ClaimsFor(c.ID)
	return s, c, nil
}

// ClaimShift takes a spot for the casual and confirms it by message.
func (e Engine) ClaimShift(ctx context.Context, shiftID, casualID string) (ClaimResult, error) {
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ClaimResult{}, err
	}
	defer tx.Rollback()
	s, c, err := e.loadForCasual(ctx, tx, shiftID, casualID)
	if err != nil {
		return ClaimResult{}, err
	}
	claim, err := c.ClaimShift(s, now)
	if err != nil {
		return ClaimResult{}, err
	}
	if err := e.saveShift(ctx, tx, s); err != nil {
		return ClaimResult{}, err
	}
	confirm := notify.ClaimConfirmation{
		ClaimID:     claim.ID,
		Recipient:   c.Phone,
		Description: describe(s),
	}
	if err := e.enqueue(ctx, tx, confirm, s.ID, now); err != nil {
		return ClaimResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{Shift: s, Claim: claim}, nil
}

// ReleaseShift gives up the casual's own claim.
func (e Engine) ReleaseShift(ctx context.Context, shiftID, casualID string) (ClaimResult, error) {
	return e.release(ctx, shiftID, casualID, func(s *domain.Shift, c *domain.Casual, now time.Time) (*domain.Claim, error) {
		return c.ReleaseShift(s, now)
	})
}

// ManagerRelease frees a casual's claim on behalf of a pool admin.
func (e Engine) ManagerRelease(ctx context.Context, shiftID, casualID string) (ClaimResult, error) {
	return e.release(ctx, shiftID, casualID, func(s *domain.Shift, c *domain.Casual, now time.Time) (*domain.Claim, error) {
		return s.ManagerRelease(c.ID, now)
	})
}

type releaseFunc func(s *domain.Shift, c *domain.Casual, now time.Time) (*domain.Claim, error)

func (e Engine) release(ctx context.Context, shiftID, casualID string, fn releaseFunc) (ClaimResult, error) {
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ClaimResult{}, err
	}
	defer tx.Rollback()
	s, c, err := e.loadForCasual(ctx, tx, shiftID, casualID)
	if err != nil {
		return ClaimResult{}, err
	}
	wasFilled := s.Status == domain.ShiftFilled
	claim, err := fn(s, c, now)
	if err != nil {
		return ClaimResult{}, err
	}
	if err := e.saveShift(ctx, tx, s); err != nil {
		return ClaimResult{}, err
	}
	if wasFilled && s.Status == domain.ShiftOpen {
		if err := e.broadcastReopened(ctx, tx, s, c.ID, now); err != nil {
			return ClaimResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{Shift: s, Claim: claim}, nil
}

// broadcastReopened tells pool casuals without a spot that one is free again.
func (e Engine) broadcastReopened(ctx context.Context, tx *sql.Tx, s *domain.Shift, releasedBy string, now time.Time) error {
	casuals, err := e.Repo.ListCasuals(ctx, tx, s.PoolID)
	if err != nil {
		return err
	}
	notificationID := uuid.NewString()
	for _, c := range casuals {
		if c.ID == releasedBy || s.ActiveClaimFor(c.ID) != nil {
			continue
		}
		msg := notify.ShiftReopened{
			NotificationID: notificationID,
			Recipient:      c.Phone,
			Description:    describe(s),
			ActionURL:      e.link("shifts", s.ID),
		}
		if err := e.enqueue(ctx, tx, msg, s.ID, now); err != nil {
			return err
		}
	}
	return nil
}

// CancelShift closes the shift for good. Pending notices about it are
// withdrawn and casuals holding a spot are told. Repeat calls change nothing.
func (e Engine) CancelShift(ctx context.Context, shiftID string) (*domain.Shift, error) {
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetShift(ctx, tx, shiftID)
	if err != nil {
		return nil, err
	}
	if !s.Cancel() {
		return s, nil
	}
	if err := e.saveShift(ctx, tx, s); err != nil {
		return nil, err
	}
	if _, err := e.Outbox.CancelByReference(ctx, tx, s.ID, now); err != nil {
		return nil, err
	}
	notificationID := uuid.NewString()
	for _, claim := range s.ActiveClaims() {
		c, err := e.Repo.GetCasual(ctx, tx, claim.CasualID)
		if err != nil {
			return nil, err
		}
		msg := notify.ShiftCancelled{
			NotificationID: notificationID,
			Recipient:      c.Phone,
			Description:    describe(s),
		}
		if err := e.enqueue(ctx, tx, msg, s.ID, now); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s, nil
}

func (e Engine) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	return e.Repo.GetShift(ctx, e.DB, id)
}

func (e Engine) ListShifts(ctx context.Context, poolID string) ([]*domain.Shift, error) {
	if _, err := e.Repo.GetPool(ctx, e.DB, poolID); err != nil {
		return nil, err
	}
	return e.Repo.ListShifts(ctx, e.DB, poolID)
}

func (e Engine) ListPools(ctx context.Context) ([]domain.Pool, error) {
	return e.Repo.ListPools(ctx)
}

func (e Engine) ListCasuals(ctx context.Context, poolID string) ([]*domain.Casual, error) {
	if _, err := e.Repo.GetPool(ctx, e.DB, poolID); err != nil {
		return nil, err
	}
	return e.Repo.ListCasuals(ctx, e.DB, poolID)
}

// CasualClaims lists the casual's active claims.
func (e Engine) CasualClaims(ctx context.Context, casualID string) ([]*domain.Claim, error) {
	if _, err := e.Repo.GetCasual(ctx, e.DB, casualID); err != nil {
		return nil, err
	}
	return e.Repo.ActiveClaimsForCasual(ctx, e.DB, casualID)
}
