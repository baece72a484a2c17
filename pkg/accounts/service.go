package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/voxnote/pkg/auth"
	"github.com/platinummonkey/voxnote/pkg/billing"
	"github.com/platinummonkey/voxnote/pkg/ledger"
	"github.com/platinummonkey/voxnote/pkg/observability"
	"github.com/platinummonkey/voxnote/pkg/plans"
	"github.com/platinummonkey/voxnote/pkg/storage/postgres"
)

var (
	ErrEmailInUse        = errors.New("email already in use")
	ErrUserNotFound      = errors.New("user not found")
	ErrNoBillingCustomer = errors.New("user does not have a billing customer")
)

// Ledger is the part of the subscription ledger accounts needs
type Ledger interface {
	Provision(ctx context.Context, tx *sql.Tx, userID int64, freePlan *plans.Plan, now time.Time) error
	GetEntitlement(ctx context.Context, userID int64) (*ledger.Subscription, error)
}

// Tokens issues access tokens
type Tokens interface {
	Issue(userID int64, email string) (string, time.Time, error)
}

// Service owns user accounts
type Service struct {
	db         *sql.DB
	ledger     Ledger
	plans      plans.Lookup
	tokens     Tokens
	billing    billing.Provider
	bcryptCost int
	now        func() time.Time
	logger     *observability.Logger
}

// Option configures a Service
type Option func(*Service)

// WithBilling enables lazy billing-customer creation
func WithBilling(p billing.Provider) Option {
	return func(s *Service) { s.billing = p }
}

// WithBcryptCost overrides the password hashing cost
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// WithLogger sets the logger for signup and billing customer events
func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates an accounts service
func NewService(db *sql.DB, l Ledger, lookup plans.Lookup, tokens Tokens, opts ...Option) *Service {
	s := &Service{
		db:         db,
		ledger:     l,
		plans:      lookup,
		tokens:     tokens,
		bcryptCost: auth.DefaultBcryptCost,
		now:        time.Now,
		logger:     observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Signup creates the user and its free-plan subscription in one transaction
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*auth.User, error) {
	req = req.normalized()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	freePlan, err := s.plans.ByType(ctx, plans.PlanTypeFree)
	if err != nil {
		return nil, fmt.Errorf("failed to load free plan: %w", err)
	}

	hash, err := auth.HashPassword(req.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &auth.User{Name: req.Name, Email: req.Email, PasswordHash: hash, CreatedAt: now}

	err = postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO users (name, email, password_hash, created_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`
		if err := tx.QueryRowContext(ctx, query, user.Name, user.Email, user.PasswordHash, user.CreatedAt).Scan(&user.ID); err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrEmailInUse
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		return s.ledger.Provision(ctx, tx, user.ID, freePlan, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", user.ID).Info("User signed up")
	return user, nil
}

// Login checks the credentials and issues an access token
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.userByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		return nil, auth.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		return nil, err
	}

	token, expires, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, UserID: user.ID, ExpiresAt: expires}, nil
}

// Profile returns the user with its subscription and plan
func (s *Service) Profile(ctx context.Context, userID int64) (*Profile, error) {
	user, err := s.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	sub, err := s.ledger.GetEntitlement(ctx, userID)
	if err != nil {
		return nil, err
	}
	return newProfile(user, sub), nil
}

// User loads a user by id
func (s *Service) User(ctx context.Context, userID int64) (*auth.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, userID))
}

// BillingCustomer returns the user's billing customer handle, or
// ErrNoBillingCustomer when none was created yet
func (s *Service) BillingCustomer(ctx context.Context, userID int64) (string, error) {
	user, err := s.User(ctx, userID)
	if err != nil {
		return "", err
	}
	if !user.HasBillingCustomer() {
		return "", ErrNoBillingCustomer
	}
	return *user.BillingCustomerHandle, nil
}

// EnsureBillingCustomer returns the user's billing customer, creating it on
// first use. Two concurrent first checkouts may both create a customer at the
// provider; only the first stored handle is kept and returned to both.
func (s *Service) EnsureBillingCustomer(ctx context.Context, userID int64) (string, error) {
	user, err := s.User(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.HasBillingCustomer() {
		return *user.BillingCustomerHandle, nil
	}
	if s.billing == nil {
		return "", fmt.Errorf("%w: billing is not configured", billing.ErrProviderFailure)
	}

	handle, err := s.billing.CreateCustomer(ctx, user.Email, user.Name)
	if err != nil {
		return "", err
	}

	query := `
		UPDATE users SET billing_customer_handle = $2
		WHERE id = $1 AND billing_customer_handle IS NULL
	`
	res, err := s.db.ExecContext(ctx, query, userID, handle)
	if err != nil {
		return "", fmt.Errorf("failed to store billing customer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.WithFields(map[string]interface{}{
			"user_id":  userID,
			"customer": handle,
		}).Warn("Billing customer already set, discarding new one")
		return s.BillingCustomer(ctx, userID)
	}
	return handle, nil
}

// UserIDByBillingCustomer resolves a billing customer handle to a user
func (s *Service) UserIDByBillingCustomer(ctx context.Context, handle string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE billing_customer_handle = $1`, handle).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up billing customer: %w", err)
	}
	return id, true, nil
}

func (s *Service) userByEmail(ctx context.Context, email string) (*auth.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

const userColumns = `id, name, email, password_hash, billing_customer_handle, created_at`

func scanUser(row *sql.Row) (*auth.User, error) {
	var (
		u      auth.User
		handle sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &handle, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if handle.Valid {
		u.BillingCustomerHandle = &handle.String
	}
	return &u, nil
}
