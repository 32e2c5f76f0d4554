package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/parleyhq/parley/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrAlreadyExists indicates the email or username is already registered.
	ErrAlreadyExists = errors.New("users: account already exists")
	// ErrInvalidCredentials indicates the email/password pair does not match
	// any account. It is deliberately distinct from storage failures so a
	// database outage is never reported as a bad login.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrInvalidInput indicates a blank or unusable registration field.
	ErrInvalidInput = errors.New("users: invalid input")
	// ErrNotFound indicates no account exists for the requested id.
	ErrNotFound = errors.New("users: account not found")

	errMissingDatabase = errors.New("users: database handle is required")
	errMissingTokens   = errors.New("users: token issuer is required")
)

// TokenIssuer abstracts bearer token issuance for authenticated accounts.
type TokenIssuer interface {
	Issue(identity auth.Identity) (string, time.Time, error)
}

// AuthSession is returned to a client after registration or login.
type AuthSession struct {
	Token     string
	Username  string
	Email     string
	ExpiresAt time.Time
}

// ServiceConfig describes the dependencies of the account service.
type ServiceConfig struct {
	Database *gorm.DB
	Tokens   TokenIssuer
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages account registration and credential verification.
type Service struct {
	db     *gorm.DB
	tokens TokenIssuer
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Tokens == nil {
		return nil, errMissingTokens
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, tokens: cfg.Tokens, clock: clock, logger: logger}, nil
}

// Register creates a new account and returns a signed session for it.
// Duplicate email or username yields ErrAlreadyExists with no side effects.
func (s *Service) Register(ctx context.Context, username, email, password string) (AuthSession, error) {
	username = normalize(username)
	email = normalizeEmail(email)
	if username == "" || email == "" || password == "" {
		return AuthSession{}, fmt.Errorf("%w: username, email, and password are required", ErrInvalidInput)
	}

	var count int64
	err := s.db.WithContext(ctx).
		Model(&User{}).
		Where("email = ? OR username = ?", email, username).
		Count(&count).
		Error
	if err != nil {
		return AuthSession{}, fmt.Errorf("users: lookup existing account: %w", err)
	}
	if count > 0 {
		return AuthSession{}, ErrAlreadyExists
	}

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return AuthSession{}, fmt.Errorf("users: hash password: %w", err)
	}

	account := User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return AuthSession{}, ErrAlreadyExists
		}
		return AuthSession{}, fmt.Errorf("users: create account: %w", err)
	}

	s.logger.Info("account registered", zap.String("user_id", account.ID), zap.String("username", account.Username))
	return s.issueSession(account)
}

// Login verifies the email/password pair, stamps the last login time, and
// returns a signed session.
func (s *Service) Login(ctx context.Context, email, password string) (AuthSession, error) {
	email = normalizeEmail(email)

	var account User
	err := s.db.WithContext(ctx).
		Where("email = ?", email).
		First(&account).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AuthSession{}, ErrInvalidCredentials
	}
	if err != nil {
		return AuthSession{}, fmt.Errorf("users: lookup account: %w", err)
	}

	if !auth.VerifyPassword(password, account.PasswordHash) {
		return AuthSession{}, ErrInvalidCredentials
	}

	now := s.clock().UTC()
	if err := s.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", account.ID).
		Update("last_login_at", now).
		Error; err != nil {
		s.logger.Warn("last login stamp failed", zap.String("user_id", account.ID), zap.Error(err))
	}

	return s.issueSession(account)
}

// Get returns the account for the given id.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	var account User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	if err != nil {
		return User{}, fmt.Errorf("users: lookup account: %w", err)
	}
	return account, nil
}

// EnsureSeedAccount registers the account if it does not exist yet. Used to
// provision an initial operator login on first start.
func (s *Service) EnsureSeedAccount(ctx context.Context, username, email, password string) error {
	_, err := s.Register(ctx, username, email, password)
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("seed account created", zap.String("email", normalizeEmail(email)))
	return nil
}

func (s *Service) issueSession(account User) (AuthSession, error) {
	token, expiresAt, err := s.tokens.Issue(auth.Identity{
		ID:    account.ID,
		Name:  account.Username,
		Email: account.Email,
	})
	if err != nil {
		return AuthSession{}, fmt.Errorf("users: issue token: %w", err)
	}
	return AuthSession{
		Token:     token,
		Username:  account.Username,
		Email:     account.Email,
		ExpiresAt: expiresAt,
	}, nil
}
