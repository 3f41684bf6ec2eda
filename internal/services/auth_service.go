package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hht-diary/authcore/internal/auth"
	"github.com/hht-diary/authcore/internal/models"
	pkgauth "github.com/hht-diary/authcore/pkg/auth"
	pkglogger "github.com/hht-diary/authcore/pkg/logger"
)

const (
	DefaultLockoutThreshold     = 5
	DefaultLockoutDuration      = 15 * time.Minute
	DefaultLockoutNotifyTimeout = 3 * time.Second
)

// UserRepository is the user store the orchestrator consumes.
// IncrementFailedAttempts must be atomic and return the new count.
type UserRepository interface {
	FindBySponsorAndUsername(ctx context.Context, sponsorID, username string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	IncrementFailedAttempts(ctx context.Context, userID string) (int, error)
	ResetFailedAttempts(ctx context.Context, userID string) error
	SetLockout(ctx context.Context, userID string, until time.Time) error
}

// LockoutNotifier is told when an account gets locked
type LockoutNotifier interface {
	NotifyLockout(ctx context.Context, event models.LockoutEvent) error
}

// LockoutConfig controls account lockout after repeated failures
type LockoutConfig struct {
	Threshold     int
	Duration      time.Duration
	NotifyTimeout time.Duration // Upper bound the notifier may add to a failed login
}

// DefaultLockoutConfig returns 5 failures / 15 minutes
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		Threshold:     DefaultLockoutThreshold,
		Duration:      DefaultLockoutDuration,
		NotifyTimeout: DefaultLockoutNotifyTimeout,
	}
}

// RegisterInput is a self-enrollment request. Either LinkingCode or SponsorID
// identifies the sponsor; LinkingCode wins when both are set.
type RegisterInput struct {
	LinkingCode string
	SponsorID   string
	Username    string
	Password    string
}

// LoginInput is a password login within one sponsor.
type LoginInput struct {
	LinkingCode   string
	SponsorID     string
	Username      string
	Password      string
	AppUUID       string
	ClientAddress string
}

// LoginResult is returned by Login and Refresh
type LoginResult struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int // seconds
	Identity    models.Identity
}

// AuthService handles authentication business logic
type AuthService struct {
	repo        UserRepository
	sponsors    *SponsorService
	limiter     *RateLimiter
	verifier    *pkgauth.CredentialVerifier
	tokens      *auth.TokenService
	lockout     LockoutConfig
	notifier    LockoutNotifier
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	env         string
	now         func() time.Time

	// Used to spend the same KDF work when the user does not exist
	dummySalt   []byte
	dummyDigest []byte
}

// NewAuthService creates a new AuthService
func NewAuthService(
	repo UserRepository,
	sponsors *SponsorService,
	limiter *RateLimiter,
	verifier *pkgauth.CredentialVerifier,
	tokens *auth.TokenService,
	lockout LockoutConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	env string,
) *AuthService {
	if lockout.Threshold <= 0 {
		lockout.Threshold = DefaultLockoutThreshold
	}
	if lockout.Duration <= 0 {
		lockout.Duration = DefaultLockoutDuration
	}
	if lockout.NotifyTimeout <= 0 {
		lockout.NotifyTimeout = DefaultLockoutNotifyTimeout
	}

	dummySalt := make([]byte, pkgauth.SaltLength)
	return &AuthService{
		repo:        repo,
		sponsors:    sponsors,
		limiter:     limiter,
		verifier:    verifier,
		tokens:      tokens,
		lockout:     lockout,
		notifier:    noopLockoutNotifier{},
		logger:      logger,
		auditLogger: auditLogger,
		env:         env,
		now:         time.Now,
		dummySalt:   dummySalt,
		dummyDigest: verifier.Hash("unused-dummy-password", dummySalt),
	}
}

// SetLockoutNotifier replaces the lockout notifier. nil disables notifications.
func (s *AuthService) SetLockoutNotifier(n LockoutNotifier) {
	if n == nil {
		n = noopLockoutNotifier{}
	}
	s.notifier = n
}

// SetClock replaces the time source used for lockout decisions. Intended for tests.
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
}

// RateLimitKey builds the limiter key for one login identity.
// Sponsor is part of the key so equal usernames under different sponsors
// behind the same address do not share a budget.
func RateLimitKey(sponsorID, clientAddress, username string) string {
	return sponsorID + ":" + clientAddress + ":" + username
}

// Register creates a new user under the resolved sponsor
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	username := normalizeUsername(input.Username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", models.ErrBadRequest)
	}

	sponsor, err := s.resolveSponsor(ctx, input.LinkingCode, input.SponsorID)
	if err != nil {
		return nil, err
	}

	if err := pkgauth.ValidatePassword(input.Password); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrWeakPassword, err)
	}

	// Check if user already exists
	_, err = s.repo.FindBySponsorAndUsername(ctx, sponsor.ID, username)
	if err == nil {
		s.logger.Info("registration failed: username taken", slog.String("sponsor_id", sponsor.ID))
		return nil, models.ErrDuplicateUser
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check if user exists", slog.String("sponsor_id", sponsor.ID), slog.Any("error", err))
		return nil, unavailable("find user", err)
	}

	salt, err := pkgauth.GenerateSalt()
	if err != nil {
		s.logger.Error("failed to generate salt", slog.Any("error", err))
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	user := &models.User{
		SponsorID:    sponsor.ID,
		Username:     username,
		PasswordHash: s.verifier.Hash(input.Password, salt),
		Salt:         salt,
		Status:       models.UserStatusActive,
		Role:         "participant",
	}

	created, err := s.repo.Create(ctx, user)
	if err != nil {
		// A concurrent registration can win the unique constraint
		if errors.Is(err, models.ErrConflict) {
			s.logger.Info("registration failed: username taken", slog.String("sponsor_id", sponsor.ID))
			return nil, models.ErrDuplicateUser
		}
		s.logger.Error("failed to create user", slog.String("sponsor_id", sponsor.ID), slog.Any("error", err))
		return nil, unavailable("create user", err)
	}

	s.logger.Info("user registered", slog.String("user_id", created.ID), slog.String("sponsor_id", sponsor.ID))
	s.auditLogger.LogAccountAction("user_registered", created.ID, sponsor.ID, nil)

	return created, nil
}

// Login authenticates a user within a sponsor and issues a token.
//
// Order: sponsor resolution, rate limit, user load, lockout, password,
// failure counter. A rate-limited attempt never touches the user record.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	username := normalizeUsername(input.Username)
	if username == "" || strings.TrimSpace(input.AppUUID) == "" {
		return nil, models.ErrInvalidCredentials
	}

	sponsor, err := s.resolveSponsor(ctx, input.LinkingCode, input.SponsorID)
	if err != nil {
		return nil, err
	}

	audit := pkglogger.AuditEvent{
		EventType: "login_failed",
		SponsorID: sponsor.ID,
		Username:  username,
		IPAddress: input.ClientAddress,
	}

	key := RateLimitKey(sponsor.ID, input.ClientAddress, username)
	if !s.limiter.CheckLimit(key) {
		wait, _ := s.limiter.GetTimeUntilReset(key)
		s.logger.Warn("login rate limited", slog.String("sponsor_id", sponsor.ID), s.usernameAttr(username))
		audit.FailureReason = "rate_limited"
		s.auditLogger.LogAuthAttempt(audit)
		return nil, &models.ThrottledError{Err: models.ErrRateLimited, RetryAfter: wait}
	}

	user, err := s.repo.FindBySponsorAndUsername(ctx, sponsor.ID, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.verifier.Verify(input.Password, s.dummyDigest, s.dummySalt)
			s.logger.Info("login failed: invalid credentials", slog.String("sponsor_id", sponsor.ID), s.usernameAttr(username))
			audit.FailureReason = "invalid_credentials"
			s.auditLogger.LogAuthAttempt(audit)
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to load user", slog.String("sponsor_id", sponsor.ID), slog.Any("error", err))
		return nil, unavailable("find user", err)
	}
	audit.UserID = user.ID

	now := s.now()
	if user.IsLocked(now) {
		s.logger.Info("login blocked: account locked", slog.String("user_id", user.ID))
		audit.FailureReason = "account_locked"
		s.auditLogger.LogAuthAttempt(audit)
		return nil, &models.ThrottledError{Err: models.ErrAccountLocked, RetryAfter: user.LockedUntil.Sub(now)}
	}

	// An expired lock starts a fresh failure sequence
	if user.LockedUntil != nil {
		if err := s.repo.ResetFailedAttempts(ctx, user.ID); err != nil {
			s.logger.Error("failed to clear expired lockout", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, unavailable("reset failed attempts", err)
		}
		user.FailedAttempts = 0
		user.LockedUntil = nil
	}

	if !s.verifier.Verify(input.Password, user.PasswordHash, user.Salt) {
		return nil, s.recordFailure(ctx, user, input.ClientAddress, audit)
	}

	if user.Status != models.UserStatusActive {
		s.logger.Info("login blocked due to account state",
			slog.String("user_id", user.ID),
			slog.String("status", user.Status))
		audit.FailureReason = "account_inactive"
		s.auditLogger.LogAuthAttempt(audit)
		return nil, models.ErrInvalidCredentials
	}

	if user.FailedAttempts > 0 {
		if err := s.repo.ResetFailedAttempts(ctx, user.ID); err != nil {
			s.logger.Error("failed to reset failed attempts", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, unavailable("reset failed attempts", err)
		}
	}

	identity := models.Identity{
		Subject:    user.ID,
		Username:   user.Username,
		SponsorID:  sponsor.ID,
		SponsorURL: sponsor.URL,
		AppUUID:    strings.TrimSpace(input.AppUUID),
		Role:       user.Role,
	}

	token, err := s.tokens.Issue(identity)
	if err != nil {
		s.logger.Error("failed to issue token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID), slog.String("sponsor_id", sponsor.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		SponsorID: sponsor.ID,
		IPAddress: input.ClientAddress,
		Success:   true,
	})

	return newLoginResult(token, identity), nil
}

// Refresh exchanges a valid token for a new one. No rate limiting and no
// user-record access.
func (s *AuthService) Refresh(ctx context.Context, token string) (*LoginResult, error) {
	refreshed, err := s.tokens.Refresh(strings.TrimSpace(token))
	if err != nil {
		s.logger.Info("token refresh rejected")
		return nil, models.ErrInvalidToken
	}

	claims, err := s.tokens.Verify(refreshed)
	if err != nil {
		s.logger.Error("refreshed token failed verification", slog.Any("error", err))
		return nil, models.ErrInvalidToken
	}

	s.logger.Info("token refreshed", slog.String("user_id", claims.Subject))
	return newLoginResult(refreshed, claims.Identity()), nil
}

// recordFailure bumps the failure counter and locks the account at the threshold.
func (s *AuthService) recordFailure(ctx context.Context, user *models.User, clientAddress string, audit pkglogger.AuditEvent) error {
	count, err := s.repo.IncrementFailedAttempts(ctx, user.ID)
	if err != nil {
		s.logger.Error("failed to increment failed attempts", slog.String("user_id", user.ID), slog.Any("error", err))
		return unavailable("increment failed attempts", err)
	}

	s.logger.Info("login failed: invalid credentials", slog.String("user_id", user.ID), slog.Int("failed_attempts", count))
	audit.FailureReason = "invalid_credentials"
	s.auditLogger.LogAuthAttempt(audit)

	if count < s.lockout.Threshold {
		return models.ErrInvalidCredentials
	}

	until := s.now().Add(s.lockout.Duration)
	if err := s.repo.SetLockout(ctx, user.ID, until); err != nil {
		s.logger.Error("failed to lock account", slog.String("user_id", user.ID), slog.Any("error", err))
		return unavailable("set lockout", err)
	}

	s.logger.Warn("account locked", slog.String("user_id", user.ID), slog.Time("locked_until", until))
	s.auditLogger.LogLockout(user.ID, user.SponsorID, clientAddress, count, until)

	event := models.LockoutEvent{
		UserID:         user.ID,
		SponsorID:      user.SponsorID,
		Username:       user.Username,
		FailedAttempts: count,
		LockedUntil:    until,
		ClientAddress:  clientAddress,
	}
	// The alert outlives a cancelled request but may not stall the response
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lockout.NotifyTimeout)
	defer cancel()
	if err := s.notifier.NotifyLockout(notifyCtx, event); err != nil {
		// The lock is already persisted; a lost notification does not change the outcome
		s.logger.Error("failed to send lockout notification", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	return models.ErrInvalidCredentials
}

func (s *AuthService) resolveSponsor(ctx context.Context, linkingCode, sponsorID string) (models.Sponsor, error) {
	if strings.TrimSpace(linkingCode) != "" {
		return s.sponsors.ResolveLinkingCode(ctx, linkingCode)
	}
	return s.sponsors.ResolveSponsorID(ctx, sponsorID)
}

func newLoginResult(token string, identity models.Identity) *LoginResult {
	return &LoginResult{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(auth.TokenLifetime / time.Second),
		Identity:    identity,
	}
}

// usernameAttr logs the username in full outside production only
func (s *AuthService) usernameAttr(username string) slog.Attr {
	return pkglogger.RedactedAttr("username", username, s.env)
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrRepositoryUnavailable, op, err)
}

type noopLockoutNotifier struct{}

func (noopLockoutNotifier) NotifyLockout(context.Context, models.LockoutEvent) error { return nil }
