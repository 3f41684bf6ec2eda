package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hht-diary/authcore/internal/models"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	FindBySponsorAndUsernameFunc func(ctx context.Context, sponsorID, username string) (*models.User, error)
	CreateFunc                   func(ctx context.Context, user *models.User) (*models.User, error)
	IncrementFailedAttemptsFunc  func(ctx context.Context, userID string) (int, error)
	ResetFailedAttemptsFunc      func(ctx context.Context, userID string) error
	SetLockoutFunc               func(ctx context.Context, userID string, until time.Time) error
}

func (m *MockUserRepository) FindBySponsorAndUsername(ctx context.Context, sponsorID, username string) (*models.User, error) {
	if m.FindBySponsorAndUsernameFunc != nil {
		return m.FindBySponsorAndUsernameFunc(ctx, sponsorID, username)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, fmt.Errorf("create not configured")
}

func (m *MockUserRepository) IncrementFailedAttempts(ctx context.Context, userID string) (int, error) {
	if m.IncrementFailedAttemptsFunc != nil {
		return m.IncrementFailedAttemptsFunc(ctx, userID)
	}
	return 1, nil
}

func (m *MockUserRepository) ResetFailedAttempts(ctx context.Context, userID string) error {
	if m.ResetFailedAttemptsFunc != nil {
		return m.ResetFailedAttemptsFunc(ctx, userID)
	}
	return nil
}

func (m *MockUserRepository) SetLockout(ctx context.Context, userID string, until time.Time) error {
	if m.SetLockoutFunc != nil {
		return m.SetLockoutFunc(ctx, userID, until)
	}
	return nil
}

// MockSponsorPatternRepository implements SponsorPatternRepository for testing
type MockSponsorPatternRepository struct {
	GetAllActivePatternsFunc func(ctx context.Context) ([]models.SponsorPattern, error)
	FindBySponsorIDFunc      func(ctx context.Context, sponsorID string) ([]models.SponsorPattern, error)
}

func (m *MockSponsorPatternRepository) GetAllActivePatterns(ctx context.Context) ([]models.SponsorPattern, error) {
	if m.GetAllActivePatternsFunc != nil {
		return m.GetAllActivePatternsFunc(ctx)
	}
	return nil, nil
}

func (m *MockSponsorPatternRepository) FindBySponsorID(ctx context.Context, sponsorID string) ([]models.SponsorPattern, error) {
	if m.FindBySponsorIDFunc != nil {
		return m.FindBySponsorIDFunc(ctx, sponsorID)
	}
	return nil, nil
}

// MockLockoutNotifier implements LockoutNotifier for testing
type MockLockoutNotifier struct {
	mu     sync.Mutex
	Events []models.LockoutEvent
	Err    error
}

func (m *MockLockoutNotifier) NotifyLockout(ctx context.Context, event models.LockoutEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
	return m.Err
}

// InMemoryUserRepository is a stateful UserRepository for flow tests.
// It enforces (SponsorID, Username) uniqueness like the database does.
type InMemoryUserRepository struct {
	mu    sync.Mutex
	users map[string]*models.User // keyed by ID
}

func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{users: make(map[string]*models.User)}
}

func (r *InMemoryUserRepository) FindBySponsorAndUsername(ctx context.Context, sponsorID, username string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.SponsorID == sponsorID && u.Username == username {
			clone := *u
			return &clone, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *InMemoryUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.SponsorID == user.SponsorID && u.Username == user.Username {
			return nil, models.ErrConflict
		}
	}

	created := *user
	created.ID = uuid.NewString()
	created.CreatedAt = time.Now()
	created.UpdatedAt = created.CreatedAt
	r.users[created.ID] = &created

	out := created
	return &out, nil
}

func (r *InMemoryUserRepository) IncrementFailedAttempts(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return 0, models.ErrNotFound
	}
	u.FailedAttempts++
	return u.FailedAttempts, nil
}

func (r *InMemoryUserRepository) ResetFailedAttempts(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return models.ErrNotFound
	}
	u.FailedAttempts = 0
	u.LockedUntil = nil
	return nil
}

func (r *InMemoryUserRepository) SetLockout(ctx context.Context, userID string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return models.ErrNotFound
	}
	u.LockedUntil = &until
	return nil
}

// Get returns a copy of the stored user
func (r *InMemoryUserRepository) Get(userID string) (models.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return models.User{}, false
	}
	return *u, true
}
