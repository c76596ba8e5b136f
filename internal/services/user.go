package services

import (
	"context"
	"errors"
	"strings"

	"github.com/notezilla/apiserver/internal/metrics"
	"github.com/notezilla/apiserver/internal/store"
	"github.com/notezilla/apiserver/types"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// MaxAPICalls is the number of quota-tracked calls each user may make.
const MaxAPICalls = 20

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	List(ctx context.Context) ([]types.User, error)
	ConsumeAPICall(ctx context.Context, id, limit int) (int, bool, error)
}

// UserService encapsulates account and quota use-cases.
type UserService struct {
	repo       UserRepository
	bcryptCost int
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo, bcryptCost: bcrypt.DefaultCost}
}

// WithBcryptCost overrides the hashing cost, mainly so tests run fast.
func (s *UserService) WithBcryptCost(cost int) *UserService {
	s.bcryptCost = cost
	return s
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) List(ctx context.Context) ([]types.User, error) {
	return s.repo.List(ctx)
}

// Register hashes password and stores user. A taken email, compared
// case-insensitively, yields store.ErrConflict.
func (s *UserService) Register(ctx context.Context, user types.User, password string) (types.User, error) {
	user.Email = strings.TrimSpace(user.Email)
	if _, err := s.repo.GetByEmail(ctx, user.Email); err == nil {
		return types.User{}, store.ErrConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return types.User{}, err
	}
	user.PasswordHash = string(hashed)
	if user.Role == "" {
		user.Role = types.RoleUser
	}

	return s.repo.Create(ctx, user)
}

// Authenticate returns the user matching email and password.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (types.User, error) {
	user, err := s.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// ConsumeAPICall spends one of the user's tracked calls. The check and the
// increment happen in a single statement, so concurrent calls never push the
// count past MaxAPICalls.
func (s *UserService) ConsumeAPICall(ctx context.Context, userID int) (types.Usage, error) {
	calls, ok, err := s.repo.ConsumeAPICall(ctx, userID, MaxAPICalls)
	if err != nil {
		return types.Usage{}, err
	}
	if !ok {
		metrics.RecordQuotaRejection()
		return types.Usage{}, &QuotaExceededError{Current: calls, Max: MaxAPICalls}
	}
	return Usage(calls), nil
}

// Usage describes the quota state for a user who has made calls calls.
func Usage(calls int) types.Usage {
	remaining := MaxAPICalls - calls
	if remaining < 0 {
		remaining = 0
	}
	return types.Usage{Total: calls, Remaining: remaining}
}

// EnsureAdmin creates the administrator account unless the email is taken.
func (s *UserService) EnsureAdmin(ctx context.Context, email, password string) error {
	_, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	_, err = s.Register(ctx, types.User{
		FirstName: "Admin",
		LastName:  "User",
		Email:     email,
		Role:      types.RoleAdmin,
	}, password)
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().Str("email", email).Msg("seeded admin account")
	return nil
}
