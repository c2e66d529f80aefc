package user

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/user/entity"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Verify fails closed: an empty or malformed hash never verifies.
func (b BcryptHasher) Verify(hash, pw string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Store is the persistence contract of the user directory. Implementations
// report missing users as apperror NotFound and rejected rows as
// BadRequest wrapping entity.ErrDuplicateUser or entity.ErrInvalidUser.
type Store interface {
	Create(ctx context.Context, u *entity.User) (*entity.Profile, error)
	PasswordHash(ctx context.Context, username string) (string, error)
	TouchLogin(ctx context.Context, username string) (*entity.LoginStamp, error)
	List(ctx context.Context) ([]entity.Summary, error)
	Get(ctx context.Context, username string) (*entity.Profile, error)
	ListSent(ctx context.Context, username string) ([]entity.SentMessage, error)
	ListReceived(ctx context.Context, username string) ([]entity.ReceivedMessage, error)
}

// UserService is the user directory: registration, authentication, lookup
// and per-user message listings.
type UserService struct {
	store  Store
	hasher PasswordHasher
}

func NewUserService(store Store, hasher PasswordHasher) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	return &UserService{store: store, hasher: hasher}
}

// RegisterInput is the validated registration payload.
type RegisterInput struct {
	Username  string `json:"username" validate:"required,max=64,excludesall=/"`
	Password  string `json:"password" validate:"required,max=72"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Phone     string `json:"phone" validate:"required,max=32"`
}

// Register stores a new user with a hashed password and returns its
// profile. The plaintext password is never persisted.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*entity.Profile, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, apperror.New(apperror.BadRequest, "username is required")
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, apperror.Wrap(apperror.BadRequest, err, "password too long")
		}
		return nil, err
	}
	return s.store.Create(ctx, &entity.User{
		Username:     username,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
	})
}

// Authenticate reports whether username exists and password matches its
// stored hash. An unknown user is (false, nil); store failures are errors.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (bool, error) {
	hash, err := s.store.PasswordHash(ctx, username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if hash == "" {
		return false, nil
	}
	return s.hasher.Verify(hash, password), nil
}

// RecordLogin refreshes last_login_at.
func (s *UserService) RecordLogin(ctx context.Context, username string) (*entity.LoginStamp, error) {
	return s.store.TouchLogin(ctx, username)
}

// ListAll returns {username, first_name, last_name} for every user. Order
// carries no meaning.
func (s *UserService) ListAll(ctx context.Context) ([]entity.Summary, error) {
	return s.store.List(ctx)
}

func (s *UserService) GetProfile(ctx context.Context, username string) (*entity.Profile, error) {
	return s.store.Get(ctx, username)
}

func (s *UserService) ListSent(ctx context.Context, username string) ([]entity.SentMessage, error) {
	return s.store.ListSent(ctx, username)
}

func (s *UserService) ListReceived(ctx context.Context, username string) ([]entity.ReceivedMessage, error) {
	return s.store.ListReceived(ctx, username)
}
