package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/marketbot/backend/internal/models"
)

// ErrDuplicateEmail is returned when registering with an email that already exists.
var ErrDuplicateEmail = errors.New("email already registered")

// Roles users can hold. Sellers are regular users whose role grant went
// through the approval workflow.
const (
	RoleUser   = "user"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

type Service interface {
	Register(ctx context.Context, email, password, displayName string) (*User, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
}

// UserRepo is the user store interface the service needs.
type UserRepo interface {
	Create(ctx context.Context, email, passwordHash, displayName, role string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, string, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role string) error
	UpdateProfile(ctx context.Context, id uuid.UUID, displayName string) error
}

type service struct {
	repo   UserRepo
	secret []byte
}

func NewService(repo UserRepo, secret string) *service {
	if secret == "" {
		secret = "supersecretdev"
	}
	return &service{repo: repo, secret: []byte(secret)}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func (s *service) Register(ctx context.Context, email, password, displayName string) (*User, error) {
	if email == "" || password == "" || displayName == "" {
		return nil, errors.New("missing required fields")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u, err := s.repo.Create(ctx, email, string(hash), displayName, RoleUser)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return u, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	u, hash, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", errors.New("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", errors.New("invalid credentials")
	}
	return s.issueToken(u.ID, u.Role)
}

func (s *service) issueToken(userID uuid.UUID, role string) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return uuid.Nil, "", err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, "", errors.New("invalid token")
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, "", err
	}
	return id, c.Role, nil
}

func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// rolePayload and profilePayload are the opaque diffs stored on role and
// profile change requests.
type rolePayload struct {
	Role string `json:"role"`
}

type profilePayload struct {
	DisplayName string `json:"display_name"`
}

// ApplyRoleGrant is the applier registered with the approval engine for
// role change requests.
func (s *service) ApplyRoleGrant(ctx context.Context, req models.ChangeRequest) error {
	id, err := uuid.Parse(req.SubjectID)
	if err != nil {
		return fmt.Errorf("bad subject id: %w", err)
	}
	var p rolePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return fmt.Errorf("malformed role payload: %w", err)
	}
	switch p.Role {
	case RoleUser, RoleSeller, RoleAdmin:
	default:
		return fmt.Errorf("unknown role %q", p.Role)
	}
	return s.repo.UpdateRole(ctx, id, p.Role)
}

// ApplyProfileEdit is the applier for profile change requests.
func (s *service) ApplyProfileEdit(ctx context.Context, req models.ChangeRequest) error {
	id, err := uuid.Parse(req.SubjectID)
	if err != nil {
		return fmt.Errorf("bad subject id: %w", err)
	}
	var p profilePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return fmt.Errorf("malformed profile payload: %w", err)
	}
	if p.DisplayName == "" {
		return errors.New("display name cannot be empty")
	}
	return s.repo.UpdateProfile(ctx, id, p.DisplayName)
}
