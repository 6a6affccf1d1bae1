package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/marketbot/backend/internal/models"
	"github.com/marketbot/backend/internal/repository"
)

var (
	ErrNotFound         = errors.New("change request not found")
	ErrAlreadyResolved  = errors.New("change request already resolved")
	ErrDuplicatePending = errors.New("an unresolved request already exists for this subject")
	ErrNoApplier        = errors.New("no applier registered for change type")
	ErrNotAdmin         = errors.New("resolver is not an admin")
)

// RequestRepo is the pending-change store interface.
type RequestRepo interface {
	Create(ctx context.Context, c *models.ChangeRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ChangeRequest, error)
	Resolve(ctx context.Context, id uuid.UUID, status string, resolvedBy uuid.UUID, reason string) (bool, error)
	List(ctx context.Context, f repository.ChangeFilter, limit, offset int) ([]*models.ChangeRequest, error)
}

// Applier performs the domain-specific effect of an approved change. The
// engine is agnostic to what "applying" a role grant vs. a listing publish
// means; it only guarantees the applier runs at most once per request.
type Applier func(ctx context.Context, req models.ChangeRequest) error

type Notifier interface {
	Notify(ctx context.Context, recipientID uuid.UUID, text string)
}

// Service is the generic propose -> notify -> approve/reject -> apply-once
// workflow shared by role grants, profile edits, listing publication and
// escrow dispute resolution.
type Service struct {
	repo     RequestRepo
	appliers map[models.ChangeType]Applier
	admins   map[uuid.UUID]bool
	notifier Notifier
	log      *slog.Logger
}

func NewService(repo RequestRepo, admins map[uuid.UUID]bool, notifier Notifier, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:     repo,
		appliers: make(map[models.ChangeType]Applier),
		admins:   admins,
		notifier: notifier,
		log:      log,
	}
}

// RegisterApplier wires the type-specific effect. Called once per change
// type at startup; appliers registered later would race Approve.
func (s *Service) RegisterApplier(kind models.ChangeType, fn Applier) {
	s.appliers[kind] = fn
}

// Submit opens a pending request. At most one unresolved request may exist
// per (kind, subject); the store's unique constraint enforces that and a
// violation surfaces as ErrDuplicatePending.
func (s *Service) Submit(ctx context.Context, kind models.ChangeType, subjectID string, payload json.RawMessage) (*models.ChangeRequest, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject id required")
	}
	req := &models.ChangeRequest{
		ID:        uuid.New(),
		Kind:      kind,
		SubjectID: subjectID,
		Payload:   payload,
		Status:    models.ChangePending,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicatePending
		}
		return nil, err
	}
	if s.notifier != nil {
		for admin := range s.admins {
			s.notifier.Notify(ctx, admin, fmt.Sprintf("New %s change request for %s awaits review", kind, subjectID))
		}
	}
	return req, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.ChangeRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return req, nil
}

// Approve runs the registered applier for the request's type exactly once,
// then marks the request approved. The apply-then-mark ordering plus the
// pending-status guard is what prevents double application on a repeated
// call: the second call sees a resolved request and stops before applying.
func (s *Service) Approve(ctx context.Context, id, adminID uuid.UUID) error {
	if !s.admins[adminID] {
		return ErrNotAdmin
	}
	req, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if req.Resolved() {
		return ErrAlreadyResolved
	}
	applier, ok := s.appliers[req.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoApplier, req.Kind)
	}

	applied := *req
	applied.ResolvedBy = &adminID
	if err := applier(ctx, applied); err != nil {
		return fmt.Errorf("apply %s change: %w", req.Kind, err)
	}

	ok, err = s.repo.Resolve(ctx, id, models.ChangeApproved, adminID, "")
	if err != nil {
		return err
	}
	if !ok {
		// Lost a race after applying; the winner resolved it. Benign for
		// idempotent appliers, worth a trace either way.
		s.log.Warn("change request resolved concurrently", "request_id", id)
		return ErrAlreadyResolved
	}
	return nil
}

// Reject marks the request rejected and never touches the target entity.
func (s *Service) Reject(ctx context.Context, id, adminID uuid.UUID, reason string) error {
	if !s.admins[adminID] {
		return ErrNotAdmin
	}
	ok, err := s.repo.Resolve(ctx, id, models.ChangeRejected, adminID, reason)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyResolved
	}
	return nil
}

// List returns requests newest first.
func (s *Service) List(ctx context.Context, f repository.ChangeFilter, limit, offset int) ([]*models.ChangeRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.List(ctx, f, limit, offset)
}
