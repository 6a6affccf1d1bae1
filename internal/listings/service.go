package listings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/marketbot/backend/internal/models"
)

var ErrNotSeller = errors.New("listing does not belong to this seller")

// ChangeSubmitter opens a publication review request.
type ChangeSubmitter interface {
	Submit(ctx context.Context, kind models.ChangeType, subjectID string, payload json.RawMessage) (*models.ChangeRequest, error)
}

type Service struct {
	repo    *Repository
	changes ChangeSubmitter
}

func NewService(repo *Repository, changes ChangeSubmitter) *Service {
	return &Service{repo: repo, changes: changes}
}

var slugSanitize = regexp.MustCompile(`[^a-z0-9-]+`)

func slugFromTitle(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = strings.ReplaceAll(s, " ", "-")
	s = slugSanitize.ReplaceAllString(s, "")
	if s == "" {
		s = "listing"
	}
	return s + "-" + uuid.New().String()[:8]
}

func (s *Service) Create(ctx context.Context, sellerID uuid.UUID, title, description string, price models.Money) (*Listing, error) {
	if title == "" {
		return nil, errors.New("title required")
	}
	if !price.Positive() {
		return nil, errors.New("price must be positive")
	}
	l := &Listing{
		ID:          uuid.New(),
		SellerID:    sellerID,
		Title:       title,
		Slug:        slugFromTitle(title),
		Description: description,
		PriceMinor:  price.Amount,
		Currency:    price.Currency,
		Status:      StatusDraft,
	}
	if err := s.repo.Create(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// publishPayload is the opaque diff stored on a listing change request.
type publishPayload struct {
	Title string `json:"title"`
}

// SubmitForPublication moves a draft into review and opens the approval
// request an admin will act on.
func (s *Service) SubmitForPublication(ctx context.Context, listingID, sellerID uuid.UUID) (*models.ChangeRequest, error) {
	l, err := s.repo.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.SellerID != sellerID {
		return nil, ErrNotSeller
	}
	if err := s.repo.UpdateStatusFrom(ctx, listingID, StatusPendingReview, StatusDraft); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("listing is %s, only drafts can be submitted", l.Status)
		}
		return nil, err
	}
	payload, _ := json.Marshal(publishPayload{Title: l.Title})
	return s.changes.Submit(ctx, models.ChangeListing, listingID.String(), payload)
}

// ApplyPublish is the applier registered with the approval engine for
// listing change requests.
func (s *Service) ApplyPublish(ctx context.Context, req models.ChangeRequest) error {
	id, err := uuid.Parse(req.SubjectID)
	if err != nil {
		return fmt.Errorf("bad subject id: %w", err)
	}
	err = s.repo.UpdateStatusFrom(ctx, id, StatusActive, StatusPendingReview, StatusDraft)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already active or archived; publishing is idempotent.
		return nil
	}
	return err
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Listing, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListActive(ctx context.Context) ([]*Listing, error) {
	return s.repo.ListActive(ctx)
}
