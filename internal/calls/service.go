package calls

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call records.
// It is append-only; no Update/Delete methods are provided.
type Repository interface {
	Insert(ctx context.Context, c Call) error
	List(ctx context.Context, from, to time.Time) ([]Call, error)
}

var ErrInvalidCall = errors.New("calls: invalid call record")

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Record stores a finished session outcome.
func (s *Service) Record(ctx context.Context, c Call) error {
	if s.repo == nil {
		return errors.New("calls: repository not configured")
	}
	if c.WidgetID == "" || !c.Status.Valid() {
		return ErrInvalidCall
	}
	if c.DurationSeconds < 0 {
		return ErrInvalidCall
	}

	now := s.clock().UTC()
	if c.CallID == "" {
		c.CallID = uuid.NewString()
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = now
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	return s.repo.Insert(ctx, c)
}

func (s *Service) List(ctx context.Context, from, to time.Time) ([]Call, error) {
	if s.repo == nil {
		return nil, errors.New("calls: repository not configured")
	}
	return s.repo.List(ctx, from, to)
}
