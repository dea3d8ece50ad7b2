package reporting

import (
	"context"
	"errors"
	"time"

	"voiceai-agency/internal/calls"

	"github.com/samber/lo"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts read access to call records.
type Repository interface {
	List(ctx context.Context, from, to time.Time) ([]calls.Call, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if !req.Range.Valid() {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.List(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Range: req.Range, TotalCalls: len(rows)}
	for _, c := range rows {
		switch c.Status {
		case calls.CallStatusCompleted:
			out.CompletedCalls++
		case calls.CallStatusFailed:
			out.FailedCalls++
		}
		out.TotalDurationSeconds += c.DurationSeconds
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}

	failed := lo.Filter(rows, func(c calls.Call, _ int) bool {
		return c.Status == calls.CallStatusFailed && c.Error != ""
	})
	out.FailureReasons = lo.CountValuesBy(failed, func(c calls.Call) string { return c.Error })
	return out, nil
}
