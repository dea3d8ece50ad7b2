package calls

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestService_RecordValidates(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Record(context.Background(), Call{Status: CallStatusCompleted}); !errors.Is(err, ErrInvalidCall) {
		t.Fatalf("expected ErrInvalidCall without widget id, got %v", err)
	}
	if err := svc.Record(context.Background(), Call{WidgetID: "w", Status: "ringing"}); !errors.Is(err, ErrInvalidCall) {
		t.Fatalf("expected ErrInvalidCall for unknown status, got %v", err)
	}
	if err := svc.Record(context.Background(), Call{WidgetID: "w", Status: CallStatusFailed, DurationSeconds: -1}); !errors.Is(err, ErrInvalidCall) {
		t.Fatalf("expected ErrInvalidCall for negative duration, got %v", err)
	}
}

func TestService_RecordFillsDefaults(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	now := time.Unix(1700000000, 0).UTC()
	svc.clock = func() time.Time { return now }

	if err := svc.Record(context.Background(), Call{WidgetID: "w1", Status: CallStatusCompleted, DurationSeconds: 42}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	got := repo.Calls()
	if len(got) != 1 {
		t.Fatalf("expected 1 call, got %d", len(got))
	}
	if got[0].CallID == "" {
		t.Fatalf("expected generated call id")
	}
	if !got[0].CreatedAt.Equal(now) || !got[0].StartedAt.Equal(now) {
		t.Fatalf("expected timestamps from clock, got %+v", got[0])
	}
}

func TestMemoryRepo_ListHalfOpenRange(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	_ = repo.Insert(context.Background(), Call{CallID: "a", CreatedAt: now})
	_ = repo.Insert(context.Background(), Call{CallID: "b", CreatedAt: now.Add(time.Hour)})

	out, err := repo.List(context.Background(), now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(out) != 1 || out[0].CallID != "a" {
		t.Fatalf("expected only call a, got %+v", out)
	}
}
