package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/V4T54L/scanalyzer/internal/domain"
	"github.com/V4T54L/scanalyzer/internal/domain/mocks"
)

func TestFeedAdminUseCase_Validation(t *testing.T) {
	uc := NewFeedAdminUseCase(&mocks.MockFeedAdmin{})
	ctx := context.Background()

	tests := []struct {
		name  string
		field string
		call  func() error
	}{
		{"Consumers Without Group", "group", func() error { _, err := uc.Consumers(ctx, ""); return err }},
		{"Pending Without Group", "group", func() error { _, err := uc.Pending(ctx, ""); return err }},
		{"Page Too Large", "count", func() error { _, err := uc.PendingAlerts(ctx, "g", "", "", 5000); return err }},
		{"Negative Page", "count", func() error { _, err := uc.DeadAlerts(ctx, -1); return err }},
		{"Claim Without Consumer", "consumer", func() error { _, err := uc.Claim(ctx, "g", "", time.Minute, []string{"1-0"}); return err }},
		{"Claim Without IDs", "message_ids", func() error { _, err := uc.Claim(ctx, "g", "c", time.Minute, nil); return err }},
		{"Claim Negative Idle", "min_idle_time", func() error { _, err := uc.Claim(ctx, "g", "c", -time.Second, []string{"1-0"}); return err }},
		{"Ack Without IDs", "message_ids", func() error { _, err := uc.Acknowledge(ctx, "g"); return err }},
		{"Negative Trim", "maxlen", func() error { _, err := uc.Trim(ctx, domain.FeedStream, -1); return err }},
		{"Unknown Stream", "stream", func() error { _, err := uc.Trim(ctx, "logs", 10); return err }},
		{"Requeue Without IDs", "message_ids", func() error { _, err := uc.Requeue(ctx); return err }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			var se *domain.SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("expected SchemaError, got %v", err)
			}
			if se.Field != tc.field {
				t.Errorf("expected field %q, got %q", tc.field, se.Field)
			}
		})
	}
}

func TestFeedAdminUseCase_Requeue(t *testing.T) {
	admin := &mocks.MockFeedAdmin{Dead: []domain.DeadAlert{
		{ID: "1-0", Alert: domain.AlertMessage{Record: domain.PersistedRecord{ID: "r1"}}},
		{ID: "2-0", Alert: domain.AlertMessage{Record: domain.PersistedRecord{ID: "r2"}}},
	}}
	uc := NewFeedAdminUseCase(admin)

	moved, err := uc.Requeue(context.Background(), "2-0", "9-0")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if moved != 1 {
		t.Errorf("expected 1 alert moved, got %d", moved)
	}
	if len(admin.Feed) != 1 || admin.Feed[0].Record.ID != "r2" {
		t.Errorf("expected r2 back on the feed, got %+v", admin.Feed)
	}
	if len(admin.Dead) != 1 || admin.Dead[0].ID != "1-0" {
		t.Errorf("expected 1-0 to stay dead-lettered, got %+v", admin.Dead)
	}
}

func TestFeedAdminUseCase_Defaults(t *testing.T) {
	admin := &mocks.MockFeedAdmin{}
	uc := NewFeedAdminUseCase(admin)

	if _, err := uc.Trim(context.Background(), domain.DLQStream, 0); err != nil {
		t.Fatalf("expected zero maxlen to be accepted, got %v", err)
	}
	if admin.Trimmed[domain.DLQStream] != 0 {
		t.Errorf("expected dlq trimmed to 0, got %v", admin.Trimmed)
	}

	admin.Err = errors.New("redis down")
	if _, err := uc.Overview(context.Background()); !errors.Is(err, admin.Err) {
		t.Errorf("expected store error to pass through, got %v", err)
	}
}
