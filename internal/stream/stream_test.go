package stream

import (
	"context"
	"testing"
	"time"

	"switchboard.dev/internal/journal"
	"switchboard.dev/internal/permission"
)

func int64p(v int64) *int64 { return &v }

func entry(id, reseller, roleID int64) journal.Entry {
	content := `{"name":"x"}`
	return journal.Entry{ID: id, ResellerID: int64p(reseller), RoleID: roleID, Content: &content}
}

func receive(t *testing.T, ch <-chan journal.Entry) journal.Entry {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for entry")
	}
	return journal.Entry{}
}

func TestPublishHonoursScopeAndRedacts(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scoped := s.Subscribe(ctx, permission.Filter{ResellerID: int64p(2), HasAccessTo: []int64{5, 7, 9}})
	global := s.Subscribe(ctx, permission.Filter{HasAccessTo: []int64{1, 3, 5, 7, 9, 11}})

	if err := s.Publish(ctx, "contacts:1", entry(1, 3, 5)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := s.Publish(ctx, "contacts:2", entry(2, 2, 3)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := receive(t, global); got.ID != 1 || got.Content == nil {
		t.Fatalf("unexpected first global entry %+v", got)
	}
	if got := receive(t, global); got.ID != 2 || got.Content == nil {
		t.Fatalf("unexpected second global entry %+v", got)
	}
	got := receive(t, scoped)
	if got.ID != 2 {
		t.Fatalf("scoped subscriber saw another reseller's entry: %+v", got)
	}
	if got.Content != nil {
		t.Fatal("expected content written under an inaccessible role to be withheld")
	}
}

func TestPublishRejectsForeignValues(t *testing.T) {
	if err := New().Publish(context.Background(), "k", "not an entry"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = s.Subscribe(ctx, permission.Filter{})

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBuffer*2; i++ {
			_ = s.Publish(ctx, "k", entry(int64(i), 1, 1))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx, permission.Filter{})
	if s.Subscribers() != 1 {
		t.Fatalf("expected one subscriber, got %d", s.Subscribers())
	}
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	if s.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", s.Subscribers())
	}
}
