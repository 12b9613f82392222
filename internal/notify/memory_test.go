package notify

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBusDeliversScoreEvents(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()

	sub, err := bus.Subscribe(ctx, ScoreChannel(7))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := PublishScore(ctx, bus, ScoreEvent{InterviewID: 7, QuestionID: 3, Status: ScoreStatusScored}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// 其他面试的事件不应串台
	if err := PublishScore(ctx, bus, ScoreEvent{InterviewID: 8, QuestionID: 4, Status: ScoreStatusScored}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case payload := <-sub.Messages():
		event, err := DecodeScoreEvent(payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if event.QuestionID != 3 || event.Status != ScoreStatusScored {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case payload := <-sub.Messages():
		t.Fatalf("unexpected extra message %s", payload)
	default:
	}
}

func TestMemoryBusCloseIsIdempotent(t *testing.T) {
	bus := NewMemoryBus()
	sub, _ := bus.Subscribe(context.Background(), UserChannel(1))
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Fatal("expected closed channel")
	}
	if err := PublishUser(context.Background(), bus, 1, UserMessage{Type: TypeScoreReady}); err != nil {
		t.Fatalf("publish after close: %v", err)
	}
}
