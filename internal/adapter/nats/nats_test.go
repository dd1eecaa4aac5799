package nats

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/projectchat/internal/logger"
	"github.com/Strob0t/projectchat/internal/port/messagequeue"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q
}

func testPayload(projectID string) []byte {
	data, _ := json.Marshal(messagequeue.MessageAppendedPayload{
		MessageID: uuid.NewString(),
		ProjectID: projectID,
		Position:  1,
		Role:      "user",
		Content:   "hello-nats",
		CreatedAt: time.Now(),
	})
	return data
}

func TestQueue_PublishSubscribe(t *testing.T) {
	q := testConnect(t)
	pid := uuid.NewString()
	subject := messagequeue.MessageSubject(pid)

	var (
		mu       sync.Mutex
		received *messagequeue.MessageAppendedPayload
		gotReqID string
		done     = make(chan struct{})
		once     sync.Once
	)

	stop, err := q.Subscribe(context.Background(), subject, func(ctx context.Context, _ string, d []byte) error {
		var got messagequeue.MessageAppendedPayload
		if err := json.Unmarshal(d, &got); err != nil {
			return err
		}
		mu.Lock()
		received = &got
		gotReqID = logger.RequestID(ctx)
		mu.Unlock()
		once.Do(func() { close(done) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	ctx := logger.WithRequestID(context.Background(), "req-abc-123")
	if err := q.Publish(ctx, subject, testPayload(pid)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	if received == nil || received.ProjectID != pid || received.Content != "hello-nats" {
		t.Errorf("unexpected payload: %+v", received)
	}
	if gotReqID != "req-abc-123" {
		t.Errorf("request ID = %q, want req-abc-123", gotReqID)
	}
}

func TestQueue_PublishRejectsInvalidPayload(t *testing.T) {
	q := testConnect(t)
	pid := uuid.NewString()

	err := q.Publish(context.Background(), messagequeue.MessageSubject(pid), testPayload(uuid.NewString()))
	if err == nil || !strings.Contains(err.Error(), "does not match subject") {
		t.Fatalf("expected subject mismatch error, got %v", err)
	}
}

func TestQueue_DLQ(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()
	subject := messagequeue.MessageSubject(uuid.NewString())
	dlqSubject := subject + dlqSuffix

	mainStop, err := q.Subscribe(ctx, subject, func(context.Context, string, []byte) error {
		t.Error("invalid message must not reach the handler")
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe main: %v", err)
	}
	defer mainStop()

	// Raw consumer so the dead letter is not validated a second time.
	dlqConsumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: dlqSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		t.Fatalf("create DLQ consumer: %v", err)
	}

	var (
		dlqData   []byte
		dlqReason string
		dlqDone   = make(chan struct{})
		dlqOnce   sync.Once
	)
	dlqSub, err := dlqConsumer.Consume(func(msg jetstream.Msg) {
		dlqOnce.Do(func() {
			dlqData = msg.Data()
			dlqReason = msg.Headers().Get("X-DLQ-Reason")
			close(dlqDone)
		})
		_ = msg.Ack()
	})
	if err != nil {
		t.Fatalf("consume DLQ: %v", err)
	}
	defer dlqSub.Stop()

	// Bypass Publish, which would reject the payload up front.
	if _, err := q.js.PublishMsg(ctx, &nats.Msg{Subject: subject, Data: []byte("not-json")}); err != nil {
		t.Fatalf("PublishMsg: %v", err)
	}

	select {
	case <-dlqDone:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for DLQ message")
	}

	if string(dlqData) != "not-json" {
		t.Errorf("DLQ data = %q, want %q", string(dlqData), "not-json")
	}
	if dlqReason == "" {
		t.Error("expected DLQ reason header")
	}
}

func TestQueue_PublishDedup(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()
	pid := uuid.NewString()
	subject := messagequeue.MessageSubject(pid)
	data := testPayload(pid)

	for range 2 {
		if err := q.PublishDedup(ctx, subject, data, "msg-"+pid); err != nil {
			t.Fatalf("PublishDedup: %v", err)
		}
	}

	stream, err := q.js.Stream(ctx, streamName)
	if err != nil {
		t.Fatal(err)
	}
	info, err := stream.Info(ctx, jetstream.WithSubjectFilter(subject))
	if err != nil {
		t.Fatal(err)
	}
	if n := info.State.Subjects[subject]; n != 1 {
		t.Errorf("expected 1 stored message after duplicate publish, got %d", n)
	}
}

func TestQueue_KeyValue(t *testing.T) {
	q := testConnect(t)

	bucket := "test-kv-" + strings.ReplaceAll(t.Name(), "/", "_")
	ctx := context.Background()

	kv, err := q.KeyValue(ctx, bucket, 30*time.Second)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}

	if _, err := kv.Put(ctx, "greeting", []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entry, err := kv.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(entry.Value()) != "hello" {
		t.Errorf("value = %q, want %q", string(entry.Value()), "hello")
	}

	if err := kv.Delete(ctx, "greeting"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := kv.Get(ctx, "greeting"); err == nil {
		t.Error("expected error after delete, got nil")
	}
}

func TestQueue_IsConnected(t *testing.T) {
	q := testConnect(t)

	if !q.IsConnected() {
		t.Error("IsConnected() = false after Connect, want true")
	}
}
