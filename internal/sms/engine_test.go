package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T, apiURL string) *Engine {
	t.Helper()
	store := NewStore(10)
	client := NewClient(apiURL, staticToken("secret"), nil)
	poll := NewPollChannel(client, store, zerolog.Nop())
	stream := NewStreamChannel("ws://127.0.0.1:1", staticToken("secret"), time.Second, zerolog.Nop())
	return NewEngine(EngineOptions{
		Store:                store,
		Stream:               stream,
		Poll:                 poll,
		Logger:               zerolog.Nop(),
		CredentialConfigured: true,
	})
}

func TestHandleFrameSMSChangedPush(t *testing.T) {
	engine := newTestEngine(t, "http://127.0.0.1:1")
	receipt := time.UnixMilli(1700000000000).UTC()
	engine.handleFrame(context.Background(), []byte(`{
		"type": "push",
		"push": {
			"type": "sms_changed",
			"notifications": [
				{"thread_id": "1", "title": "Alice", "body": "code 1234", "timestamp": 1700000000},
				{"thread_id": "2", "title": "Bob", "body": "hi", "timestamp": 1700000001}
			]
		}
	}`), receipt)
	if engine.Store().Size() != 2 {
		t.Fatalf("stored %d messages, want 2", engine.Store().Size())
	}
	msg, _ := engine.Store().MostRecent()
	if msg.ID != "2_1700000000000" {
		t.Fatalf("stream-path id = %s", msg.ID)
	}
}

func TestHandleFrameMirrorPush(t *testing.T) {
	engine := newTestEngine(t, "http://127.0.0.1:1")
	receipt := time.UnixMilli(1700000000000).UTC()

	// Mirror from an unrelated app is not message data.
	engine.handleFrame(context.Background(), []byte(`{
		"type": "push",
		"push": {"type": "mirror", "package_name": "com.example.game", "title": "Game", "body": "play now"}
	}`), receipt)
	if engine.Store().Size() != 0 {
		t.Fatal("mirror from unrelated app was stored")
	}

	engine.handleFrame(context.Background(), []byte(`{
		"type": "push",
		"push": {"type": "mirror", "package_name": "com.google.android.apps.messaging",
		         "application_name": "Messages", "title": "Carol", "body": "hello"}
	}`), receipt)
	msg, ok := engine.Store().MostRecent()
	if !ok || msg.App != "Messages" || msg.Sender != "Carol" {
		t.Fatalf("mirror message not normalized: %+v", msg)
	}
}

func TestHandleFrameTickleTriggersPoll(t *testing.T) {
	polled := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case polled <- struct{}{}:
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pushes": [
			{"iden": "p1", "type": "sms_changed", "modified": 1700000100,
			 "notifications": [{"thread_id": "1", "title": "Alice", "body": "tickled", "timestamp": 1700000000}]}
		]}`))
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)
	engine.handleFrame(context.Background(), []byte(`{"type": "tickle", "subtype": "push"}`), time.Now())
	select {
	case <-polled:
	default:
		t.Fatal("tickle did not trigger a poll")
	}
	msg, ok := engine.Store().MostRecent()
	if !ok || msg.Body != "tickled" {
		t.Fatalf("tickle reconcile did not store the message: %+v", msg)
	}

	// Tickles of other subtypes do not poll.
	engine.handleFrame(context.Background(), []byte(`{"type": "tickle", "subtype": "device"}`), time.Now())
	select {
	case <-polled:
		t.Fatal("non-push tickle triggered a poll")
	default:
	}
}

func TestHandleFrameIgnoresNoiseAndMalformed(t *testing.T) {
	engine := newTestEngine(t, "http://127.0.0.1:1")
	for _, frame := range []string{
		`{"type": "nop"}`,
		`{"type": "push", "push": {"type": "file"}}`,
		`{"type": "push"}`,
		`{"unexpected": true}`,
		`not json at all`,
		``,
	} {
		engine.handleFrame(context.Background(), []byte(frame), time.Now())
	}
	if engine.Store().Size() != 0 {
		t.Fatalf("noise frames stored %d messages", engine.Store().Size())
	}
}

func TestEngineStatus(t *testing.T) {
	engine := newTestEngine(t, "http://127.0.0.1:1")
	status := engine.Status()
	if status.Connected {
		t.Fatal("reported connected without a stream")
	}
	if !status.CredentialConfigured {
		t.Fatal("credential not reported as configured")
	}
	if status.MostRecentTimestamp != nil {
		t.Fatal("empty store reported a most-recent timestamp")
	}

	engine.handleFrame(context.Background(), []byte(`{
		"type": "push",
		"push": {"type": "sms_changed",
		         "notifications": [{"thread_id": "1", "title": "A", "body": "x", "timestamp": 1700000000}]}
	}`), time.Now())
	status = engine.Status()
	if status.StoredCount != 1 {
		t.Fatalf("storedCount = %d", status.StoredCount)
	}
	if status.MostRecentTimestamp == nil || *status.MostRecentTimestamp != "2023-11-14T22:13:20.000Z" {
		t.Fatalf("mostRecentTimestamp = %v", status.MostRecentTimestamp)
	}
}

func TestEngineStartSeedsStore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pushes": [
			{"iden": "p1", "type": "sms_changed", "modified": 1700000100,
			 "notifications": [{"thread_id": "1", "title": "Alice", "body": "seeded", "timestamp": 1700000000}]}
		]}`))
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx)
	defer func() {
		cancel()
		engine.Stop()
	}()

	deadline := time.After(5 * time.Second)
	for engine.Store().Size() == 0 {
		select {
		case <-deadline:
			t.Fatal("start did not seed the store")
		case <-time.After(10 * time.Millisecond):
		}
	}
	msg, _ := engine.Store().MostRecent()
	if msg.Body != "seeded" {
		t.Fatalf("seeded message = %+v", msg)
	}
}
