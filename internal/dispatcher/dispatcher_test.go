package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) log(level, msg string, keysAndValues []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("%s: %s %v", level, msg, keysAndValues))
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) { l.log("DEBUG", msg, keysAndValues) }
func (l *testLogger) Info(msg string, keysAndValues ...any) { l.log("INFO", msg, keysAndValues) }
func (l *testLogger) Error(msg string, keysAndValues ...any) { l.log("ERROR", msg, keysAndValues) }

func (l *testLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	t.Helper()
	logger := &testLogger{}

	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register("idle", func(e Event) error {
		got = e
		return nil
	})

	err := d.Dispatch(Event{Command: "idle", Payload: json.RawMessage(`{"zoom":13}`), Session: "s1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Session != "s1" || string(got.Payload) != `{"zoom":13}` {
		t.Errorf("handler got %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("expected dispatch to stamp the event")
	}
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	err := d.Dispatch(Event{Command: "zoom_changed"})
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestDispatcher_HandlerError(t *testing.T) {
	d, _ := newTestDispatcher(t)

	boom := errors.New("boom")
	d.Register("click", func(e Event) error { return boom })

	if err := d.Dispatch(Event{Command: "click"}); !errors.Is(err, boom) {
		t.Errorf("expected handler error, got %v", err)
	}
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)

	d.Register("bounds_changed", func(e Event) error {
		processed.Add(1)
		wg.Done()
		return nil
	}, Buffered(100))

	for i := 0; i < 3; i++ {
		if err := d.Dispatch(Event{Command: "bounds_changed"}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}

	wg.Wait()

	if processed.Load() != 3 {
		t.Errorf("expected 3 processed, got %d", processed.Load())
	}
}

func TestDispatcher_BufferedPreservesOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var mu sync.Mutex
	var order []string
	d.Register("bounds_changed", func(e Event) error {
		mu.Lock()
		order = append(order, string(e.Payload))
		mu.Unlock()
		return nil
	}, Buffered(10))

	for _, p := range []string{"1", "2", "3"} {
		if err := d.Dispatch(Event{Command: "bounds_changed", Payload: json.RawMessage(p)}); err != nil {
			t.Fatal(err)
		}
	}
	d.Close()

	if strings.Join(order, ",") != "1,2,3" {
		t.Errorf("expected in-order processing, got %v", order)
	}
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	started := make(chan struct{}, 1)
	block := make(chan struct{})
	d.Register("bounds_changed", func(e Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	}, Buffered(2))
	defer close(block)

	d.Dispatch(Event{Command: "bounds_changed"}) // being processed
	<-started
	d.Dispatch(Event{Command: "bounds_changed"}) // queued
	d.Dispatch(Event{Command: "bounds_changed"}) // queued

	err := d.Dispatch(Event{Command: "bounds_changed"})
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestDispatcher_BufferedBlocking(t *testing.T) {
	d, _ := newTestDispatcher(t)

	started := make(chan struct{}, 1)
	block := make(chan struct{})
	d.Register("bounds_changed", func(e Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	}, Buffered(1), Blocking())

	d.Dispatch(Event{Command: "bounds_changed"})
	<-started
	d.Dispatch(Event{Command: "bounds_changed"})

	done := make(chan struct{})
	go func() {
		d.Dispatch(Event{Command: "bounds_changed"})
		close(done)
	}()

	select {
	case <-done:
		t.Error("dispatch should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	<-done
}

func TestDispatcher_CloseRejectsBuffered(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register("bounds_changed", func(e Event) error { return nil }, Buffered(1))
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := d.Dispatch(Event{Command: "bounds_changed"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("dragend", func(e Event) error { return nil }, Logged())
	d.Dispatch(Event{Command: "dragend", Session: "s9"})

	msgs := logger.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 log messages, got %d: %v", len(msgs), msgs)
	}
	if !strings.Contains(msgs[0], "handling event") || !strings.Contains(msgs[0], "s9") {
		t.Errorf("unexpected first message %q", msgs[0])
	}
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("places_changed", func(e Event) error {
		return fmt.Errorf("no geometry")
	}, Logged())

	d.Dispatch(Event{Command: "places_changed"})

	hasError := false
	for _, msg := range logger.snapshot() {
		if strings.HasPrefix(msg, "ERROR") {
			hasError = true
			break
		}
	}
	if !hasError {
		t.Error("expected error log message")
	}
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register("idle", func(e Event) error { return nil })

	if !d.HasHandler("idle") {
		t.Error("expected handler to exist")
	}
	if d.HasHandler("click") {
		t.Error("expected handler to not exist")
	}
}

func TestDispatcher_CombinedOptions(t *testing.T) {
	d, logger := newTestDispatcher(t)

	var wg sync.WaitGroup
	wg.Add(1)
	d.Register("bounds_changed", func(e Event) error {
		wg.Done()
		return nil
	}, Buffered(100), Logged())

	if err := d.Dispatch(Event{Command: "bounds_changed"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	wg.Wait()
	d.Close()

	if len(logger.snapshot()) < 2 {
		t.Errorf("expected log messages, got %v", logger.snapshot())
	}
}

func TestDecode(t *testing.T) {
	type zoomPayload struct {
		Zoom int `json:"zoom"`
	}

	got, err := Decode[zoomPayload](Event{Command: "idle", Payload: json.RawMessage(`{"zoom":7}`)})
	if err != nil || got.Zoom != 7 {
		t.Errorf("Decode = %+v, %v", got, err)
	}

	if _, err := Decode[zoomPayload](Event{Command: "idle"}); err == nil {
		t.Error("expected error for empty payload")
	}
	if _, err := Decode[zoomPayload](Event{Command: "idle", Payload: json.RawMessage(`{"zoom":"x"}`)}); err == nil {
		t.Error("expected error for malformed payload")
	}
}
