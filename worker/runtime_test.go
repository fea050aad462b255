package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nooble4/agentcomm/broker"
	"github.com/nooble4/agentcomm/config"
	"github.com/nooble4/agentcomm/envelope"
	"github.com/nooble4/agentcomm/errors"
	"github.com/nooble4/agentcomm/logging"
	"github.com/nooble4/agentcomm/messaging"
)

func testConfig(service string) config.Config {
	cfg := config.Default()
	cfg.Environment = "test"
	cfg.ServiceName = service
	cfg.WorkerPollInterval = 20 * time.Millisecond
	cfg.SendBackoff = time.Millisecond
	return cfg
}

func quietLogger() *logging.Logger {
	l := logging.New()
	l.SetLevel(logging.LevelError)
	return l
}

// startWorker runs a Runtime for the query service with the given handler
// and returns a stop function.
func startWorker(t *testing.T, b broker.Broker, handler Handler) (*Runtime, func()) {
	t.Helper()
	rt, err := NewRuntime(testConfig("query"), b, handler, quietLogger())
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rt.Run(context.Background())
	}()
	return rt, func() {
		rt.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("worker did not stop")
		}
	}
}

func TestPseudoSyncRoundTrip(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	handler := HandlerFunc(func(ctx context.Context, a *envelope.Action) (map[string]interface{}, error) {
		var in map[string]int
		if err := a.DecodeData(&in); err != nil {
			return nil, err
		}
		return map[string]interface{}{"doubled": in["n"] * 2}, nil
	})
	_, stop := startWorker(t, b, handler)
	defer stop()

	client, err := messaging.NewClient(testConfig("gateway"), b, quietLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	a, _ := envelope.NewAction("query.double", map[string]interface{}{"n": 21})
	resp, err := client.SendRequest(context.Background(), a, 2*time.Second)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if !resp.Success {
		t.Fatalf("response not successful: %+v", resp.Error)
	}
	var out map[string]int
	if err := json.Unmarshal(resp.Data, &out); err != nil || out["doubled"] != 42 {
		t.Errorf("result = %v, %v", out, err)
	}
}

func TestHandlerErrorResolvesWaitEarly(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	handler := HandlerFunc(func(ctx context.Context, a *envelope.Action) (map[string]interface{}, error) {
		return nil, errors.HandlerFailed(a.ActionType, "backend unavailable")
	})
	_, stop := startWorker(t, b, handler)
	defer stop()

	client, _ := messaging.NewClient(testConfig("gateway"), b, quietLogger())

	a, _ := envelope.NewAction("query.search", map[string]interface{}{"q": "x"})
	start := time.Now()
	resp, err := client.SendRequest(context.Background(), a, 5*time.Second)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	// The failed response must arrive well before the 5s timeout
	if time.Since(start) > 2*time.Second {
		t.Error("failure response should arrive promptly, not near the timeout")
	}
	if resp.Success {
		t.Error("response should report failure")
	}
	if resp.Error == nil || resp.Error.Code != errors.ErrCodeHandler.String() {
		t.Errorf("error detail = %+v", resp.Error)
	}
	if resp.CorrelationID != a.CorrelationID {
		t.Errorf("correlation mismatch on failure path")
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	calls := 0
	var mu sync.Mutex
	handler := HandlerFunc(func(ctx context.Context, a *envelope.Action) (map[string]interface{}, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("boom")
		}
		return map[string]interface{}{"ok": true}, nil
	})
	_, stop := startWorker(t, b, handler)
	defer stop()

	client, _ := messaging.NewClient(testConfig("gateway"), b, quietLogger())

	// First request panics; caller still gets a failed response.
	a1, _ := envelope.NewAction("query.search", map[string]interface{}{"q": "1"})
	resp, err := client.SendRequest(context.Background(), a1, 2*time.Second)
	if err != nil {
		t.Fatalf("SendRequest after panic: %v", err)
	}
	if resp.Success || resp.Error == nil || resp.Error.Code != errors.ErrCodePanic.String() {
		t.Errorf("panic should surface as a PANIC error response, got %+v", resp)
	}

	// The loop survived; a second request succeeds.
	a2, _ := envelope.NewAction("query.search", map[string]interface{}{"q": "2"})
	resp2, err := client.SendRequest(context.Background(), a2, 2*time.Second)
	if err != nil || !resp2.Success {
		t.Fatalf("loop should survive a panic: %v %+v", err, resp2)
	}
}

func TestMalformedMessageIsDiscarded(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	handled := make(chan string, 1)
	handler := HandlerFunc(func(ctx context.Context, a *envelope.Action) (map[string]interface{}, error) {
		handled <- a.ActionID
		return nil, nil
	})
	_, stop := startWorker(t, b, handler)
	defer stop()

	ctx := context.Background()
	// Garbage first, then a valid fire-and-forget action
	if err := b.Push(ctx, "nooble4:test:query:actions", []byte("{malformed")); err != nil {
		t.Fatalf("push: %v", err)
	}
	a, _ := envelope.NewAction("query.warm_cache", nil)
	raw, _ := a.Marshal()
	if err := b.Push(ctx, "nooble4:test:query:actions", raw); err != nil {
		t.Fatalf("push: %v", err)
	}

	select {
	case id := <-handled:
		if id != a.ActionID {
			t.Errorf("handled %q, want %q", id, a.ActionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker never got past the malformed message")
	}
}

func TestCallbackCompletion(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	cfg := testConfig("ingestion")
	handler := HandlerFunc(func(ctx context.Context, a *envelope.Action) (map[string]interface{}, error) {
		return map[string]interface{}{"pages": 3}, nil
	})
	rt, err := NewRuntime(cfg, b, handler, quietLogger())
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	done := make(chan struct{})
	go func() { defer close(done); _ = rt.Run(ctx) }()
	defer func() { rt.Stop(); <-done }()

	caller, _ := messaging.NewClient(testConfig("orchestrator"), b, quietLogger())
	cbQueue, _ := caller.Namer().CallbackQueue("orchestrator", "ingestion.completed", "task-3")

	a, _ := envelope.NewAction("ingestion.process", map[string]interface{}{"doc": "d"})
	a.TaskID = "task-3"
	if err := caller.SendWithCallback(ctx, a, cbQueue, "ingestion.completed"); err != nil {
		t.Fatalf("SendWithCallback: %v", err)
	}

	raw, _ := b.BlockingPop(ctx, cbQueue, 2*time.Second)
	if raw == nil {
		t.Fatal("completion callback never arrived")
	}
	cb, err := envelope.UnmarshalAction(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cb.ActionType != "ingestion.completed" || cb.CorrelationID != a.CorrelationID {
		t.Errorf("callback mismatch: %+v", cb)
	}
	var data map[string]int
	if err := cb.DecodeData(&data); err != nil || data["pages"] != 3 {
		t.Errorf("callback data = %v, %v", data, err)
	}
}

func TestStateTransitions(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	rt, stop := startWorker(t, b, HandlerFunc(func(ctx context.Context, a *envelope.Action) (map[string]interface{}, error) {
		return nil, nil
	}))

	// Give the loop a moment to reach its listening state
	deadline := time.Now().Add(time.Second)
	for rt.State() != StateListening && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rt.State() != StateListening {
		t.Errorf("state = %v, want listening", rt.State())
	}

	stop()
	if rt.State() != StateStopped {
		t.Errorf("state after stop = %v, want stopped", rt.State())
	}
}

func TestHeartbeat(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	cfg := testConfig("execution")
	cfg.HeartbeatInterval = 30 * time.Millisecond

	rt, err := NewRuntime(cfg, b, HandlerFunc(func(ctx context.Context, a *envelope.Action) (map[string]interface{}, error) {
		return nil, nil
	}), quietLogger())
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}

	channel, _ := rt.Client().Namer().NotificationChannel("execution", "heartbeat")
	msgs, cancelSub, err := b.Subscribe(ctx, channel)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancelSub()

	done := make(chan struct{})
	go func() { defer close(done); _ = rt.Run(ctx) }()
	defer func() { rt.Stop(); <-done }()

	select {
	case raw := <-msgs:
		hb, err := envelope.UnmarshalAction(raw)
		if err != nil {
			t.Fatalf("unmarshal heartbeat: %v", err)
		}
		if hb.ActionType != "worker.heartbeat" {
			t.Errorf("heartbeat action type = %q", hb.ActionType)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat published")
	}
}
