package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nooble4/agentcomm/broker"
	"github.com/nooble4/agentcomm/config"
	"github.com/nooble4/agentcomm/envelope"
	"github.com/nooble4/agentcomm/errors"
	"github.com/nooble4/agentcomm/logging"
)

func testConfig(service string) config.Config {
	cfg := config.Default()
	cfg.Environment = "test"
	cfg.ServiceName = service
	cfg.SendBackoff = time.Millisecond
	return cfg
}

func quietLogger() *logging.Logger {
	l := logging.New()
	l.SetLevel(logging.LevelError)
	return l
}

func newTestClient(t *testing.T, b broker.Broker, service string, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(testConfig(service), b, quietLogger(), opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

// echoResponder pops the echo service's action queue and replies to each
// pseudo-sync request with the request's own data.
func echoResponder(ctx context.Context, b broker.Broker) {
	for {
		raw, err := b.BlockingPop(ctx, "nooble4:test:echo:actions", 100*time.Millisecond)
		if err != nil || ctx.Err() != nil {
			return
		}
		if raw == nil {
			continue
		}
		a, err := envelope.UnmarshalAction(raw)
		if err != nil {
			continue
		}
		resp := &envelope.ActionResponse{
			CorrelationID: a.CorrelationID,
			Success:       true,
			Data:          a.Data,
			TraceID:       a.TraceID,
		}
		payload, _ := resp.Marshal()
		_ = b.Push(ctx, a.CallbackQueueName, payload)
	}
}

func TestSendFireAndForget(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()
	client := newTestClient(t, b, "gateway")

	a, _ := envelope.NewAction("embedding.generate", map[string]interface{}{"text": "hello"})
	if err := client.SendFireAndForget(context.Background(), a); err != nil {
		t.Fatalf("SendFireAndForget: %v", err)
	}

	if a.OriginService != "gateway" {
		t.Errorf("origin service not stamped, got %q", a.OriginService)
	}

	raw, err := b.BlockingPop(context.Background(), "nooble4:test:embedding:actions", time.Second)
	if err != nil || raw == nil {
		t.Fatalf("nothing on the embedding action queue: %v", err)
	}
	got, err := envelope.UnmarshalAction(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ActionID != a.ActionID {
		t.Errorf("delivered action ID = %q, want %q", got.ActionID, a.ActionID)
	}
}

func TestSendRequest(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go echoResponder(ctx, b)

	client := newTestClient(t, b, "gateway")

	a, _ := envelope.NewAction("echo.request", map[string]interface{}{"n": 1})
	a.TraceID = "trace-1"

	resp, err := client.SendRequest(ctx, a, 2*time.Second)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if !resp.Success {
		t.Error("expected a successful response")
	}
	if resp.CorrelationID != a.CorrelationID {
		t.Errorf("correlation mismatch: %q != %q", resp.CorrelationID, a.CorrelationID)
	}
	if resp.TraceID != "trace-1" {
		t.Errorf("trace not propagated, got %q", resp.TraceID)
	}
}

func TestSendRequestGeneratesCorrelationID(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go echoResponder(ctx, b)

	client := newTestClient(t, b, "gateway")
	a, _ := envelope.NewAction("echo.request", nil)

	if _, err := client.SendRequest(ctx, a, 2*time.Second); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if a.CorrelationID == "" {
		t.Error("correlation ID should have been generated")
	}
}

func TestSendRequestTimeout(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()
	client := newTestClient(t, b, "gateway")

	a, _ := envelope.NewAction("nobody.home", nil)

	start := time.Now()
	_, err := client.SendRequest(context.Background(), a, 300*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, errors.ErrCodeTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if elapsed < 250*time.Millisecond || elapsed > time.Second {
		t.Errorf("timed out in %v, want ~300ms", elapsed)
	}
}

// 100 concurrent in-flight requests from one client must each receive
// their own response; no cross-matching.
func TestConcurrentRequestCorrelation(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 4; i++ {
		go echoResponder(ctx, b)
	}

	client := newTestClient(t, b, "gateway")

	const inflight = 100
	var wg sync.WaitGroup
	errCh := make(chan error, inflight)

	for i := 0; i < inflight; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, _ := envelope.NewAction("echo.request", map[string]interface{}{"n": i})
			resp, err := client.SendRequest(ctx, a, 5*time.Second)
			if err != nil {
				errCh <- fmt.Errorf("request %d: %w", i, err)
				return
			}
			if resp.CorrelationID != a.CorrelationID {
				errCh <- fmt.Errorf("request %d: correlation mismatch", i)
				return
			}
			var data map[string]int
			if err := json.Unmarshal(resp.Data, &data); err != nil || data["n"] != i {
				errCh <- fmt.Errorf("request %d: got someone else's response data %v", i, data)
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}
}

func TestSendWithCallback(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	caller := newTestClient(t, b, "orchestrator")
	receiver := newTestClient(t, b, "ingestion")

	cbQueue, err := caller.Namer().CallbackQueue("orchestrator", "ingestion.completed", "task-1")
	if err != nil {
		t.Fatalf("CallbackQueue: %v", err)
	}

	a, _ := envelope.NewAction("ingestion.process", map[string]interface{}{"doc": "d1"})
	a.TaskID = "task-1"
	a.TenantID = "tenant-1"
	if err := caller.SendWithCallback(ctx, a, cbQueue, "ingestion.completed"); err != nil {
		t.Fatalf("SendWithCallback: %v", err)
	}

	// Receiver pops the request and, after "long-running work", reports
	// completion to the callback queue.
	raw, _ := b.BlockingPop(ctx, "nooble4:test:ingestion:actions", time.Second)
	if raw == nil {
		t.Fatal("request never reached the ingestion queue")
	}
	got, _ := envelope.UnmarshalAction(raw)
	if got.CallbackQueueName != cbQueue || got.CallbackActionType != "ingestion.completed" {
		t.Fatalf("callback fields not stamped: %+v", got)
	}

	if err := receiver.SendCallback(ctx, got, map[string]interface{}{"chunks": 12}); err != nil {
		t.Fatalf("SendCallback: %v", err)
	}

	// Caller's listener picks up the completion action.
	rawCb, _ := b.BlockingPop(ctx, cbQueue, time.Second)
	if rawCb == nil {
		t.Fatal("completion never reached the callback queue")
	}
	cb, err := envelope.UnmarshalAction(rawCb)
	if err != nil {
		t.Fatalf("unmarshal callback: %v", err)
	}
	if cb.ActionType != "ingestion.completed" {
		t.Errorf("callback action type = %q", cb.ActionType)
	}
	if cb.CorrelationID != a.CorrelationID {
		t.Errorf("callback correlation = %q, want %q", cb.CorrelationID, a.CorrelationID)
	}
	if cb.OriginService != "ingestion" {
		t.Errorf("callback origin = %q", cb.OriginService)
	}
	if cb.TenantID != "tenant-1" || cb.TaskID != "task-1" {
		t.Errorf("tenant context not propagated: %+v", cb)
	}
}

type recordingRegistrar struct {
	mu      sync.Mutex
	entries map[string][]string
}

func (r *recordingRegistrar) Register(ctx context.Context, taskID, queueName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[string][]string)
	}
	r.entries[taskID] = append(r.entries[taskID], queueName)
	return nil
}

func TestResponseQueueRegistration(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()
	reg := &recordingRegistrar{}
	client := newTestClient(t, b, "gateway", WithRegistrar(reg))

	a, _ := envelope.NewAction("nobody.home", nil)
	a.TaskID = "task-7"
	_, _ = client.SendRequest(context.Background(), a, 50*time.Millisecond)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.entries["task-7"]) != 1 {
		t.Fatalf("response queue not registered: %v", reg.entries)
	}
	if reg.entries["task-7"][0] != a.CallbackQueueName {
		t.Errorf("registered %q, want %q", reg.entries["task-7"][0], a.CallbackQueueName)
	}
}

func TestPublishNotification(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()
	client := newTestClient(t, b, "execution")

	channel, _ := client.Namer().NotificationChannel("execution", "status")
	msgs, cancelSub, err := b.Subscribe(ctx, channel)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancelSub()

	a, _ := envelope.NewAction("execution.status", map[string]interface{}{"state": "running"})
	if err := client.PublishNotification(ctx, channel, a); err != nil {
		t.Fatalf("PublishNotification: %v", err)
	}

	select {
	case raw := <-msgs:
		got, err := envelope.UnmarshalAction(raw)
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.OriginService != "execution" {
			t.Errorf("origin = %q", got.OriginService)
		}
	case <-time.After(time.Second):
		t.Fatal("notification never arrived")
	}
}
