package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nooble4/agentcomm/broker"
	"github.com/nooble4/agentcomm/logging"
	"github.com/nooble4/agentcomm/messaging"
	"github.com/nooble4/agentcomm/worker"
)

func quietLogger() *logging.Logger {
	l := logging.New()
	l.SetLevel(logging.LevelError)
	return l
}

// TestUsagePipeline runs the full metering path: many goroutines report
// usage through a client, the metering worker applies the updates, and
// the validator sees the aggregate.
func TestUsagePipeline(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	meterCfg := testConfig("metering")
	meterCfg.WorkerPollInterval = 20 * time.Millisecond
	handler, err := NewCounterHandler(meterCfg, b, quietLogger())
	if err != nil {
		t.Fatalf("NewCounterHandler: %v", err)
	}
	rt, err := worker.NewRuntime(meterCfg, b, handler, quietLogger())
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rt.Run(ctx)
	}()
	defer func() {
		rt.Stop()
		<-done
	}()

	client, err := messaging.NewClient(testConfig("query"), b, quietLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	reporter := NewReporter(client, quietLogger())

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reporter.PublishUsageUpdate(ctx, "tenant-a", ResQueriesPerHour, 1)
		}()
	}
	wg.Wait()
	if got := reporter.DroppedUpdates(); got != 0 {
		t.Fatalf("DroppedUpdates = %d, want 0", got)
	}

	v, err := NewValidator(testConfig("query"), b, nil)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	key := UsageKey(v.prefix, v.env, "tenant-a", ResQueriesPerHour, time.Now())

	deadline := time.After(5 * time.Second)
	for {
		total, err := b.GetInt(ctx, key)
		if err != nil {
			t.Fatalf("GetInt: %v", err)
		}
		if total == n {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("counter = %d after 5s, want %d", total, n)
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Free tier allows 10 per hour, so tenant-a is now well over.
	exceeded, err := v.IsLimitExceeded(ctx, "tenant-a", TierFree, ResQueriesPerHour, 1, time.Now())
	if err != nil {
		t.Fatalf("IsLimitExceeded: %v", err)
	}
	if !exceeded {
		t.Error("validator should see the recorded usage")
	}
}

// TestReporterNeverFailsVisibly closes the broker under the reporter and
// expects dropped updates to be counted instead of surfaced.
func TestReporterNeverFailsVisibly(t *testing.T) {
	b := broker.NewMemoryBroker()
	client, err := messaging.NewClient(testConfig("query"), b, quietLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	reporter := NewReporter(client, quietLogger())
	b.Close()

	reporter.PublishUsageUpdate(context.Background(), "tenant-a", ResQueriesPerHour, 1)
	reporter.PublishUsageUpdate(context.Background(), "tenant-a", ResCustomPrompts, 1)
	reporter.PublishUsageUpdate(context.Background(), "tenant-a", ResQueriesPerHour, 0)

	if got := reporter.DroppedUpdates(); got != 3 {
		t.Errorf("DroppedUpdates = %d, want 3", got)
	}
}
