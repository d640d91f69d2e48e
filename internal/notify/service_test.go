package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "schedbot/pkg/logx"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []int64
	fail  map[int64]int // chatID -> remaining failures
	notif chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{fail: map[int64]int{}, notif: make(chan struct{}, 64)}
}

func (r *recordingSender) Send(_ context.Context, chatID int64, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := r.fail[chatID]; n > 0 {
		r.fail[chatID] = n - 1
		return errors.New("send failed")
	}
	r.sent = append(r.sent, chatID)
	select {
	case r.notif <- struct{}{}:
	default:
	}
	return nil
}

func (r *recordingSender) sentTo() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.sent...)
}

func waitFor(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-deadline:
			t.Fatalf("timed out waiting for %d deliveries (got %d)", n, i)
		}
	}
}

func TestEnqueueDelivers(t *testing.T) {
	t.Parallel()
	sender := newRecordingSender()
	svc := New(Config{Workers: 2, RatePerSec: 1000}, sender, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Start(ctx)
	defer svc.Stop(context.Background())

	if err := svc.Enqueue(42, "hello"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, sender.notif, 1)

	got := sender.sentTo()
	if len(got) != 1 || got[0] != 42 {
		t.Fatalf("sent = %v", got)
	}
}

func TestFailingDeliveryDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	sender := newRecordingSender()
	sender.fail[1] = 100 // chat 1 always fails
	svc := New(Config{Workers: 2, RatePerSec: 1000, RetryMax: 1, RetryBase: time.Millisecond}, sender, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Start(ctx)
	defer svc.Stop(context.Background())

	if err := svc.Enqueue(1, "doomed"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := svc.Enqueue(2, "fine"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, sender.notif, 1)

	got := sender.sentTo()
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("sent = %v, want just [2]", got)
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	t.Parallel()
	sender := newRecordingSender()
	sender.fail[7] = 2 // fail twice, then succeed
	svc := New(Config{Workers: 1, RatePerSec: 1000, RetryMax: 3, RetryBase: time.Millisecond}, sender, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Start(ctx)
	defer svc.Stop(context.Background())

	if err := svc.Enqueue(7, "retry me"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, sender.notif, 1)

	got := sender.sentTo()
	if len(got) != 1 || got[0] != 7 {
		t.Fatalf("sent = %v", got)
	}
}

type blockingSender struct{ release chan struct{} }

func (b *blockingSender) Send(ctx context.Context, _ int64, _ string) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	t.Parallel()
	sender := &blockingSender{release: make(chan struct{})}
	svc := New(Config{Workers: 1, QueueSize: 1, RatePerSec: 1000}, sender, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Start(ctx)
	defer func() {
		close(sender.release)
		svc.Stop(context.Background())
	}()

	// One job can be in flight and one queued; the third must be rejected.
	var sawFull bool
	for i := 0; i < 3; i++ {
		if err := svc.Enqueue(1, "x"); errors.Is(err, ErrQueueFull) {
			sawFull = true
		}
	}
	if !sawFull {
		t.Fatal("expected ErrQueueFull with a blocked worker and a full queue")
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	t.Parallel()
	sender := newRecordingSender()
	svc := New(Config{RatePerSec: 1000}, sender, logx.Nop())
	svc.Start(context.Background())
	svc.Stop(context.Background())

	if err := svc.Enqueue(1, "late"); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue after stop = %v, want ErrStopped", err)
	}
}
