// Package notify is the async delivery pipeline between the dispatch engine
// and the chat transport: a bounded queue drained by a small worker pool,
// rate limited to respect Telegram flood limits, with bounded per-send retry.
//
// The dispatch tick only enqueues; it is never blocked by a slow delivery.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	rtsup "schedbot/internal/runtime/supervisor"
	logx "schedbot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notify queue full")
	ErrStopped   = errors.New("notify service stopped")
)

// Sender delivers one rendered message to a chat. Implemented by the
// telegram adapter.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

type job struct {
	chatID int64
	text   string
}

// Service is safe for concurrent use. Enqueue never blocks.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	queue     chan job
	sup       *rtsup.Supervisor
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log}
	s.applyLocked(cfg)
	return s
}

// Apply updates the reloadable knobs (rate, retry policy). Queue size and
// worker count take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so a tick with many due schedules
	// drains quickly without hammering the API.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Delivery failures must never take down the app.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		name := "notify.worker"
		sup.Go0(name, func(c context.Context) {
			s.worker(c, q)
		})
	}
}

// Stop refuses new work, then waits (bounded by ctx) for in-flight
// deliveries to finish. Queued-but-unsent messages are dropped; the next
// scheduled occurrence is the natural retry.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.accepting = false
	sup := s.sup
	s.sup = nil
	s.queue = nil
	s.mu.Unlock()

	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn("notify stop error", logx.Err(err))
	}
}

// Enqueue hands a rendered message to the pipeline without blocking.
func (s *Service) Enqueue(chatID int64, text string) error {
	s.mu.Lock()
	q := s.queue
	ok := s.accepting
	s.mu.Unlock()

	if q == nil || !ok {
		return ErrStopped
	}
	select {
	case q <- job{chatID: chatID, text: text}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context, queue <-chan job) {
	for {
		// Fast-exit so stop wins over queued work.
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case j := <-queue:
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	lim := s.limiter
	retryMax := s.cfg.RetryMax
	base := s.cfg.RetryBase
	maxDelay := s.cfg.RetryMaxDelay
	s.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return
		}
	}

	var last error
	for attempt := 0; attempt <= retryMax; attempt++ {
		err := s.sender.Send(ctx, j.chatID, j.text)
		if err == nil {
			if attempt > 0 {
				s.log.Debug("delivery succeeded after retry",
					logx.Int64("chat_id", j.chatID), logx.Int("attempt", attempt+1))
			}
			return
		}
		last = err
		if attempt == retryMax {
			break
		}

		delay := base << attempt
		if delay > maxDelay {
			delay = maxDelay
		}
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return
		case <-tmr.C:
		}
	}
	s.log.Warn("delivery failed", logx.Int64("chat_id", j.chatID), logx.Err(last))
}
