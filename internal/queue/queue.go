package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownQueue = errors.New("queue: unknown queue")
	ErrQueueFull    = errors.New("queue: queue is full")
	ErrStopped      = errors.New("queue: broker is stopped")
)

// Request asks a worker to execute one job. Task is empty for export job
// executions and names a built-in task otherwise.
type Request struct {
	ID         string    `json:"id"`
	Task       string    `json:"task,omitempty"`
	JobID      int64     `json:"job_id"`
	FiringID   string    `json:"firing_id,omitempty"`
	Queue      string    `json:"queue"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Handler executes a request. A non-nil error makes the request eligible for
// a retry on the same lane.
type Handler func(ctx context.Context, req Request) error

type LaneConfig struct {
	Name       string
	Workers    int
	Buffer     int
	MaxRetries int
	RetryDelay time.Duration
}

type LaneStats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Capacity  int    `json:"capacity"`
	InFlight  int64  `json:"in_flight"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Retried   uint64 `json:"retried"`
}

type lane struct {
	cfg LaneConfig
	ch  chan Request

	inFlight  atomic.Int64
	processed atomic.Uint64
	failed    atomic.Uint64
	retried   atomic.Uint64
}

// Broker runs one isolated worker pool per named queue. Work on one lane
// never waits on another lane's workers.
type Broker struct {
	logger  *logrus.Logger
	handler Handler
	lanes   map[string]*lane

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewBroker(logger *logrus.Logger, handler Handler, configs []LaneConfig) *Broker {
	lanes := make(map[string]*lane, len(configs))
	for _, cfg := range configs {
		if cfg.Workers <= 0 {
			cfg.Workers = 1
		}
		if cfg.Buffer <= 0 {
			cfg.Buffer = 64
		}
		if cfg.RetryDelay <= 0 {
			cfg.RetryDelay = 5 * time.Second
		}
		lanes[cfg.Name] = &lane{
			cfg: cfg,
			ch:  make(chan Request, cfg.Buffer),
		}
	}

	return &Broker{
		logger:  logger,
		handler: handler,
		lanes:   lanes,
		stop:    make(chan struct{}),
	}
}

// Enqueue places req on the named lane and returns the request id.
func (b *Broker) Enqueue(ctx context.Context, queue string, req Request) (string, error) {
	l, ok := b.lanes[queue]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Queue = queue
	req.EnqueuedAt = time.Now()

	select {
	case <-b.stop:
		return "", ErrStopped
	default:
	}

	select {
	case l.ch <- req:
		return req.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		return "", fmt.Errorf("%w: %s", ErrQueueFull, queue)
	}
}

func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return fmt.Errorf("broker already started")
	}

	for _, l := range b.lanes {
		for i := 0; i < l.cfg.Workers; i++ {
			b.wg.Add(1)
			go b.work(ctx, l)
		}
		b.logger.WithFields(logrus.Fields{
			"queue":   l.cfg.Name,
			"workers": l.cfg.Workers,
			"buffer":  l.cfg.Buffer,
		}).Info("Queue lane started")
	}
	b.started = true

	return nil
}

// Stop signals workers to exit after their current request and waits for
// them. Requests still buffered are dropped.
func (b *Broker) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	close(b.stop)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("Queue broker stopped")
}

func (b *Broker) Stats() []LaneStats {
	stats := make([]LaneStats, 0, len(b.lanes))
	for _, l := range b.lanes {
		stats = append(stats, LaneStats{
			Name:      l.cfg.Name,
			Workers:   l.cfg.Workers,
			Queued:    len(l.ch),
			Capacity:  cap(l.ch),
			InFlight:  l.inFlight.Load(),
			Processed: l.processed.Load(),
			Failed:    l.failed.Load(),
			Retried:   l.retried.Load(),
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Name < stats[j].Name
	})
	return stats
}

func (b *Broker) work(ctx context.Context, l *lane) {
	defer b.wg.Done()

	for {
		select {
		case <-b.stop:
			return
		case <-ctx.Done():
			return
		case req := <-l.ch:
			b.process(ctx, l, req)
		}
	}
}

func (b *Broker) process(ctx context.Context, l *lane, req Request) {
	l.inFlight.Add(1)
	defer l.inFlight.Add(-1)

	fields := logrus.Fields{
		"queue":      l.cfg.Name,
		"request_id": req.ID,
		"job_id":     req.JobID,
		"attempt":    req.Attempt,
		"wait":       time.Since(req.EnqueuedAt).String(),
	}

	err := b.safeHandle(ctx, req)
	l.processed.Add(1)
	if err == nil {
		return
	}

	l.failed.Add(1)
	if req.Attempt >= l.cfg.MaxRetries {
		b.logger.WithFields(fields).WithError(err).Error("Request failed, retries exhausted")
		return
	}

	b.logger.WithFields(fields).WithError(err).Warn("Request failed, scheduling retry")
	l.retried.Add(1)

	retry := req
	retry.Attempt++
	time.AfterFunc(l.cfg.RetryDelay, func() {
		if _, err := b.Enqueue(context.Background(), l.cfg.Name, retry); err != nil {
			b.logger.WithFields(fields).WithError(err).Error("Failed to requeue request")
		}
	})
}

func (b *Broker) safeHandle(ctx context.Context, req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return b.handler(ctx, req)
}
