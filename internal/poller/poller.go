package poller

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Syncer refreshes local triggers from the schedule store.
type Syncer interface {
	Sync(ctx context.Context) (added, removed int, err error)
}

// Poller picks up schedule entries written by a reconcile that ran in
// another process.
type Poller struct {
	syncer   Syncer
	logger   *logrus.Logger
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func New(syncer Syncer, logger *logrus.Logger, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		syncer:   syncer,
		logger:   logger,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start syncs once and then on every tick until ctx is done or Stop is
// called. It blocks.
func (p *Poller) Start(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.update(ctx)

	for {
		select {
		case <-ticker.C:
			p.update(ctx)
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		}
	}
}

// Stop ends a running Start and waits for it.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Poller) update(ctx context.Context) {
	p.logger.Debug("Starting schedule sync cycle")

	added, removed, err := p.syncer.Sync(ctx)
	if err != nil {
		p.logger.Errorf("Failed to sync schedule entries: %v", err)
		return
	}

	if added > 0 || removed > 0 {
		p.logger.WithFields(logrus.Fields{
			"added":   added,
			"removed": removed,
		}).Info("Schedule entries synced")
		return
	}
	p.logger.Debug("Completed schedule sync cycle, no changes")
}
