// Package syncer drains the local mutation queue into the remote store and
// exposes the status surface used by the UI.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"invoice-sync/internal/metrics"
	"invoice-sync/internal/queue"
)

const (
	DefaultMaxRetries   = 3
	DefaultBaseDelay    = time.Second
	DefaultInitialDelay = 30 * time.Second
	DefaultInterval     = 5 * time.Minute
)

// OfflineError is the single error reported by a drain skipped for lack of
// connectivity.
const OfflineError = "Offline"

// Config tunes the processor.
type Config struct {
	MaxRetries   int
	BaseDelay    time.Duration
	InitialDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	return c
}

// Stats summarises one drain run.
type Stats struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors"`
}

// Processor drains the queue through an Applier.
type Processor struct {
	queue   queue.Store
	applier Applier
	online  Connectivity
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     Config

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	syncing atomic.Bool

	mu         sync.Mutex
	lastSyncAt time.Time
	lastError  string

	autoMu     sync.Mutex
	autoCancel context.CancelFunc
	autoWG     sync.WaitGroup
}

// NewProcessor wires a processor. A nil online check means always online.
func NewProcessor(store queue.Store, applier Applier, online Connectivity, logger *slog.Logger, metricRegistry *metrics.Metrics, cfg Config) *Processor {
	if online == nil {
		online = AlwaysOnline
	}
	return &Processor{
		queue:   store,
		applier: applier,
		online:  online,
		logger:  logger.With("component", "sync_processor"),
		metrics: metricRegistry,
		cfg:     cfg.withDefaults(),
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// Syncing reports whether a drain is in flight.
func (p *Processor) Syncing() bool {
	return p.syncing.Load()
}

// LastRun returns the end time and last error of the most recent drain.
func (p *Processor) LastRun() (time.Time, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSyncAt, p.lastError
}

// Drain pushes every queued item once, in FIFO order. A call made while
// another drain is running returns empty stats without touching the queue.
func (p *Processor) Drain(ctx context.Context) Stats {
	if !p.syncing.CompareAndSwap(false, true) {
		p.logger.Debug("drain already in progress")
		return Stats{Errors: []string{}}
	}
	defer p.syncing.Store(false)

	start := p.now()
	stats := Stats{Errors: []string{}}

	if !p.online.Online(ctx) {
		stats.Errors = append(stats.Errors, OfflineError)
		p.finish(start, stats, OfflineError, "offline")
		p.logger.Info("skipping drain, remote unreachable")
		return stats
	}

	items := p.queue.GetAll(ctx)
	var lastFailure string

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		stats.Processed++
		log := p.logger.With("item_id", item.ID, "entity", item.EntityType, "action", item.Action)

		if item.RetryCount >= p.cfg.MaxRetries {
			msg := fmt.Sprintf("%s %s %s: evicted after %d retries: %s", item.Action, item.EntityType, item.EntityID, item.RetryCount, item.LastError)
			p.evict(ctx, item, log)
			stats.Failed++
			stats.Errors = append(stats.Errors, msg)
			lastFailure = msg
			continue
		}

		if item.EntityType == queue.EntityInvoiceItem {
			log.Warn("dropping standalone invoice item, items sync with their invoice")
			if err := p.queue.Remove(ctx, item.ID); err != nil {
				log.Error("failed removing invoice item", "error", err)
			}
			stats.Skipped++
			p.countItem(item, "skipped")
			continue
		}

		err := p.applier.Apply(ctx, item)
		if err == nil {
			if rerr := p.queue.Remove(ctx, item.ID); rerr != nil {
				log.Error("synced item could not be removed from queue", "error", rerr)
			}
			stats.Succeeded++
			p.countItem(item, "success")
			log.Debug("item synced")
			continue
		}

		stats.Failed++
		lastFailure = err.Error()

		if item.RetryCount+1 >= p.cfg.MaxRetries {
			msg := fmt.Sprintf("%s %s %s: failed after %d attempts: %v", item.Action, item.EntityType, item.EntityID, item.RetryCount+1, err)
			p.evict(ctx, item, log)
			stats.Errors = append(stats.Errors, msg)
			lastFailure = msg
			log.Error("item permanently failed", "error", err)
			continue
		}

		if uerr := p.queue.UpdateRetry(ctx, item.ID, err.Error()); uerr != nil {
			log.Error("failed recording retry", "error", uerr)
		}
		p.countItem(item, "retry")

		delay := p.cfg.BaseDelay * time.Duration(1<<item.RetryCount)
		log.Warn("item sync failed, backing off", "error", err, "retry_count", item.RetryCount+1, "delay", delay)
		if serr := p.sleep(ctx, delay); serr != nil {
			break
		}
	}

	result := "ok"
	if stats.Failed > 0 {
		result = "partial"
	}
	p.finish(start, stats, lastFailure, result)
	p.logger.Info("drain finished",
		"processed", stats.Processed,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
	)
	return stats
}

func (p *Processor) evict(ctx context.Context, item queue.Item, log *slog.Logger) {
	if err := p.queue.Remove(ctx, item.ID); err != nil {
		log.Error("failed evicting item", "error", err)
	}
	p.countItem(item, "evicted")
}

func (p *Processor) countItem(item queue.Item, outcome string) {
	if p.metrics != nil {
		p.metrics.SyncItems.WithLabelValues(string(item.EntityType), outcome).Inc()
	}
}

func (p *Processor) finish(start time.Time, stats Stats, lastErr, result string) {
	end := p.now()
	p.mu.Lock()
	p.lastSyncAt = end
	p.lastError = lastErr
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.SyncDrains.WithLabelValues(result).Inc()
		p.metrics.SyncDrainDuration.Observe(end.Sub(start).Seconds())
		p.metrics.SyncQueueDepth.Set(float64(p.queue.Count(context.Background())))
	}
}

// StartAutoSync schedules a drain after the initial delay and then every
// interval. It returns false when auto-sync is already running.
func (p *Processor) StartAutoSync(interval time.Duration) bool {
	p.autoMu.Lock()
	defer p.autoMu.Unlock()
	if p.autoCancel != nil {
		return false
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.autoCancel = cancel
	p.autoWG.Add(1)
	go p.autoLoop(ctx, interval)

	p.logger.Info("auto-sync started", "interval", interval, "initial_delay", p.cfg.InitialDelay)
	return true
}

// StopAutoSync cancels the schedule and waits for an in-flight drain to stop.
func (p *Processor) StopAutoSync() {
	p.autoMu.Lock()
	cancel := p.autoCancel
	p.autoCancel = nil
	p.autoMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.autoWG.Wait()
	p.logger.Info("auto-sync stopped")
}

// AutoSyncEnabled reports whether the schedule is active.
func (p *Processor) AutoSyncEnabled() bool {
	p.autoMu.Lock()
	defer p.autoMu.Unlock()
	return p.autoCancel != nil
}

func (p *Processor) autoLoop(ctx context.Context, interval time.Duration) {
	defer p.autoWG.Done()

	timer := time.NewTimer(p.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			stats := p.Drain(ctx)
			p.logger.Debug("auto-sync run", "processed", stats.Processed, "failed", stats.Failed)
			timer.Reset(interval)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
