package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/repositories/sqlite"
	"go.uber.org/zap"
)

const (
	healthLogRetention  = 7 * 24 * time.Hour
	requestLogRetention = 30 * 24 * time.Hour
)

// Monitor periodically probes every enabled endpoint and runs the
// daily log retention job.
type Monitor struct {
	store        *sqlite.Store
	svc          *Service
	interval     time.Duration
	probeTimeout time.Duration
	client       *http.Client
	logger       *zap.Logger

	ticking atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	cron    *cron.Cron
}

// NewMonitor creates a health monitor.
func NewMonitor(store *sqlite.Store, svc *Service, interval, probeTimeout time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		store:        store,
		svc:          svc,
		interval:     interval,
		probeTimeout: probeTimeout,
		client:       &http.Client{},
		logger:       logger,
	}
}

// Start launches the probe loop and schedules the daily retention job.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.logger.Info("health monitor started", zap.Duration("interval", m.interval))
		m.Tick(ctx)

		for {
			select {
			case <-ticker.C:
				m.Tick(ctx)
			case <-ctx.Done():
				m.logger.Info("health monitor stopped")
				return
			}
		}
	}()

	m.cron = cron.New()
	if _, err := m.cron.AddFunc("0 3 * * *", func() { m.RunRetention(context.Background()) }); err != nil {
		m.logger.Error("failed to schedule retention job", zap.Error(err))
	} else {
		m.cron.Start()
	}
}

// Stop halts the probe loop and the retention scheduler, waiting for
// an in-flight tick to finish.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.cron != nil {
		m.cron.Stop()
	}
	m.wg.Wait()
}

// Tick probes every enabled model concurrently. Ticks are skipped, not
// queued, while a previous tick is still running, so stalled probes
// never pile up.
func (m *Monitor) Tick(ctx context.Context) {
	if !m.ticking.CompareAndSwap(false, true) {
		m.logger.Warn("previous health tick still running, skipping")
		return
	}
	defer m.ticking.Store(false)

	enabled, err := m.store.Models.ListEnabled(ctx)
	if err != nil {
		m.logger.Error("failed to list models for probing", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for _, model := range enabled {
		wg.Add(1)
		go func(model *models.Model) {
			defer wg.Done()
			m.probe(ctx, model)
		}(model)
	}
	wg.Wait()
}

// probe issues a short GET against the endpoint's model listing and
// records the outcome.
func (m *Monitor) probe(ctx context.Context, model *models.Model) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	start := time.Now()
	err := m.probeOnce(probeCtx, model)
	latency := time.Since(start).Milliseconds()

	// Outcomes are recorded against the parent context; the probe
	// deadline must not cancel the store write.

	if err != nil {
		if recErr := m.svc.RecordFailure(ctx, model.ID, err.Error()); recErr != nil {
			m.logger.Error("failed to record probe failure",
				zap.String("model", model.ID), zap.Error(recErr))
		}
		return
	}
	if recErr := m.svc.RecordSuccess(ctx, model.ID, latency); recErr != nil {
		m.logger.Error("failed to record probe success",
			zap.String("model", model.ID), zap.Error(recErr))
	}
}

func (m *Monitor) probeOnce(ctx context.Context, model *models.Model) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(model.Endpoint, "/")+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe returned %d", resp.StatusCode)
	}
	return nil
}

// RunRetention prunes health rows older than 7 days and request rows
// older than 30 days.
func (m *Monitor) RunRetention(ctx context.Context) {
	now := time.Now()

	healthPruned, err := m.store.Health.DeleteOlderThan(ctx, now.Add(-healthLogRetention))
	if err != nil {
		m.logger.Error("failed to prune health log", zap.Error(err))
	}
	requestsPruned, err := m.store.RequestLogs.DeleteOlderThan(ctx, now.Add(-requestLogRetention))
	if err != nil {
		m.logger.Error("failed to prune request log", zap.Error(err))
	}

	m.logger.Info("retention job finished",
		zap.Int64("health_rows_pruned", healthPruned),
		zap.Int64("request_rows_pruned", requestsPruned))
}
