package telemetry

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/afroash/greenhouse-monitor/internal/config"
	"github.com/afroash/greenhouse-monitor/internal/models"
)

const (
	mirrorQueueSize = 16
	breakerFailures = 3
	breakerTarget   = "mqtt"
)

var (
	errNotConnected = errors.New("mqtt broker not connected")
	errBreakerOpen  = errors.New("mqtt circuit breaker is open")
)

// BreakerMetrics receives publish outcomes and breaker transitions. A nil
// *metrics.Metrics satisfies it.
type BreakerMetrics interface {
	MirrorPublished(success bool)
	SetCircuitBreakerState(target string, state float64)
}

// Mirror publishes every snapshot as a retained message on the
// greenhouse state topic
type Mirror struct {
	pub      Publisher
	topic    string
	qos      byte
	retained bool
	breaker  *gobreaker.CircuitBreaker
	metrics  BreakerMetrics
	logger   zerolog.Logger

	queue  chan models.Snapshot
	mutex  sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	published atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// MirrorStats contains publish counters
type MirrorStats struct {
	Published int64  `json:"published"`
	Failed    int64  `json:"failed"`
	Dropped   int64  `json:"dropped"`
	Breaker   string `json:"breaker"`
}

// NewMirror starts a mirror publishing through pub
func NewMirror(pub Publisher, cfg config.MQTTSettings, m BreakerMetrics, logger zerolog.Logger) *Mirror {
	mr := &Mirror{
		pub:      pub,
		topic:    cfg.Topic,
		qos:      cfg.QoS,
		retained: cfg.Retained,
		metrics:  m,
		logger:   logger,
		queue:    make(chan models.Snapshot, mirrorQueueSize),
	}

	mr.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    breakerTarget,
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("Circuit breaker state changed")
			m.SetCircuitBreakerState(breakerTarget, float64(to))
		},
	})
	m.SetCircuitBreakerState(breakerTarget, float64(gobreaker.StateClosed))

	mr.wg.Add(1)
	go mr.run()
	return mr
}

// OnSnapshot queues a snapshot without blocking the monitor loop
func (mr *Mirror) OnSnapshot(s models.Snapshot) {
	mr.mutex.RLock()
	defer mr.mutex.RUnlock()
	if mr.closed {
		return
	}

	select {
	case mr.queue <- s:
	default:
		mr.dropped.Add(1)
		mr.logger.Debug().Msg("Mirror queue full, dropping snapshot")
	}
}

func (mr *Mirror) run() {
	defer mr.wg.Done()
	for s := range mr.queue {
		mr.publish(s)
	}
}

func (mr *Mirror) publish(s models.Snapshot) {
	msg, err := models.NewMessage(models.MessageTypeSnapshot, s)
	if err != nil {
		mr.logger.Error().Err(err).Msg("Failed to encode snapshot")
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		mr.logger.Error().Err(err).Msg("Failed to encode snapshot")
		return
	}

	_, err = mr.breaker.Execute(func() (interface{}, error) {
		return nil, mr.pub.Publish(mr.topic, mr.qos, mr.retained, payload)
	})
	mr.metrics.MirrorPublished(err == nil)
	if err != nil {
		mr.failed.Add(1)
		mr.logger.Debug().Err(err).Str("topic", mr.topic).Msg("Failed to publish snapshot")
		return
	}
	mr.published.Add(1)
}

// HealthCheck reports broker connectivity and breaker state
func (mr *Mirror) HealthCheck() error {
	if !mr.pub.Connected() {
		return errNotConnected
	}
	if mr.breaker.State() == gobreaker.StateOpen {
		return errBreakerOpen
	}
	return nil
}

// Stats returns publish counters
func (mr *Mirror) Stats() MirrorStats {
	return MirrorStats{
		Published: mr.published.Load(),
		Failed:    mr.failed.Load(),
		Dropped:   mr.dropped.Load(),
		Breaker:   mr.breaker.State().String(),
	}
}

// Close publishes what is queued, then disconnects
func (mr *Mirror) Close() {
	mr.mutex.Lock()
	if mr.closed {
		mr.mutex.Unlock()
		return
	}
	mr.closed = true
	close(mr.queue)
	mr.mutex.Unlock()

	done := make(chan struct{})
	go func() {
		mr.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		mr.logger.Warn().Msg("Timed out draining mirror queue")
	}

	mr.pub.Close()
	stats := mr.Stats()
	mr.logger.Info().Int64("published", stats.Published).Int64("failed", stats.Failed).Msg("Telemetry mirror closed")
}
