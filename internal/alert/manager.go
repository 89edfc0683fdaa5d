package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	"stream-billing/internal/alert/platforms"

	"github.com/rs/zerolog/log"
)

var errCircuitOpen = errors.New("circuit_open")

type breakerState struct {
	consecutiveFailures int
	openUntil           time.Time
}

type Manager struct {
	cfg      Config
	adapters map[string]platforms.Adapter

	dispatchCh chan job
	done       chan struct{}

	mu           sync.Mutex
	started      bool
	breakerByKey map[string]breakerState
}

func NewManager(cfg Config) *Manager {
	client := platforms.NewHTTPClient(cfg.RequestTimeout)
	if cfg.DispatchBuffer <= 0 {
		cfg.DispatchBuffer = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.CircuitOpenDuration <= 0 {
		cfg.CircuitOpenDuration = 30 * time.Second
	}
	return &Manager{
		cfg: cfg,
		adapters: map[string]platforms.Adapter{
			"discord": platforms.NewDiscordAdapter(client),
			"feishu":  platforms.NewFeishuAdapter(client),
			"webhook": platforms.NewWebhookAdapter(client),
		},
		dispatchCh:   make(chan job, cfg.DispatchBuffer),
		done:         make(chan struct{}),
		breakerByKey: map[string]breakerState{},
	}
}

func (m *Manager) Start(ctx context.Context) {
	if !m.cfg.Enabled {
		return
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	for i := 0; i < m.cfg.Workers; i++ {
		go m.worker(ctx)
	}
	go func() {
		<-ctx.Done()
		close(m.done)
	}()
}

// Notify queues ev for every matching target. It never blocks.
func (m *Manager) Notify(ev Event) {
	if m == nil || !m.cfg.Enabled {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	for _, target := range matchTargets(m.cfg.Targets, ev.Kind) {
		if !m.enqueue(job{Target: target, Event: ev}) {
			metricAlertDroppedTotal.Add(1)
			log.Warn().Str("kind", string(ev.Kind)).Str("platform", target.Platform).Msg("alert dropped")
		}
	}
}

func (m *Manager) enqueue(j job) bool {
	select {
	case <-m.done:
		return false
	case m.dispatchCh <- j:
		metricAlertQueuedTotal.Add(1)
		metricAlertQueueLen.Set(int64(len(m.dispatchCh)))
		return true
	default:
		return false
	}
}

func (m *Manager) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case j := <-m.dispatchCh:
			metricAlertQueueLen.Set(int64(len(m.dispatchCh)))
			m.process(ctx, j)
		}
	}
}

func (m *Manager) process(ctx context.Context, j job) {
	adapter := m.adapters[j.Target.Platform]
	if adapter == nil {
		metricAlertDroppedTotal.Add(1)
		return
	}
	if err := m.beforeSend(j.key(), time.Now()); err != nil {
		metricAlertCircuitOpenTotal.Add(1)
		m.retryOrDrop(j)
		return
	}
	if err := adapter.Send(ctx, j.Target.Endpoint, j.Target.Secret, toMessage(j.Event)); err != nil {
		metricAlertFailedTotal.Add(1)
		log.Warn().Err(err).Str("platform", j.Target.Platform).Int("attempt", j.Attempt).Msg("alert delivery failed")
		m.afterFailure(j.key(), time.Now())
		m.retryOrDrop(j)
		return
	}
	metricAlertSentTotal.Add(1)
	m.afterSuccess(j.key())
}

func (m *Manager) retryOrDrop(j job) {
	if j.Attempt >= m.cfg.RetryMax {
		metricAlertRetryDroppedTotal.Add(1)
		return
	}
	j.Attempt++
	metricAlertRetryTotal.Add(1)
	delay := m.cfg.RetryBase * time.Duration(1<<(j.Attempt-1))
	time.AfterFunc(delay, func() { m.requeue(j) })
}

// requeue puts a retry back on the queue, dropping it when the queue is full.
func (m *Manager) requeue(j job) bool {
	select {
	case <-m.done:
		return false
	case m.dispatchCh <- j:
		metricAlertQueueLen.Set(int64(len(m.dispatchCh)))
		return true
	default:
		metricAlertRetryDroppedTotal.Add(1)
		log.Warn().Str("kind", string(j.Event.Kind)).Str("platform", j.Target.Platform).Int("attempt", j.Attempt).
			Msg("alert retry dropped, queue full")
		return false
	}
}

func (m *Manager) beforeSend(key string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.breakerByKey[key]
	if !state.openUntil.IsZero() && now.Before(state.openUntil) {
		return errCircuitOpen
	}
	return nil
}

func (m *Manager) afterFailure(key string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.breakerByKey[key]
	state.consecutiveFailures++
	if state.consecutiveFailures >= m.cfg.FailureThreshold {
		state.openUntil = now.Add(m.cfg.CircuitOpenDuration)
		state.consecutiveFailures = 0
	}
	m.breakerByKey[key] = state
}

func (m *Manager) afterSuccess(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerByKey[key] = breakerState{}
}

var kindColor = map[Kind]int{
	KindLedgerInconsistency: 0xD32F2F,
	KindDeficitRefund:       0xF57C00,
	KindForcedExit:          0x1976D2,
}

func toMessage(ev Event) platforms.Message {
	fields := make([]platforms.Field, 0, len(ev.Fields))
	for _, f := range ev.Fields {
		fields = append(fields, platforms.Field{Name: f.Name, Value: f.Value, Inline: true})
	}
	return platforms.Message{
		Kind:      string(ev.Kind),
		Title:     ev.Title,
		Content:   "[" + string(ev.Kind) + "] " + ev.Title,
		Color:     kindColor[ev.Kind],
		Timestamp: ev.At.Format(time.RFC3339),
		Footer:    ev.Key,
		Fields:    fields,
	}
}
