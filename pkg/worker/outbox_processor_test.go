package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
	"github.com/jwalitptl/consult-api/pkg/logger"
	"github.com/jwalitptl/consult-api/pkg/messaging"
	"github.com/jwalitptl/consult-api/pkg/metrics"
)

// MockOutboxRepository keeps events in memory and applies the same selection
// rule as the Postgres query: pending, or retry with retry_at not in the future.
type MockOutboxRepository struct {
	mu         sync.Mutex
	events     []*model.OutboxEvent
	statuses   map[uuid.UUID]model.OutboxStatus
	errors     map[uuid.UUID]string
	now        func() time.Time
	GetErr     error
	DeleteFunc func(ctx context.Context, before time.Time) (int64, error)
}

var _ repository.OutboxRepository = (*MockOutboxRepository)(nil)

func NewMockOutboxRepository(events ...*model.OutboxEvent) *MockOutboxRepository {
	m := &MockOutboxRepository{
		events:   events,
		statuses: make(map[uuid.UUID]model.OutboxStatus),
		errors:   make(map[uuid.UUID]string),
		now:      time.Now,
	}
	for _, e := range events {
		m.statuses[e.ID] = model.OutboxStatus(e.Status)
	}
	return m
}

func (m *MockOutboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.OutboxEvent
	for _, e := range m.events {
		if len(out) == limit {
			break
		}
		switch m.statuses[e.ID] {
		case model.OutboxStatusPending:
		case model.OutboxStatusRetry:
			if e.RetryAt != nil && e.RetryAt.After(m.now()) {
				continue
			}
		default:
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MockOutboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = status
	if errMsg != nil {
		m.errors[id] = *errMsg
	}
	if status == model.OutboxStatusFailed {
		m.find(id).RetryCount++
	}
	return nil
}

func (m *MockOutboxRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = model.OutboxStatusRetry
	m.errors[id] = errMsg
	e := m.find(id)
	e.RetryCount++
	e.RetryAt = &retryAt
	return nil
}

func (m *MockOutboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	return m.DeleteFunc(ctx, before)
}

func (m *MockOutboxRepository) find(id uuid.UUID) *model.OutboxEvent {
	for _, e := range m.events {
		if e.ID == id {
			return e
		}
	}
	return nil
}

type FakeBroker struct {
	mu        sync.Mutex
	published []messaging.Message
	failures  int
	err       error
}

var _ messaging.Broker = (*FakeBroker)(nil)

func (b *FakeBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures != 0 {
		if b.failures > 0 {
			b.failures--
		}
		return b.err
	}
	b.published = append(b.published, message.(messaging.Message))
	return nil
}

func (b *FakeBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *FakeBroker) Close() error { return nil }

func newEvent(patientID string) *model.OutboxEvent {
	payload, _ := json.Marshal(map[string]string{"patient_id": patientID})
	return &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: model.EventConsultationRecorded,
		Payload:   payload,
		Status:    string(model.OutboxStatusPending),
		CreatedAt: time.Now(),
	}
}

func testConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		Channel:       "consultations",
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		MaxDeliveries: 3,
		RetryBackoff:  30 * time.Second,
	}
}

func TestNewOutboxProcessor_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 0
	_, err := NewOutboxProcessor(NewMockOutboxRepository(), &FakeBroker{}, cfg, logger.Nop(), metrics.New("test"))
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Channel = ""
	_, err = NewOutboxProcessor(NewMockOutboxRepository(), &FakeBroker{}, cfg, logger.Nop(), metrics.New("test"))
	assert.Error(t, err)

	cfg = testConfig()
	cfg.MaxDeliveries = 0
	_, err = NewOutboxProcessor(NewMockOutboxRepository(), &FakeBroker{}, cfg, logger.Nop(), metrics.New("test"))
	assert.Error(t, err)

	cfg = testConfig()
	cfg.RetryBackoff = 0
	_, err = NewOutboxProcessor(NewMockOutboxRepository(), &FakeBroker{}, cfg, logger.Nop(), metrics.New("test"))
	assert.Error(t, err)
}

func TestProcessBatch_Publishes(t *testing.T) {
	e1, e2 := newEvent("P001"), newEvent("P002")
	repo := NewMockOutboxRepository(e1, e2)
	broker := &FakeBroker{}
	m := metrics.New("test")

	p, err := NewOutboxProcessor(repo, broker, testConfig(), logger.Nop(), m)
	require.NoError(t, err)

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, broker.published, 2)
	assert.Equal(t, e1.ID.String(), broker.published[0].ID)
	assert.Equal(t, model.EventConsultationRecorded, broker.published[0].Type)
	assert.JSONEq(t, `{"patient_id":"P001"}`, string(broker.published[0].Payload))

	assert.Equal(t, model.OutboxStatusProcessed, repo.statuses[e1.ID])
	assert.Equal(t, model.OutboxStatusProcessed, repo.statuses[e2.ID])
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxEventsProcessed))

	n, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessBatch_RetriesThenSucceeds(t *testing.T) {
	e := newEvent("P001")
	repo := NewMockOutboxRepository(e)
	broker := &FakeBroker{failures: 2, err: errors.New("connection reset")}
	m := metrics.New("test")

	p, err := NewOutboxProcessor(repo, broker, testConfig(), logger.Nop(), m)
	require.NoError(t, err)

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.OutboxStatusProcessed, repo.statuses[e.ID])
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxRetries.WithLabelValues(model.EventConsultationRecorded)))
}

func TestProcessBatch_ReschedulesUndeliveredEvent(t *testing.T) {
	now := time.Date(2025, 9, 2, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	e := newEvent("P001")
	repo := NewMockOutboxRepository(e)
	repo.now = clock
	broker := &FakeBroker{failures: 3, err: errors.New("redis down")}
	m := metrics.New("test")

	p, err := NewOutboxProcessor(repo, broker, testConfig(), logger.Nop(), m)
	require.NoError(t, err)
	p.now = clock

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, model.OutboxStatusRetry, repo.statuses[e.ID])
	assert.Equal(t, "redis down", repo.errors[e.ID])
	assert.Equal(t, 1, e.RetryCount)
	require.NotNil(t, e.RetryAt)
	assert.Equal(t, now.Add(30*time.Second), *e.RetryAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxEventsRescheduled))
	assert.Zero(t, testutil.ToFloat64(m.OutboxEventsFailed))

	// Not due yet.
	n, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, broker.published)

	now = now.Add(31 * time.Second)
	n, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.OutboxStatusProcessed, repo.statuses[e.ID])
	require.Len(t, broker.published, 1)
	assert.Equal(t, e.ID.String(), broker.published[0].ID)
}

func TestProcessBatch_MarksFailedAfterMaxDeliveries(t *testing.T) {
	now := time.Date(2025, 9, 2, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	e := newEvent("P001")
	repo := NewMockOutboxRepository(e)
	repo.now = clock
	broker := &FakeBroker{failures: -1, err: errors.New("redis down")}
	m := metrics.New("test")

	p, err := NewOutboxProcessor(repo, broker, testConfig(), logger.Nop(), m)
	require.NoError(t, err)
	p.now = clock

	var retryAts []time.Time
	for i := 0; i < 3; i++ {
		_, err := p.ProcessBatch(context.Background())
		require.NoError(t, err)
		if e.RetryAt != nil {
			retryAts = append(retryAts, *e.RetryAt)
		}
		now = now.Add(2 * time.Hour)
	}

	assert.Equal(t, model.OutboxStatusFailed, repo.statuses[e.ID])
	assert.Equal(t, "redis down", repo.errors[e.ID])
	assert.Equal(t, 3, e.RetryCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxEventsFailed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxEventsRescheduled))

	require.Len(t, retryAts, 3)
	start := time.Date(2025, 9, 2, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, start.Add(30*time.Second), retryAts[0])
	assert.Equal(t, start.Add(2*time.Hour+time.Minute), retryAts[1])

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBackoff_IsCapped(t *testing.T) {
	p, err := NewOutboxProcessor(NewMockOutboxRepository(), &FakeBroker{}, testConfig(), logger.Nop(), metrics.New("test"))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, p.backoff(0))
	assert.Equal(t, 2*time.Minute, p.backoff(2))
	assert.Equal(t, time.Hour, p.backoff(20))
}

func TestProcessBatch_RepositoryError(t *testing.T) {
	repo := NewMockOutboxRepository()
	repo.GetErr = errors.New("no connection")

	p, err := NewOutboxProcessor(repo, &FakeBroker{}, testConfig(), logger.Nop(), metrics.New("test"))
	require.NoError(t, err)

	_, err = p.ProcessBatch(context.Background())
	assert.Error(t, err)
}

func TestStart_StopsOnCancel(t *testing.T) {
	repo := NewMockOutboxRepository(newEvent("P001"))
	broker := &FakeBroker{}
	cfg := testConfig()
	cfg.PollInterval = 5 * time.Millisecond

	p, err := NewOutboxProcessor(repo, broker, cfg, logger.Nop(), metrics.New("test"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return len(broker.published) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop")
	}
}

func TestOutboxCleanupWorker(t *testing.T) {
	now := time.Date(2025, 9, 2, 12, 0, 0, 0, time.UTC)
	var cutoff time.Time
	repo := NewMockOutboxRepository()
	repo.DeleteFunc = func(_ context.Context, before time.Time) (int64, error) {
		cutoff = before
		return 4, nil
	}
	m := metrics.New("test")

	w := NewOutboxCleanupWorker(repo, 24*time.Hour, time.Hour, logger.Nop(), m)
	w.now = func() time.Time { return now }

	n, err := w.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, now.Add(-24*time.Hour), cutoff)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.OutboxEventsPurged))

	repo.DeleteFunc = func(context.Context, time.Time) (int64, error) { return 0, errors.New("locked") }
	_, err = w.Cleanup(context.Background())
	assert.Error(t, err)
}
