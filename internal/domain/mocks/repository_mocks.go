package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/V4T54L/scanalyzer/internal/domain"
)

// MockRecordStore is an in-memory domain.RecordStore. It enforces the natural
// key the same way the database constraint does.
type MockRecordStore struct {
	mu        sync.Mutex
	records   map[string]domain.PersistedRecord
	byKey     map[domain.NaturalKey]string
	order     []string
	nextID    int
	InsertErr error
	ReadErr   error
	Inserts   int
}

// NewMockRecordStore creates an empty store.
func NewMockRecordStore() *MockRecordStore {
	return &MockRecordStore{
		records: make(map[string]domain.PersistedRecord),
		byKey:   make(map[domain.NaturalKey]string),
	}
}

func (m *MockRecordStore) insertLocked(rec domain.EnrichedRecord) (domain.PersistedRecord, bool) {
	key := rec.NaturalKey()
	if _, exists := m.byKey[key]; exists {
		return domain.PersistedRecord{}, false
	}
	m.nextID++
	p := domain.PersistedRecord{ID: fmt.Sprintf("rec-%d", m.nextID), EnrichedRecord: rec}
	m.records[p.ID] = p
	m.byKey[key] = p.ID
	m.order = append(m.order, p.ID)
	return p, true
}

func (m *MockRecordStore) InsertOne(ctx context.Context, record domain.EnrichedRecord) (domain.InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Inserts++
	if m.InsertErr != nil {
		return domain.InsertResult{}, m.InsertErr
	}
	p, ok := m.insertLocked(record)
	if !ok {
		return domain.InsertResult{Duplicate: true}, nil
	}
	return domain.InsertResult{ID: p.ID}, nil
}

func (m *MockRecordStore) InsertMany(ctx context.Context, records []domain.EnrichedRecord) (domain.BulkInsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Inserts++
	if m.InsertErr != nil {
		return domain.BulkInsertResult{}, m.InsertErr
	}
	var res domain.BulkInsertResult
	for _, rec := range records {
		p, ok := m.insertLocked(rec)
		if !ok {
			res.Skipped++
			continue
		}
		res.Inserted = append(res.Inserted, p)
	}
	return res, nil
}

func (m *MockRecordStore) GetByID(ctx context.Context, id string) (*domain.PersistedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	p, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *MockRecordStore) List(ctx context.Context, filter domain.RecordFilter) ([]domain.PersistedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	var out []domain.PersistedRecord
	for _, id := range m.order {
		p, ok := m.records[id]
		if !ok {
			continue
		}
		if filter.AgentID != "" && p.AgentID != filter.AgentID ||
			filter.Channel != "" && p.Channel != filter.Channel ||
			filter.Level != "" && p.Level != filter.Level {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Skip >= len(out) {
		return []domain.PersistedRecord{}, nil
	}
	out = out[filter.Skip:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MockRecordStore) Update(ctx context.Context, id string, patch domain.RecordPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	if patch.Level != nil {
		p.Level = *patch.Level
	}
	if patch.Alert != nil {
		p.Alert = *patch.Alert
	}
	if patch.AIClassification != nil {
		p.AIClassification = *patch.AIClassification
	}
	if patch.Trigger != nil {
		p.Trigger = *patch.Trigger
	}
	m.records[id] = p
	return nil
}

func (m *MockRecordStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(m.records, id)
	delete(m.byKey, p.NaturalKey())
	return nil
}

// Count returns the number of stored records.
func (m *MockRecordStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// CountKey returns how many stored records carry the natural key.
func (m *MockRecordStore) CountKey(key domain.NaturalKey) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.records {
		if p.NaturalKey() == key {
			n++
		}
	}
	return n
}

// MockClassifier returns a fixed label, or a label chosen per input text.
type MockClassifier struct {
	mu     sync.Mutex
	Label  string
	Labels map[string]string
	Err    error
	// Delay, when set, is slept before answering. Calls is appended after the
	// sleep, so it records completion order.
	Delay func(text string) time.Duration
	Calls []string
}

func (m *MockClassifier) Classify(ctx context.Context, text string) (string, error) {
	if m.Delay != nil {
		time.Sleep(m.Delay(text))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, text)
	if m.Err != nil {
		return "", m.Err
	}
	if l, ok := m.Labels[text]; ok {
		return l, nil
	}
	return m.Label, nil
}

// MockDescriber resolves descriptions from a map.
type MockDescriber struct {
	Descriptions map[int]string
	Fallback     string
	Err          error
}

func (m *MockDescriber) Describe(ctx context.Context, eventID int) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if d, ok := m.Descriptions[eventID]; ok {
		return d, nil
	}
	return m.Fallback, nil
}

// MockAlertFeed records published alerts.
type MockAlertFeed struct {
	mu        sync.Mutex
	Published []domain.PersistedRecord
	Err       error
}

func (m *MockAlertFeed) Publish(ctx context.Context, records ...domain.PersistedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Published = append(m.Published, records...)
	return nil
}

// MockAlertFeedReader is a mock implementation of domain.AlertFeedReader.
type MockAlertFeedReader struct {
	mu              sync.Mutex
	ReadBatchResult []domain.AlertMessage
	AckedMessageIDs []string
	DLQAlerts       []domain.AlertMessage
	ReadErr         error
	AckErr          error
	DLQErr          error
}

func (m *MockAlertFeedReader) ReadAlertBatch(ctx context.Context, group, consumer string, count int) ([]domain.AlertMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	return m.ReadBatchResult, nil
}

func (m *MockAlertFeedReader) AcknowledgeAlerts(ctx context.Context, group string, messageIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AckErr != nil {
		return m.AckErr
	}
	m.AckedMessageIDs = append(m.AckedMessageIDs, messageIDs...)
	return nil
}

func (m *MockAlertFeedReader) MoveToDLQ(ctx context.Context, alerts []domain.AlertMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DLQErr != nil {
		return m.DLQErr
	}
	m.DLQAlerts = append(m.DLQAlerts, alerts...)
	return nil
}

// MockNotifier is a mock implementation of domain.Notifier.
type MockNotifier struct {
	mu       sync.Mutex
	Notified []domain.AlertMessage
	Attempts int
	Err      error
}

func (m *MockNotifier) Notify(ctx context.Context, alerts []domain.AlertMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attempts++
	if m.Err != nil {
		return m.Err
	}
	m.Notified = append(m.Notified, alerts...)
	return nil
}

// MockBroadcaster records broadcast payloads.
type MockBroadcaster struct {
	mu       sync.Mutex
	Payloads [][]byte
	Result   domain.BroadcastResult
}

func (m *MockBroadcaster) Broadcast(ctx context.Context, payload []byte) domain.BroadcastResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Payloads = append(m.Payloads, payload)
	return m.Result
}

// MockFeedAdmin is an in-memory domain.AlertFeedAdmin. Dead letters are
// requeued into Feed.
type MockFeedAdmin struct {
	mu       sync.Mutex
	Feed     []domain.AlertMessage
	Dead     []domain.DeadAlert
	Acked    []string
	Trimmed  map[string]int64
	LastCall string
	Err      error
}

func (m *MockFeedAdmin) call(name string) error {
	m.LastCall = name
	return m.Err
}

func (m *MockFeedAdmin) Overview(ctx context.Context) (domain.FeedOverview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("overview"); err != nil {
		return domain.FeedOverview{}, err
	}
	return domain.FeedOverview{Length: int64(len(m.Feed)), DLQLength: int64(len(m.Dead)), Groups: []domain.GroupStatus{}}, nil
}

func (m *MockFeedAdmin) Consumers(ctx context.Context, group string) ([]domain.ConsumerStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return []domain.ConsumerStatus{}, m.call("consumers")
}

func (m *MockFeedAdmin) Pending(ctx context.Context, group string) (domain.PendingSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.PendingSummary{}, m.call("pending")
}

func (m *MockFeedAdmin) PendingAlerts(ctx context.Context, group, consumer, startID string, count int64) ([]domain.PendingAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return []domain.PendingAlert{}, m.call("pending_alerts")
}

func (m *MockFeedAdmin) Claim(ctx context.Context, group, consumer string, minIdle time.Duration, ids []string) ([]domain.AlertMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("claim"); err != nil {
		return nil, err
	}
	var out []domain.AlertMessage
	for _, a := range m.Feed {
		for _, id := range ids {
			if a.StreamMessageID == id {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (m *MockFeedAdmin) Acknowledge(ctx context.Context, group string, ids ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ack"); err != nil {
		return 0, err
	}
	m.Acked = append(m.Acked, ids...)
	return int64(len(ids)), nil
}

func (m *MockFeedAdmin) Trim(ctx context.Context, stream string, maxLen int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("trim"); err != nil {
		return 0, err
	}
	if stream != domain.FeedStream && stream != domain.DLQStream {
		return 0, domain.ErrUnknownStream
	}
	if m.Trimmed == nil {
		m.Trimmed = make(map[string]int64)
	}
	m.Trimmed[stream] = maxLen
	return 0, nil
}

func (m *MockFeedAdmin) DeadAlerts(ctx context.Context, count int64) ([]domain.DeadAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("dead_alerts"); err != nil {
		return nil, err
	}
	if int64(len(m.Dead)) > count {
		return m.Dead[:count], nil
	}
	return m.Dead, nil
}

func (m *MockFeedAdmin) Requeue(ctx context.Context, ids ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("requeue"); err != nil {
		return 0, err
	}
	moved := 0
	kept := m.Dead[:0]
	for _, d := range m.Dead {
		requeue := false
		for _, id := range ids {
			if d.ID == id {
				requeue = true
			}
		}
		if requeue {
			m.Feed = append(m.Feed, d.Alert)
			moved++
			continue
		}
		kept = append(kept, d)
	}
	m.Dead = kept
	return moved, nil
}
