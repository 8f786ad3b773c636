package ha

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient implements HAClient for testing
type MockClient struct {
	states    map[string]PostedState
	statesMu  sync.RWMutex
	imports   map[string][]StatisticPoint
	metadata  map[string]StatisticMetadata
	lastStats map[string]StatisticPoint
	statsMu   sync.Mutex
	connected bool
	connMu    sync.RWMutex

	// Errors to inject per entry point
	PostStateErr error
	ImportErr    error
	LastStatErr  error
}

// PostedState records a PostState call for verification
type PostedState struct {
	State      string
	Attributes map[string]interface{}
	Time       time.Time
}

// NewMockClient creates a new mock HA client
func NewMockClient() *MockClient {
	return &MockClient{
		states:    make(map[string]PostedState),
		imports:   make(map[string][]StatisticPoint),
		metadata:  make(map[string]StatisticMetadata),
		lastStats: make(map[string]StatisticPoint),
	}
}

// Connect simulates connecting to Home Assistant
func (m *MockClient) Connect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true
	return nil
}

// Disconnect simulates disconnecting
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	m.connected = false
	return nil
}

// IsConnected returns the simulated connection state
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// PostState records the posted state
func (m *MockClient) PostState(_ context.Context, entityID, state string, attributes map[string]interface{}) error {
	if m.PostStateErr != nil {
		return m.PostStateErr
	}

	m.statesMu.Lock()
	defer m.statesMu.Unlock()
	m.states[entityID] = PostedState{
		State:      state,
		Attributes: attributes,
		Time:       time.Now(),
	}
	return nil
}

// ImportStatistics records the imported points
func (m *MockClient) ImportStatistics(metadata StatisticMetadata, stats []StatisticPoint) error {
	if m.ImportErr != nil {
		return m.ImportErr
	}

	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.metadata[metadata.StatisticID] = metadata
	m.imports[metadata.StatisticID] = append(m.imports[metadata.StatisticID], stats...)
	return nil
}

// LastStatistic returns a seeded last point, if any
func (m *MockClient) LastStatistic(statisticID string, _ time.Duration) (*StatisticPoint, bool, error) {
	if m.LastStatErr != nil {
		return nil, false, m.LastStatErr
	}

	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	if p, ok := m.lastStats[statisticID]; ok {
		return &p, true, nil
	}
	return nil, false, nil
}

// SeedLastStatistic sets the point LastStatistic reports for a series
func (m *MockClient) SeedLastStatistic(statisticID string, point StatisticPoint) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.lastStats[statisticID] = point
}

// GetPostedState returns the last posted state for an entity, if any
func (m *MockClient) GetPostedState(entityID string) (PostedState, bool) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()
	s, ok := m.states[entityID]
	return s, ok
}

// ImportedStatistics returns all points imported for a series
func (m *MockClient) ImportedStatistics(statisticID string) []StatisticPoint {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return append([]StatisticPoint(nil), m.imports[statisticID]...)
}

// ImportedMetadata returns the metadata last used for a series
func (m *MockClient) ImportedMetadata(statisticID string) (StatisticMetadata, bool) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	meta, ok := m.metadata[statisticID]
	return meta, ok
}
