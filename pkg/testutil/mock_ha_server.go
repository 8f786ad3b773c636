// Package testutil provides a mock Home Assistant server for integration
// tests: the websocket API with the recorder statistics commands, and the
// REST states API.
package testutil

import (
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EntityState represents a Home Assistant entity state
type EntityState struct {
	EntityID   string                 `json:"entity_id"`
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes"`
}

// StatisticRow is one stored point of an external statistics series
type StatisticRow struct {
	Start time.Time
	State float64
	Sum   float64
}

// Message represents a websocket message
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// AuthMessage represents an authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// MockHAServer simulates the Home Assistant APIs the bridge talks to
type MockHAServer struct {
	server *httptest.Server
	token  string

	states     map[string]*EntityState
	statesMu   sync.RWMutex
	statistics map[string][]StatisticRow
	metadata   map[string]map[string]interface{}
	statsMu    sync.RWMutex
}

// NewMockHAServer creates and starts a mock HA server
func NewMockHAServer(token string) *MockHAServer {
	s := &MockHAServer{
		token:      token,
		states:     make(map[string]*EntityState),
		statistics: make(map[string][]StatisticRow),
		metadata:   make(map[string]map[string]interface{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	mux.HandleFunc("/api/states/", s.handlePostState)
	s.server = httptest.NewServer(mux)

	return s
}

// URL returns the server's base URL
func (s *MockHAServer) URL() string {
	return s.server.URL
}

// Stop shuts the server down
func (s *MockHAServer) Stop() {
	s.server.Close()
}

// GetState retrieves a stored entity state
func (s *MockHAServer) GetState(entityID string) *EntityState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

// Statistics returns the stored points of a series
func (s *MockHAServer) Statistics(statisticID string) []StatisticRow {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return append([]StatisticRow(nil), s.statistics[statisticID]...)
}

// SeedStatistics pre-populates a series, as if recorded on an earlier run
func (s *MockHAServer) SeedStatistics(statisticID string, rows []StatisticRow) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.statistics[statisticID] = append([]StatisticRow(nil), rows...)
}

// handlePostState implements POST /api/states/<entity_id>
func (s *MockHAServer) handlePostState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+s.token {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	entityID := strings.TrimPrefix(r.URL.Path, "/api/states/")

	var body struct {
		State      string                 `json:"state"`
		Attributes map[string]interface{} `json:"attributes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	s.statesMu.Lock()
	_, existed := s.states[entityID]
	s.states[entityID] = &EntityState{
		EntityID:   entityID,
		State:      body.State,
		Attributes: body.Attributes,
	}
	s.statesMu.Unlock()

	if existed {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(s.GetState(entityID))
}

// handleWebSocket implements the websocket API with the recorder commands
func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	// Authentication handshake
	if err := conn.WriteJSON(Message{Type: "auth_required"}); err != nil {
		return
	}

	var auth AuthMessage
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != s.token {
		conn.WriteJSON(Message{Type: "auth_invalid"})
		return
	}
	if err := conn.WriteJSON(Message{Type: "auth_ok"}); err != nil {
		return
	}

	for {
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			return
		}

		var base Message
		if err := json.Unmarshal(raw, &base); err != nil {
			continue
		}

		switch base.Type {
		case "recorder/import_statistics":
			s.handleImportStatistics(conn, raw, base.ID)
		case "recorder/statistics_during_period":
			s.handleStatisticsDuringPeriod(conn, raw, base.ID)
		default:
			success := false
			conn.WriteJSON(Message{ID: base.ID, Type: "result", Success: &success})
		}
	}
}

func (s *MockHAServer) handleImportStatistics(conn *websocket.Conn, raw json.RawMessage, id int) {
	var req struct {
		Metadata map[string]interface{} `json:"metadata"`
		Stats    []struct {
			Start time.Time `json:"start"`
			State float64   `json:"state"`
			Sum   float64   `json:"sum"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		success := false
		conn.WriteJSON(Message{ID: id, Type: "result", Success: &success})
		return
	}

	statisticID, _ := req.Metadata["statistic_id"].(string)

	s.statsMu.Lock()
	s.metadata[statisticID] = req.Metadata
	for _, p := range req.Stats {
		s.statistics[statisticID] = append(s.statistics[statisticID], StatisticRow{
			Start: p.Start,
			State: p.State,
			Sum:   p.Sum,
		})
	}
	s.statsMu.Unlock()

	success := true
	conn.WriteJSON(Message{ID: id, Type: "result", Success: &success})
}

func (s *MockHAServer) handleStatisticsDuringPeriod(conn *websocket.Conn, raw json.RawMessage, id int) {
	var req struct {
		StatisticIDs []string `json:"statistic_ids"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		success := false
		conn.WriteJSON(Message{ID: id, Type: "result", Success: &success})
		return
	}

	// The real recorder reports interval bounds as unix milliseconds
	result := make(map[string][]map[string]interface{})
	s.statsMu.RLock()
	for _, statID := range req.StatisticIDs {
		rows := s.statistics[statID]
		if len(rows) == 0 {
			continue
		}
		out := make([]map[string]interface{}, 0, len(rows))
		for _, row := range rows {
			out = append(out, map[string]interface{}{
				"start": row.Start.UnixMilli(),
				"end":   row.Start.Add(time.Hour).UnixMilli(),
				"state": row.State,
				"sum":   row.Sum,
			})
		}
		result[statID] = out
	}
	s.statsMu.RUnlock()

	payload, err := json.Marshal(result)
	if err != nil {
		success := false
		conn.WriteJSON(Message{ID: id, Type: "result", Success: &success})
		return
	}

	success := true
	conn.WriteJSON(Message{ID: id, Type: "result", Success: &success, Result: payload})
}
