// Package ha provides the Home Assistant client used to publish energy data.
// Statistics go through the websocket API (the recorder commands are not
// exposed over REST); sensor states go through the REST states API.
package ha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HAClient defines the interface for the Home Assistant client
type HAClient interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	PostState(ctx context.Context, entityID, state string, attributes map[string]interface{}) error
	ImportStatistics(metadata StatisticMetadata, stats []StatisticPoint) error
	LastStatistic(statisticID string, lookback time.Duration) (*StatisticPoint, bool, error)
}

// Client implements HAClient over a websocket connection plus the REST API.
type Client struct {
	baseURL    string
	wsURL      string
	token      string
	logger     *zap.Logger
	httpClient *http.Client

	conn      *websocket.Conn
	connected bool
	connMu    sync.RWMutex
	msgID     int
	msgIDMu   sync.Mutex
	pending   map[int]chan Message
	pendingMu sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	reconnect bool
	writeMu   sync.Mutex // Protects websocket writes
}

// NewClient creates a client for the Home Assistant instance at baseURL
// (e.g. "http://homeassistant.local:8123") using a long-lived access token.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		baseURL: baseURL,
		wsURL:   "ws" + strings.TrimPrefix(baseURL, "http") + "/api/websocket",
		token:   token,
		logger:  logger.Named("ha"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		pending:   make(map[int]chan Message),
		ctx:       ctx,
		cancel:    cancel,
		reconnect: true,
	}
}

func (c *Client) resetContextLocked() {
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
}

// Connect establishes the websocket connection and authenticates
func (c *Client) Connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.connected {
		return fmt.Errorf("already connected")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	c.conn = conn

	// Receive auth_required message
	var authRequired Message
	if err := c.conn.ReadJSON(&authRequired); err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to read auth_required: %w", err)
	}

	if authRequired.Type != "auth_required" {
		c.conn.Close()
		return fmt.Errorf("expected auth_required, got %s", authRequired.Type)
	}

	// Send authentication
	authMsg := AuthMessage{
		Type:        "auth",
		AccessToken: c.token,
	}
	c.writeMu.Lock()
	err = c.conn.WriteJSON(authMsg)
	c.writeMu.Unlock()

	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to send auth: %w", err)
	}

	// Receive auth response
	var authResponse Message
	if err := c.conn.ReadJSON(&authResponse); err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to read auth response: %w", err)
	}

	if authResponse.Type == "auth_invalid" {
		c.conn.Close()
		return fmt.Errorf("authentication failed: invalid token")
	}

	if authResponse.Type != "auth_ok" {
		c.conn.Close()
		return fmt.Errorf("expected auth_ok, got %s", authResponse.Type)
	}

	c.resetContextLocked()
	c.connected = true
	c.reconnect = true
	c.logger.Info("Connected to Home Assistant")

	// Start background message receiver
	go c.receiveMessages()

	return nil
}

// Disconnect closes the websocket connection
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.connected {
		return nil
	}

	c.reconnect = false
	c.cancel()
	c.connected = false

	if c.conn != nil {
		// Send close message (protected by writeMu)
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		c.conn.Close()
		c.conn = nil
	}

	c.logger.Info("Disconnected from Home Assistant")
	return nil
}

// IsConnected returns true if the websocket is connected
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// nextMsgID returns the next message ID
func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// sendMessage sends a command and waits for its result message
func (c *Client) sendMessage(msgID int, msg interface{}) (*Message, error) {
	c.connMu.RLock()
	if !c.connected {
		c.connMu.RUnlock()
		return nil, fmt.Errorf("not connected")
	}
	c.connMu.RUnlock()

	// Create response channel
	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[msgID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msgID)
		c.pendingMu.Unlock()
	}()

	// Send message (protected by writeMu to prevent concurrent writes)
	c.writeMu.Lock()
	err := c.conn.WriteJSON(msg)
	c.writeMu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	// Wait for response with timeout
	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("HA error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("request failed")
		}
		return &resp, nil
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("timeout waiting for response")
	case <-c.ctx.Done():
		return nil, fmt.Errorf("client disconnected")
	}
}

// receiveMessages handles incoming messages in the background
func (c *Client) receiveMessages() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.logger.Error("Failed to read message", zap.Error(err))
			c.handleDisconnect()
			return
		}

		// Route response to waiting goroutine
		if msg.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

// handleDisconnect handles connection loss
func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.logger.Warn("Connection lost")

	if !c.reconnect {
		return
	}

	go c.attemptReconnect()
}

// attemptReconnect tries to reconnect with exponential backoff
func (c *Client) attemptReconnect() {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Attempting to reconnect...")

		if err := c.Connect(); err != nil {
			c.logger.Error("Reconnection failed", zap.Error(err))
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.logger.Info("Reconnected successfully")
		return
	}
}

// ImportStatistics appends points to an external statistics series via the
// recorder. Points for hours the recorder already has are overwritten, so the
// caller should filter against LastStatistic first.
func (c *Client) ImportStatistics(metadata StatisticMetadata, stats []StatisticPoint) error {
	if len(stats) == 0 {
		return nil
	}

	msgID := c.nextMsgID()
	req := &ImportStatisticsRequest{
		ID:       msgID,
		Type:     "recorder/import_statistics",
		Metadata: metadata,
		Stats:    stats,
	}

	if _, err := c.sendMessage(msgID, req); err != nil {
		return fmt.Errorf("import statistics for %s: %w", metadata.StatisticID, err)
	}

	c.logger.Debug("Imported statistics",
		zap.String("statistic_id", metadata.StatisticID),
		zap.Int("points", len(stats)))
	return nil
}

// LastStatistic returns the most recent recorded point of a statistics series
// within the lookback window. The boolean is false when the series has no
// points yet.
func (c *Client) LastStatistic(statisticID string, lookback time.Duration) (*StatisticPoint, bool, error) {
	msgID := c.nextMsgID()
	req := &StatisticsDuringPeriodRequest{
		ID:           msgID,
		Type:         "recorder/statistics_during_period",
		StartTime:    time.Now().Add(-lookback).UTC().Format(time.RFC3339),
		StatisticIDs: []string{statisticID},
		Period:       "hour",
		Types:        []string{"state", "sum"},
	}

	resp, err := c.sendMessage(msgID, req)
	if err != nil {
		return nil, false, fmt.Errorf("query statistics for %s: %w", statisticID, err)
	}

	var result map[string][]statisticRow
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, false, fmt.Errorf("decode statistics result: %w", err)
	}

	rows := result[statisticID]
	if len(rows) == 0 {
		return nil, false, nil
	}

	last := rows[len(rows)-1]
	point := &StatisticPoint{
		Start: time.UnixMilli(int64(last.Start)),
	}
	if last.State != nil {
		point.State = *last.State
	}
	if last.Sum != nil {
		point.Sum = *last.Sum
	}
	return point, true, nil
}
