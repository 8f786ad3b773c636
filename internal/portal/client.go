// Package portal implements the HTTP client for the AIL EnergyBuddy portal.
// The portal has no public API: login is a browser form POST whose response
// page embeds a session token and meter ID, and readings come from the
// internal MeterService endpoint the web UI itself calls.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the production EnergyBuddy portal.
	DefaultBaseURL = "https://energybuddy.ail.ch"

	loginPath    = "/it/Security/LoginForm"
	readingsPath = "/api/v2/service/MeterService/getReadingsByScaleAndTimeRange"

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36"
)

// The login response is an HTML page; the session token and meter ID are
// embedded in an inline script.
var (
	tokenPattern = regexp.MustCompile(`aWattgarde\.config\.token\s*=\s*"([^"]+)"`)
	meterPattern = regexp.MustCompile(`"ID":\s*(\d+)`)
)

// Client talks to the EnergyBuddy portal for a single account.
type Client struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client
	logger     *zap.Logger

	token   string
	meterID string
}

// NewClient creates a portal client. Credentials are held in memory only and
// never written anywhere.
func NewClient(baseURL, email, password string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		email:    email,
		password: password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.Named("portal"),
	}
}

// MeterID returns the meter ID scraped during login, or "" before login.
func (c *Client) MeterID() string {
	return c.meterID
}

// Login authenticates against the portal and captures the session token and
// meter ID from the returned page. A fresh login supersedes any prior session.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{
		"AuthenticationMethod": {"CustomMemberAuthenticator"},
		"Email":                {c.email},
		"Password":             {c.password},
		"action_dologin":       {"Accedi"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: building login request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cache-Control", "no-cache, max-age=0, must-revalidate")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: login request: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: login returned status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading login page: %v", ErrUnavailable, err)
	}

	token := ""
	if m := tokenPattern.FindSubmatch(body); m != nil {
		token = string(m[1])
	}
	meterID := ""
	if m := meterPattern.FindSubmatch(body); m != nil {
		meterID = string(m[1])
	}

	// A successful login always lands on a page carrying both values. Their
	// absence means the portal bounced us back to the login form.
	if token == "" || meterID == "" {
		return fmt.Errorf("%w: no session token in login response", ErrAuthFailed)
	}

	c.token = token
	c.meterID = meterID
	c.logger.Debug("Logged in to portal", zap.String("meter_id", meterID))
	return nil
}

// Consumption fetches hourly consumption records for the given window.
// Requires a prior successful Login.
func (c *Client) Consumption(ctx context.Context, from, to time.Time) ([]ConsumptionRecord, error) {
	if c.token == "" {
		return nil, fmt.Errorf("%w: not logged in", ErrAuthFailed)
	}

	c.logger.Debug("Fetching consumption",
		zap.Time("from", from),
		zap.Time("to", to))

	payload := readingsRequest{
		MeterID: c.meterID,
		Scale:   "hours",
		TimeFrame: timeFrame{
			From: from.Format(portalTimeLayout),
			To:   to.Format(portalTimeLayout),
		},
		ForceWholeTimeFrame:   false,
		HoursPrecision:        true,
		FetchPreviousYearData: false,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding readings request: %v", ErrBadResponse, err)
	}

	endpoint := c.baseURL + readingsPath + "?token=" + url.QueryEscape(c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building readings request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: readings request: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// Session expired; the next poll logs in again.
		c.token = ""
		return nil, fmt.Errorf("%w: readings returned status %d", ErrAuthFailed, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: readings returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed ConsumptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding readings: %v", ErrBadResponse, err)
	}

	c.logger.Debug("Fetched consumption records", zap.Int("count", len(parsed.Response)))
	return parsed.Response, nil
}
