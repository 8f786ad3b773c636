package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const loginPageTemplate = `<!DOCTYPE html>
<html>
<head><script>
    aWattgarde.config.token = "%s";
    aWattgarde.config.meters = [{"ID": %s, "Label": "Casa"}];
</script></head>
<body>Benvenuto</body>
</html>`

// mockPortal simulates the EnergyBuddy portal endpoints
func mockPortal(t *testing.T, token, meterID string, readings string) *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "CustomMemberAuthenticator", r.PostFormValue("AuthenticationMethod"))

		if r.PostFormValue("Email") != "user@example.com" || r.PostFormValue("Password") != "secret" {
			// The real portal answers with the login form again, no token
			fmt.Fprint(w, "<html><body>Login fallito</body></html>")
			return
		}
		fmt.Fprintf(w, loginPageTemplate, token, meterID)
	})

	mux.HandleFunc(readingsPath, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req readingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, meterID, req.MeterID)
		assert.Equal(t, "hours", req.Scale)
		assert.True(t, req.HoursPrecision)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, readings)
	})

	return httptest.NewServer(mux)
}

func newTestClient(t *testing.T, baseURL, email, password string) *Client {
	logger, _ := zap.NewDevelopment()
	t.Helper()
	return NewClient(baseURL, email, password, logger)
}

func TestClient_Login(t *testing.T) {
	t.Run("successful login captures token and meter ID", func(t *testing.T) {
		server := mockPortal(t, "tok-123", "4711", `{"response":[]}`)
		defer server.Close()

		client := newTestClient(t, server.URL, "user@example.com", "secret")

		err := client.Login(context.Background())

		require.NoError(t, err)
		assert.Equal(t, "4711", client.MeterID())
	})

	t.Run("bad credentials", func(t *testing.T) {
		server := mockPortal(t, "tok-123", "4711", `{"response":[]}`)
		defer server.Close()

		client := newTestClient(t, server.URL, "user@example.com", "wrong")

		err := client.Login(context.Background())

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAuthFailed)
	})

	t.Run("server error is transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, "user@example.com", "secret")

		err := client.Login(context.Background())

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.NotErrorIs(t, err, ErrAuthFailed)
	})

	t.Run("unreachable portal is transient", func(t *testing.T) {
		client := newTestClient(t, "http://127.0.0.1:1", "user@example.com", "secret")

		err := client.Login(context.Background())

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestClient_Consumption(t *testing.T) {
	readingsJSON := `{"response":[
		{"day":1.5,"night":0.0,"from":"2024-03-01 10:00:00","to":"2024-03-01 11:00:00","isPending":false,"readingsCount":4},
		{"day":0.0,"night":0.8,"from":"2024-03-01 22:00:00","to":"2024-03-01 23:00:00","isPending":false,"readingsCount":4},
		{"from":"2024-03-01 23:00:00","to":"2024-03-02 00:00:00","isPending":true}
	]}`

	t.Run("fetches and parses records", func(t *testing.T) {
		server := mockPortal(t, "tok-123", "4711", readingsJSON)
		defer server.Close()

		client := newTestClient(t, server.URL, "user@example.com", "secret")
		require.NoError(t, client.Login(context.Background()))

		from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)
		to := time.Date(2024, 3, 2, 0, 0, 0, 0, time.Local)
		records, err := client.Consumption(context.Background(), from, to)

		require.NoError(t, err)
		require.Len(t, records, 3)

		require.NotNil(t, records[0].Day)
		assert.Equal(t, 1.5, *records[0].Day)
		require.NotNil(t, records[0].ReadingsCount)
		assert.Equal(t, 4, *records[0].ReadingsCount)
		assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local), records[0].From.Time)

		assert.True(t, records[2].IsPending)
		assert.Nil(t, records[2].ReadingsCount)
	})

	t.Run("requires login first", func(t *testing.T) {
		client := newTestClient(t, "http://unused", "user@example.com", "secret")

		_, err := client.Consumption(context.Background(), time.Now().Add(-time.Hour), time.Now())

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAuthFailed)
	})

	t.Run("expired session surfaces as auth failure", func(t *testing.T) {
		server := mockPortal(t, "tok-123", "4711", readingsJSON)
		defer server.Close()

		client := newTestClient(t, server.URL, "user@example.com", "secret")
		require.NoError(t, client.Login(context.Background()))

		// Invalidate the session behind the client's back
		client.token = "stale"

		_, err := client.Consumption(context.Background(), time.Now().Add(-time.Hour), time.Now())

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAuthFailed)
	})

	t.Run("malformed body is a parse error", func(t *testing.T) {
		server := mockPortal(t, "tok-123", "4711", `<html>not json</html>`)
		defer server.Close()

		client := newTestClient(t, server.URL, "user@example.com", "secret")
		require.NoError(t, client.Login(context.Background()))

		_, err := client.Consumption(context.Background(), time.Now().Add(-time.Hour), time.Now())

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBadResponse)
	})

	t.Run("server error is transient", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, loginPageTemplate, "tok-123", "4711")
		})
		mux.HandleFunc(readingsPath, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		client := newTestClient(t, server.URL, "user@example.com", "secret")
		require.NoError(t, client.Login(context.Background()))

		_, err := client.Consumption(context.Background(), time.Now().Add(-time.Hour), time.Now())

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestTime_UnmarshalJSON(t *testing.T) {
	t.Run("portal format", func(t *testing.T) {
		var ts Time
		require.NoError(t, json.Unmarshal([]byte(`"2024-03-01 10:00:00"`), &ts))
		assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local), ts.Time)
	})

	t.Run("rfc3339 fallback", func(t *testing.T) {
		var ts Time
		require.NoError(t, json.Unmarshal([]byte(`"2024-03-01T10:00:00Z"`), &ts))
		assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), ts.Time)
	})

	t.Run("garbage", func(t *testing.T) {
		var ts Time
		assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
	})
}
