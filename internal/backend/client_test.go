package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeSessionSuccess(t *testing.T) {
	var gotBody map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true, "user_id": 42}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.ExchangeSession(context.Background(), "at-123")

	require.NoError(t, err)
	assert.Equal(t, "at-123", gotBody["access_token"])
}

func TestExchangeSessionRejected(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{"non-2xx with message", http.StatusUnauthorized, `{"message": "invalid token"}`, "invalid token"},
		{"error shape under 200", http.StatusOK, `{"error": "user_blocked"}`, "user_blocked"},
		{"empty body", http.StatusInternalServerError, ``, "authentication failed"},
		{"non-json body", http.StatusBadGateway, `<html>upstream error</html>`, "authentication failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL)
			err := client.ExchangeSession(context.Background(), "at-123")

			var rejected *RejectedError
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, tt.status, rejected.Status)
			assert.Equal(t, tt.wantMessage, rejected.Message)
		})
	}
}

func TestExchangeSessionNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // force connection refused

	client := NewClient(server.URL)
	err := client.ExchangeSession(context.Background(), "at-123")

	require.Error(t, err)
	var rejected *RejectedError
	assert.False(t, errors.As(err, &rejected), "transport failure is not a backend rejection")
}
