package source

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igmonitor/pkg/config"
	"igmonitor/pkg/errors"
)

func newTestClient() *Client {
	return NewClient(&config.SourceConfig{
		SessionID: "test-session",
		UserAgent: "test-agent",
		Timeout:   5 * time.Second,
	}, nil)
}

func TestGetJSONSendsAuthHeaders(t *testing.T) {
	var gotCookie, gotAppID, gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotAppID = r.Header.Get("X-IG-App-ID")
		gotAgent = r.Header.Get("User-Agent")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := newTestClient()
	var out feedResponse
	err := client.getJSON(context.Background(), server.URL, &out)
	require.NoError(t, err)

	assert.Equal(t, "sessionid=test-session", gotCookie)
	assert.Equal(t, "936619743392459", gotAppID)
	assert.Equal(t, "test-agent", gotAgent)
}

func TestGetJSONStatusMapping(t *testing.T) {
	tests := []struct {
		status   int
		wantType errors.ErrorType
	}{
		{http.StatusTooManyRequests, errors.ErrorTypeRateLimit},
		{http.StatusUnauthorized, errors.ErrorTypeAuth},
		{http.StatusForbidden, errors.ErrorTypeAuth},
		{http.StatusNotFound, errors.ErrorTypeNotFound},
		{http.StatusInternalServerError, errors.ErrorTypeServerError},
		{http.StatusBadGateway, errors.ErrorTypeServerError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := newTestClient()
			var out feedResponse
			err := client.getJSON(context.Background(), server.URL, &out)
			require.Error(t, err)

			var typed *errors.Error
			require.True(t, stderrors.As(err, &typed))
			assert.Equal(t, tt.wantType, typed.Type)
			assert.Equal(t, tt.status, typed.Code)
		})
	}
}

func TestGetJSONUnparseableBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>for you page</html>`))
	}))
	defer server.Close()

	client := newTestClient()
	var out feedResponse
	err := client.getJSON(context.Background(), server.URL, &out)
	require.Error(t, err)

	var typed *errors.Error
	require.True(t, stderrors.As(err, &typed))
	assert.Equal(t, errors.ErrorTypeExtraction, typed.Type)
}

func TestGetJSONContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestClient()
	var out feedResponse
	err := client.getJSON(ctx, server.URL, &out)
	require.Error(t, err)

	var typed *errors.Error
	require.True(t, stderrors.As(err, &typed))
	assert.Equal(t, errors.ErrorTypeNetwork, typed.Type)
}

func TestSetHeaderOverrides(t *testing.T) {
	var gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := newTestClient()
	client.SetHeader("User-Agent", "other-agent")

	var out feedResponse
	require.NoError(t, client.getJSON(context.Background(), server.URL, &out))
	assert.Equal(t, "other-agent", gotAgent)
}

func TestProfileFeedURL(t *testing.T) {
	url := ProfileFeedURL("someuser")
	assert.Contains(t, url, BaseURL)
	assert.Contains(t, url, "username=someuser")
}
