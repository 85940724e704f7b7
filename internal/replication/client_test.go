package replication

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contentnode/internal/store"
)

func TestClient_ClockStatus(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"clockValue": 17}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	got, err := c.ClockStatus(context.Background(), srv.URL, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, int64(17), got)
	assert.Equal(t, "/users/clock_status/0xabc", gotPath)
}

func TestClient_TriggerSyncBody(t *testing.T) {
	var (
		gotMethod string
		gotType   string
		gotBody   map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	err := c.TriggerSync(context.Background(), srv.URL, SyncRequest{
		Wallet:              []string{"0xabc"},
		CreatorNodeEndpoint: "http://primary",
		Immediate:           true,
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, map[string]any{
		"wallet":                []any{"0xabc"},
		"creator_node_endpoint": "http://primary",
		"immediate":             true,
	}, gotBody)
}

func TestClient_TriggerSyncNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("  draining  \n"))
	}))
	defer srv.Close()

	err := NewClient(time.Second).TriggerSync(context.Background(), srv.URL, SyncRequest{Wallet: []string{"0x1"}})
	require.Error(t, err)

	var te *TriggerError
	require.True(t, errors.As(err, &te), "error %v is not a TriggerError", err)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.Equal(t, "draining", te.Body)
	assert.True(t, strings.HasSuffix(te.Endpoint, "/sync"))
}

func TestClient_TriggerSyncBodyExcerptIsBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(strings.Repeat("x", 4*maxErrorBody)))
	}))
	defer srv.Close()

	err := NewClient(time.Second).TriggerSync(context.Background(), srv.URL, SyncRequest{})
	var te *TriggerError
	require.True(t, errors.As(err, &te))
	assert.Len(t, te.Body, maxErrorBody)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(50 * time.Millisecond)
	start := time.Now()
	err := c.TriggerSync(context.Background(), srv.URL, SyncRequest{Wallet: []string{"0x1"}})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = c.ClockStatus(context.Background(), srv.URL, "0x1")
	assert.Error(t, err)
}

func TestClient_DefaultTimeout(t *testing.T) {
	c := NewClient(0)
	assert.Equal(t, DefaultTimeout, c.timeout)
}

func TestClient_UnreachableNode(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(time.Second).ClockStatus(context.Background(), url, "0x1")
	assert.Error(t, err)
}

func TestClient_FetchExport(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(store.Export{UserID: 3, Wallet: r.URL.Query().Get("wallet"), MaxClock: 9})
	}))
	defer srv.Close()

	exp, err := NewClient(time.Second).FetchExport(context.Background(), srv.URL, "0xabc", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(3), exp.UserID)
	assert.Equal(t, int64(9), exp.MaxClock)
	assert.Equal(t, "clock_range_min=4&wallet=0xabc", gotQuery)
}

func TestClient_FetchExportWrongWallet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(store.Export{UserID: 3, Wallet: "0xother"})
	}))
	defer srv.Close()

	_, err := NewClient(time.Second).FetchExport(context.Background(), srv.URL, "0xabc", 1)
	assert.ErrorContains(t, err, "0xother")
}
