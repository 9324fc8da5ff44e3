package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ertvizerrors "github.com/turtacn/ertviz/pkg/errors"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, opts...)
	require.NoError(t, err)
	return client
}

type testLogger struct {
	lastMsg string
	count   int32
}

func (l *testLogger) Debugf(format string, args ...interface{}) {
	l.log(format, args...)
}
func (l *testLogger) Infof(format string, args ...interface{}) {
	l.log(format, args...)
}
func (l *testLogger) Errorf(format string, args ...interface{}) {
	l.log(format, args...)
}
func (l *testLogger) log(format string, args ...interface{}) {
	atomic.AddInt32(&l.count, 1)
	l.lastMsg = fmt.Sprintf(format, args...)
}

// ---------------------------------------------------------------------------
// Constructor Tests
// ---------------------------------------------------------------------------

func TestNewClient_Success(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:5000/")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:5000", c.BaseURL())
	assert.Contains(t, c.userAgent, "ertviz-go-sdk/")
	assert.Equal(t, 30*time.Second, c.httpClient.Timeout)
}

func TestNewClient_EmptyBaseURL(t *testing.T) {
	_, err := NewClient("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := NewClient("ftp://invalid")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewClient("invalid-url")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEnsembleURL(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:5000")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:5000/ensembles/1", c.EnsembleURL("1"))
}

// ---------------------------------------------------------------------------
// Request Tests
// ---------------------------------------------------------------------------

func TestFetch_Headers(t *testing.T) {
	var gotUA, gotID, gotAuth, gotAccept string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotID = r.Header.Get("X-Request-ID")
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		_, _ = w.Write([]byte(`{}`))
	}, WithToken("secret"), WithUserAgent("test-agent"))

	var out map[string]interface{}
	require.NoError(t, c.FetchSchema(context.Background(), c.BaseURL()+"/ensembles/1", &out))
	assert.Equal(t, "test-agent", gotUA)
	assert.NotEmpty(t, gotID)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "application/json", gotAccept)
}

func TestFetch_UniqueRequestIDs(t *testing.T) {
	seen := make(map[string]bool)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen[r.Header.Get("X-Request-ID")] = true
		_, _ = w.Write([]byte(`1`))
	})
	for i := 0; i < 5; i++ {
		_, err := c.FetchRaw(context.Background(), c.BaseURL()+"/data/1")
		require.NoError(t, err)
	}
	assert.Len(t, seen, 5)
}

func TestEnsembles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ensembles", r.URL.Path)
		_, _ = w.Write([]byte(`{"ensembles": [
			{"name": "default", "ref_url": "http://127.0.0.1:5000/ensembles/1", "time_created": "2020-04-29T09:36:26"},
			{"name": "smoother", "ref_url": "http://127.0.0.1:5000/ensembles/2",
			 "parent": {"name": "default", "ref_url": "http://127.0.0.1:5000/ensembles/1"}}
		]}`))
	})

	list, err := c.Ensembles(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "1", list[0].ID())
	assert.Equal(t, "2", list[1].ID())
	require.NotNil(t, list[1].Parent)
	assert.Equal(t, "default", list[1].Parent.Name.String())
}

func TestFetchSeries(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data/1":
			_, _ = w.Write([]byte("0.50, 0.38, 0.35"))
		case "/data/2":
			_, _ = w.Write([]byte("[1, 2, 3]"))
		default:
			_, _ = w.Write([]byte("1, abc"))
		}
	})
	ctx := context.Background()

	v, err := c.FetchSeries(ctx, c.BaseURL()+"/data/1")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.38, 0.35}, v)

	v, err = c.FetchSeries(ctx, c.BaseURL()+"/data/2")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, v)

	_, err = c.FetchSeries(ctx, c.BaseURL()+"/data/3")
	require.Error(t, err)
	assert.True(t, ertvizerrors.IsCode(err, ertvizerrors.CodePayloadMalformed))
}

func TestFetchTokens_Dates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("2010-01-01, 2010-01-10,2010-01-20"))
	})
	tokens, err := c.FetchTokens(context.Background(), c.BaseURL()+"/data/725")
	require.NoError(t, err)
	assert.Equal(t, []string{"2010-01-01", "2010-01-10", "2010-01-20"}, tokens)
}

func TestFetch_NonOKStatus(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("backend down"))
	})

	_, err := c.FetchRaw(context.Background(), c.BaseURL()+"/data/1")
	require.Error(t, err)
	assert.True(t, ertvizerrors.IsCode(err, ertvizerrors.CodeFetchFailed))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.True(t, apiErr.IsServerError())
	assert.Equal(t, "backend down", apiErr.Body)
	assert.NotEmpty(t, apiErr.RequestID)

	// no retry
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetch_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	var out map[string]interface{}
	err := c.FetchSchema(context.Background(), c.BaseURL()+"/ensembles/9", &out)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsNotFound())
}

func TestFetchSchema_InvalidJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":`))
	})
	var out map[string]interface{}
	err := c.FetchSchema(context.Background(), c.BaseURL()+"/ensembles/1", &out)
	assert.True(t, ertvizerrors.IsCode(err, ertvizerrors.CodePayloadMalformed))
}

func TestFetch_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := server.URL
	server.Close()

	logger := &testLogger{}
	c, err := NewClient(base, WithLogger(logger))
	require.NoError(t, err)

	_, err = c.FetchRaw(context.Background(), base+"/data/1")
	require.Error(t, err)
	assert.True(t, ertvizerrors.IsCode(err, ertvizerrors.CodeFetchFailed))
	assert.Contains(t, logger.lastMsg, "failed")
}

func TestFetch_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchRaw(ctx, c.BaseURL()+"/data/1")
	assert.Error(t, err)
}

func TestFetch_EmptyURL(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:5000")
	require.NoError(t, err)
	_, err = c.FetchSeries(context.Background(), "")
	assert.True(t, ertvizerrors.IsCode(err, ertvizerrors.CodePayloadMalformed))
}

func TestFetch_Observer(t *testing.T) {
	var kinds []FetchKind
	var statuses []int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("1,2"))
	}, WithObserver(func(kind FetchKind, status int, _ time.Duration) {
		kinds = append(kinds, kind)
		statuses = append(statuses, status)
	}))

	_, _ = c.FetchSeries(context.Background(), c.BaseURL()+"/data/1")
	_, _ = c.FetchTokens(context.Background(), c.BaseURL()+"/missing")
	assert.Equal(t, []FetchKind{KindSeries, KindTokens}, kinds)
	assert.Equal(t, []int{200, 404}, statuses)
}

// ---------------------------------------------------------------------------
// Payload Tests
// ---------------------------------------------------------------------------

func TestParseSeries(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []float64
		wantErr bool
	}{
		{"comma", "0,1,2", []float64{0, 1, 2}, false},
		{"comma space", "0.50, 0.38, 0.35", []float64{0.5, 0.38, 0.35}, false},
		{"json array", "[0.5, 1e2]", []float64{0.5, 100}, false},
		{"empty", "  ", []float64{}, false},
		{"trailing newline", "1,2\n", []float64{1, 2}, false},
		{"hole", "1,,2", nil, true},
		{"text", "a,b", nil, true},
		{"broken json", "[1,", nil, true},
		{"nan", "nan,0.2", nil, true},
		{"inf", "0.1,+Inf", nil, true},
		{"json nan string", `["NaN"]`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSeries([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTokens_JSONStrings(t *testing.T) {
	got, err := ParseTokens([]byte(`["2010-01-01", "2010-02-01"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"2010-01-01", "2010-02-01"}, got)
}

func TestFetchSeries_NonFinite(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("nan,0.2,0.3"))
	})
	_, err := c.FetchSeries(context.Background(), c.baseURL+"/data/1")
	require.Error(t, err)
	assert.True(t, ertvizerrors.IsCode(err, ertvizerrors.CodePayloadMalformed))
}

func TestFetch_PayloadTooLarge(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0.1,0.2,0.345"))
	}, WithMaxBodySize(10))

	values, err := c.FetchSeries(context.Background(), c.baseURL+"/data/1")
	require.Error(t, err)
	assert.Nil(t, values)
	assert.True(t, ertvizerrors.IsCode(err, ertvizerrors.CodePayloadMalformed))
	assert.Contains(t, err.Error(), "payload exceeds 10 bytes")
}

func TestFetch_PayloadAtLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0.1,0.2,03"))
	}, WithMaxBodySize(10))

	values, err := c.FetchSeries(context.Background(), c.baseURL+"/data/1")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 3}, values)
}
