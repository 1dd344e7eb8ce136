package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/roastbench/internal/logging"
	"github.com/bdougie/roastbench/internal/models"
)

type recordedSleep struct {
	calls  atomic.Int32
	delays []time.Duration
}

func (r *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	r.calls.Add(1)
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func newTestClient(t *testing.T, url string, rs *recordedSleep, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithSleep(rs.sleep),
		WithDelay(10*time.Millisecond, 20*time.Millisecond),
		WithTimeout(2 * time.Second),
		WithLogger(logging.Discard()),
	}
	c, err := NewClient(url, "test-key", append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func TestNewClient_MissingAPIKey(t *testing.T) {
	_, err := NewClient("http://localhost", "  ")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMissingCredentials)
}

func TestNewClient_InvertedDelay(t *testing.T) {
	_, err := NewClient("http://localhost", "k", WithDelay(5*time.Second, time.Second))
	require.Error(t, err)
}

func TestGenerate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "samurai vs T-rex", body["prompt"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"video_url":"https://cdn.example.com/v1.mp4","id":"abc"}`))
	}))
	defer srv.Close()

	rs := &recordedSleep{}
	c := newTestClient(t, srv.URL, rs)

	resp, err := c.Generate(context.Background(), "samurai vs T-rex")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/v1.mp4", resp.VideoURL)
	assert.Equal(t, "abc", resp.Raw["id"])

	require.Equal(t, int32(1), rs.calls.Load())
	assert.GreaterOrEqual(t, rs.delays[0], 10*time.Millisecond)
	assert.LessOrEqual(t, rs.delays[0], 20*time.Millisecond)
}

func TestGenerate_Non2xxIsTypedRejection(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	rs := &recordedSleep{}
	c := newTestClient(t, srv.URL, rs)

	_, err := c.Generate(context.Background(), "p")
	require.Error(t, err)

	var te *models.TransportError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Rejected())
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
	assert.Equal(t, "rate limited", te.Body)

	// no internal retry, but the policy delay still happened
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int32(1), rs.calls.Load())
}

func TestGenerate_MissingVideoURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &recordedSleep{})
	resp, err := c.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ErrNoVideoURL)
	require.NotNil(t, resp)
	assert.Equal(t, "queued", resp.Raw["status"])
}

func TestGenerate_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv.URL, &recordedSleep{}, WithTimeout(50*time.Millisecond))
	_, err := c.Generate(context.Background(), "p")
	require.Error(t, err)

	var te *models.TransportError
	require.True(t, errors.As(err, &te))
	assert.False(t, te.Rejected())
}

func TestGenerate_CancelledDuringDelay(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1", "k",
		WithDelay(time.Hour, time.Hour),
		WithLogger(logging.Discard()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err = c.Generate(ctx, "p")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGenerate_SharedSessionIsReused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"video_url":"u"}`))
	}))
	defer srv.Close()

	var dials atomic.Int32
	transport := http.DefaultTransport.(*http.Transport).Clone()
	inner := transport.DialContext
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dials.Add(1)
		return inner(ctx, network, addr)
	}
	hc := &http.Client{Transport: transport}
	defer hc.CloseIdleConnections()

	c := newTestClient(t, srv.URL, &recordedSleep{}, WithHTTPClient(hc))
	for i := 0; i < 3; i++ {
		_, err := c.Generate(context.Background(), "p")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), dials.Load())
}

func TestNewSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"video_url":"u"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &recordedSleep{})
	g, release := c.NewSession()
	defer release()

	resp, err := g.Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "u", resp.VideoURL)
	assert.Nil(t, c.httpClient, "parent client keeps per-call sessions")
}

func TestUniformJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := uniformJitter(time.Second, 5*time.Second)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
	assert.Equal(t, time.Second, uniformJitter(time.Second, time.Second))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.Equal(t, "侍...", truncate("侍対恐竜", 1))
}
