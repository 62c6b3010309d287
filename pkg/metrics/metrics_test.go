package metrics

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPeers int

func (s staticPeers) PeerCount() int { return int(s) }

// mockAuthMiddleware creates a test auth middleware
func mockAuthMiddleware(requireAuth bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requireAuth && r.Header.Get("Authorization") == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordInvocation("fn", "success", "", time.Second)
		m.ProcessStarted("fn")
		m.ProcessStopped("fn")
		m.PipelineTransition("idle", "building")
	})
	assert.Nil(t, m.Registry())
}

func TestRecorders(t *testing.T) {
	m := New()
	m.RecordInvocation("api", "success", "", 10*time.Millisecond)
	m.RecordInvocation("api", "failure", "timeout", time.Second)
	m.RecordInvocation("api", "failure", "timeout", time.Second)
	m.ProcessStarted("api")
	m.ProcessStarted("api")
	m.ProcessStopped("api")
	m.PipelineTransition("idle", "building")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.invocations.WithLabelValues("api", "failure", "timeout")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.invocations.WithLabelValues("api", "success", "")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.starts.WithLabelValues("api")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.processes.WithLabelValues("api")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transitions.WithLabelValues("idle", "building")))
}

func TestMetricsAPI_handleMetrics(t *testing.T) {
	tests := []struct {
		name           string
		opts           Opts
		authHeader     string
		expectedStatus int
		expectedBody   []string
	}{
		{
			name: "serves prometheus text",
			opts: Opts{
				Peers: staticPeers(3),
			},
			expectedStatus: http.StatusOK,
			expectedBody: []string{
				"# HELP livefn_datagram_peers Registered datagram peers",
				"# TYPE livefn_datagram_peers gauge",
				"livefn_datagram_peers 3",
			},
		},
		{
			name: "rejects unauthenticated requests",
			opts: Opts{
				AuthMiddleware: mockAuthMiddleware(true),
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "accepts authenticated requests",
			opts: Opts{
				AuthMiddleware: mockAuthMiddleware(true),
			},
			authHeader:     "Bearer token",
			expectedStatus: http.StatusOK,
			expectedBody:   []string{"livefn_datagram_peers 0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := NewMetricsAPI(tt.opts)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()
			api.Router.ServeHTTP(w, req)

			require.Equal(t, tt.expectedStatus, w.Code)
			for _, s := range tt.expectedBody {
				assert.Contains(t, w.Body.String(), s)
			}
		})
	}
}

func TestMetricsAPI_concurrency(t *testing.T) {
	m := New()
	api := NewMetricsAPI(Opts{Metrics: m})

	wg := sync.WaitGroup{}
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.RecordInvocation("api", "success", "", time.Millisecond)
		}()
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			api.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(20), testutil.ToFloat64(m.invocations.WithLabelValues("api", "success", "")))
}
