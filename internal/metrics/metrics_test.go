package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistriesAreIndependent(t *testing.T) {
	req := require.New(t)

	a := New()
	b := New()
	a.ConnectionsActive.Inc()
	a.Deliveries.WithLabelValues(ResultDelivered).Add(3)

	req.Equal(1.0, testutil.ToFloat64(a.ConnectionsActive))
	req.Equal(0.0, testutil.ToFloat64(b.ConnectionsActive))
	req.Equal(3.0, testutil.ToFloat64(a.Deliveries.WithLabelValues(ResultDelivered)))
}

func TestHandler_ServesCollectors(t *testing.T) {
	req := require.New(t)
	m := New()
	m.HandshakesRejected.WithLabelValues("missing token").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	req.Equal(http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	req.NoError(err)
	req.Contains(string(body), `gochat_handshakes_rejected_total{reason="missing token"} 1`)
	req.Contains(string(body), "go_goroutines")
}
