package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/hublink/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("device-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordSend("device-a", "events", "ok", 3*time.Millisecond)
	RecordReceive("device-a", "devicebound", "no_message")
	RecordAttach("device-a", "send", "ok")
	RecordRecovery("device-a", "ok")
	RecordSessionFault("device-a", "io")
	SetConnected("device-a", true)
	SetCredentialExpiry("device-a", time.Unix(1700086400, 0))

	if got := testutil.ToFloat64(connected.WithLabelValues("device-a")); got != 1 {
		t.Fatalf("unexpected connected gauge=%v", got)
	}
	if got := testutil.ToFloat64(credentialExpiry.WithLabelValues("device-a")); got != 1700086400 {
		t.Fatalf("unexpected credential expiry gauge=%v", got)
	}
	SetConnected("device-a", false)
	if got := testutil.ToFloat64(connected.WithLabelValues("device-a")); got != 0 {
		t.Fatalf("unexpected connected gauge=%v", got)
	}
}

func TestRequestMiddlewareRecords(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLogger(testlog.Logger(t)), RequestMetricsMiddleware("device-b"))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status=%d", rec.Code)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("device-b", "GET", "/ping", "200")); got != 1 {
		t.Fatalf("unexpected request count=%v", got)
	}
}
