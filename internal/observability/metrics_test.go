package observability

import (
	"testing"
	"time"

	"github.com/danmuck/chatrelay/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordSessionOpened("tcp")
	RecordSessionClosed("tcp")
	RecordAcceptError()
	RecordMessage(KindBroadcast)
	RecordDelivery(KindWhisper, false)
	RecordWhisperDropped()
	RecordHTTPRequest(SurfaceAdmin, "/health", "GET", 200, 12*time.Millisecond)
	RecordHTTPRequest(SurfaceGateway, "/ws", "GET", 101, time.Minute)
}

func TestRecordClaimLabelsByResult(t *testing.T) {
	testlog.Start(t)
	accepted := testutil.ToFloat64(handleClaims.WithLabelValues(ClaimAccepted))
	rejected := testutil.ToFloat64(handleClaims.WithLabelValues(ClaimRejected))

	RecordClaim(true)
	RecordClaim(false)
	RecordClaim(false)

	if got := testutil.ToFloat64(handleClaims.WithLabelValues(ClaimAccepted)) - accepted; got != 1 {
		t.Fatalf("accepted delta got=%v", got)
	}
	if got := testutil.ToFloat64(handleClaims.WithLabelValues(ClaimRejected)) - rejected; got != 2 {
		t.Fatalf("rejected delta got=%v", got)
	}
}
