package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestIncrementSubmission(t *testing.T) {
	before := testutil.ToFloat64(SubmissionsTotal.WithLabelValues("content_filter"))
	IncrementSubmission("content_filter")
	IncrementSubmission("content_filter")
	require.Equal(t, before+2, testutil.ToFloat64(SubmissionsTotal.WithLabelValues("content_filter")))
}

func TestIncrementRateLimitDecision(t *testing.T) {
	before := testutil.ToFloat64(RateLimitDecisionsTotal.WithLabelValues("email", "denied"))
	IncrementRateLimitDecision("email", "denied")
	require.Equal(t, before+1, testutil.ToFloat64(RateLimitDecisionsTotal.WithLabelValues("email", "denied")))
}

func TestIncrementCounterStoreError(t *testing.T) {
	before := testutil.ToFloat64(CounterStoreErrorsTotal.WithLabelValues("get"))
	IncrementCounterStoreError("get")
	require.Equal(t, before+1, testutil.ToFloat64(CounterStoreErrorsTotal.WithLabelValues("get")))
}

func TestRecordDelivery(t *testing.T) {
	RecordDelivery("test", "primary", nil, 20*time.Millisecond)
	RecordDelivery("test", "primary", errors.New("boom"), time.Second)

	require.Equal(t, 2, testutil.CollectAndCount(DeliveryDuration, "form_relay_delivery_duration_seconds"))
}

func TestIncrementAutoReply(t *testing.T) {
	before := testutil.ToFloat64(AutoReplyTotal.WithLabelValues("failed"))
	IncrementAutoReply("failed")
	require.Equal(t, before+1, testutil.ToFloat64(AutoReplyTotal.WithLabelValues("failed")))
}
