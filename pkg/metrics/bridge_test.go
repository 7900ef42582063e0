package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/pkg/events"
)

func TestWatchEventsCountsByType(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	processed := EventsTotal.WithLabelValues(string(events.EventItemProcessed))
	throttled := EventsTotal.WithLabelValues(string(events.EventThrottleRaised))
	baseProcessed := testutil.ToFloat64(processed)
	baseThrottled := testutil.ToFloat64(throttled)

	stop := WatchEvents(broker)

	broker.Publish(&events.Event{Type: events.EventItemProcessed})
	broker.Publish(&events.Event{Type: events.EventItemProcessed})
	broker.Publish(&events.Event{Type: events.EventThrottleRaised})

	// Broadcast is asynchronous, so wait for the counts to land before
	// tearing the subscription down.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(processed) == baseProcessed+2 &&
			testutil.ToFloat64(throttled) == baseThrottled+1
	}, time.Second, 5*time.Millisecond)

	stop()
}
