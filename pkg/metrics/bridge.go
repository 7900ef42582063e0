package metrics

import (
	"github.com/mailsift/mailsift/pkg/events"
)

// WatchEvents counts bus events by type until the returned stop
// function is called.
func WatchEvents(broker *events.Broker) func() {
	sub := broker.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range sub {
			EventsTotal.WithLabelValues(string(e.Type)).Inc()
		}
	}()
	return func() {
		broker.Unsubscribe(sub)
		<-done
	}
}
