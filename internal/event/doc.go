// Package event provides a pub-sub event bus that decouples the pipeline
// core from its observers.
//
// The manager publishes queue depth, throughput and lifecycle events; the
// configuration watcher publishes reload results. Metrics and the terminal
// views subscribe without the core knowing about them.
//
// # Main Types
//
//   - [Event]: interface implemented by every event
//   - [Bus]: synchronous dispatcher, safe for concurrent use
//   - [Handler]: func(Event)
//
// # Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeQueueDepthChanged, func(e event.Event) {
//	    d := e.(event.QueueDepthChangedEvent)
//	    gauge.Set(float64(d.Pending))
//	})
package event
