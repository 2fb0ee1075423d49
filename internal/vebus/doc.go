// Package vebus exposes the bridge's output as a Victron-style value
// tree over MQTT.
//
// The Service publishes each value path retained as JSON {"value": ...}
// under N/<service><path> and listens for external writes under
// W/<service>/#. The Sink interface decouples the snapshot publisher
// from the transport so tests can substitute an in-memory sink.
package vebus
