// Package engine implements the client-side sync state machine: a pure
// driver that consumes inbound frames, local-update injections, and
// clock ticks, and produces outbound frames, actions for the transport
// adapter, and events for the application.
//
// The engine performs no I/O. All methods are synchronous, non-blocking,
// and run to completion; "waiting" is a phase resumed by later input.
// The transport adapter owns sockets, timers, reconnection backoff, and
// HTTP snapshot transfers, and calls the engine from a single goroutine.
package engine
