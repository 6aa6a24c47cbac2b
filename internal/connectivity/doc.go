// Package connectivity supervises a device's network link and broker
// session.
//
// A Manager owns two layered state machines. The link layer tracks the
// wireless association through a LinkDriver; the session layer tracks the
// broker session through a SessionTransport and only runs while the link
// is connected. Each layer moves through the same states:
//
//	Idle ──connect──▶ Connecting ──up──▶ Connected
//	                      │                  │
//	                   timeout             lost
//	                      ▼                  ▼
//	                  Reconnecting ◀─────────┘
//	                   │        ▲
//	      retries spent│        │cool-down elapsed
//	                   ▼        │
//	                   Failed ──┘
//
// Retries wait for an exponential backoff delay (see package backoff)
// measured from the previous attempt. After the retry budget is spent
// the layer parks in Failed for a fixed cool-down, then re-arms with its
// retry counter reset. No layer ever stays down permanently.
//
// # Update loop
//
// The host calls Update repeatedly. Each call, in order:
//
//  1. feeds the watchdog
//  2. advances the link layer
//  3. advances the session layer, forcing it to Idle if the link is down
//  4. dispatches inbound messages to the message callback
//  5. delivers at most one queued outbound message
//  6. runs the periodic health check
//  7. updates statistics
//  8. emits a diagnostics snapshot when one is due
//
// Nothing in Update blocks: connection attempts are issued to the drivers
// and their outcome is polled on later ticks.
//
// # Publishing
//
// Publish is the only way to send. While the session is connected the
// message goes straight to the transport; otherwise, or if the transport
// rejects it, it is placed on a bounded queue drained one entry per tick
// (see package outbox).
//
// # Errors
//
// Failures inside the tick are not returned. They surface as a state
// change plus an ErrorCode passed to the state callbacks and kept as
// LastError. Go errors are only returned for invalid input at the API
// boundary (ErrInvalidConfig, ErrInvalidTopic, ErrInvalidQoS).
//
// Thread Safety:
//   - A Manager is driven by a single goroutine and is not safe for
//     concurrent use. IsHealthy is the exception and may be polled from
//     a monitoring goroutine.
//   - Callbacks run synchronously inside Update and must not block.
package connectivity
