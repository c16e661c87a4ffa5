// Package websocket provides the WebSocket transport for the verification gate.
//
// The websocket package implements:
//   - One live connection per user, replaced when the user reconnects
//   - Arrival on connect, submission on inbound frames, departure on close
//   - Delivery of rendered notices and forced disconnects
//   - Watcher connections that receive lifecycle events and reward actions
//
// Architecture:
//
// A central Hub owns every connection and runs a single event loop. Each
// connection has a read and a write goroutine. Calls that need an answer,
// such as Send or Close, are executed on the loop and wait for it, so a
// missing connection is reported as ErrNotConnected instead of being lost.
//
// Message Protocol:
//
// Frames are JSON encoded:
//   - Incoming: {"type": "submit", "code": "K7Q2"}
//   - Outgoing: {"type": "notice", "kind": "challenge", "lines": [...], "data": {...}}
//
// Outgoing types are arrival, notice, outcome, disconnect, event, action and
// error. Users identify themselves with ?user=<id>; watchers connect to a
// separate endpoint and never take part in verification.
//
// Usage:
//
//	gw := websocket.NewGateway(renderer, logger)
//	svc := service.NewVerificationService(store,
//		service.WithNotifier(gw),
//		service.WithDisconnector(gw),
//		service.WithActionRunner(gw),
//		service.WithEventSinks(gw),
//	)
//	gw.Bind(svc)
//	go gw.Hub().Run(ctx)
//
// Connection Lifecycle:
//
// 1. Client connects with its user ID
// 2. Connection registered with the hub, replacing any older one
// 3. The service creates a session and the challenge is delivered
// 4. Client submits codes and receives notices and outcomes
// 5. The client closing its own connection counts as a departure; closes
// initiated by the gate (failure, timeout, kick, replacement) do not
package websocket
