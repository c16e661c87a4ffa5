// Package service provides the verification coordinator for the gate.
//
// The service package implements:
//   - Session creation on arrival, with bypass rules and code generation
//   - Submission handling with exactly-once reward actions
//   - Unconditional removal on departure and admin kicks
//   - Timeout handling through the sweeper
//   - Hot configuration reload with atomic settings swap
//
// Core Interfaces:
//
// VerificationService is the entry point used by every transport.
// Notifier, Disconnector, ActionRunner and EventSink are the outbound
// collaborators supplied by the host. None of them is ever called while a
// store or session lock is held, and their failures are logged and counted
// but never block session cleanup.
//
// Error Handling:
//
// Only configuration problems are errors. A rejected configuration disables
// the gate: every arrival is let through with BypassConfigError until a valid
// configuration is applied. Wrong codes, exhaustion, missing sessions and
// repeated submissions are reported as Outcome values.
//
// Usage:
//
//	store := session.NewStore()
//	svc := service.NewVerificationService(store,
//		service.WithConfig(cfg),
//		service.WithNotifier(notifier),
//		service.WithDisconnector(disconnector),
//	)
//	svc.Start(ctx)
//	defer svc.Shutdown(ctx)
//
//	arrival, err := svc.OnArrived(ctx, "user-42")
//	outcome, err := svc.Submit(ctx, "user-42", " k7q2 ")
package service
