// Package presenter renders user-facing text from the configured message
// templates. The verification core never formats text itself; transports ask
// a Renderer to turn notices, outcomes and disconnect reasons into lines.
package presenter
