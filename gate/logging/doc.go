// Package logging builds the *slog.Logger shared by every gate component.
//
// Components accept a *slog.Logger and fall back to a discarding logger when
// none is supplied, so tests stay quiet unless they care about log output.
package logging
