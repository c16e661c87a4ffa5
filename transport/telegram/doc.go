// Package telegram forwards verification failures, timeouts and revocations
// to an administrator chat through the Telegram bot API.
package telegram
