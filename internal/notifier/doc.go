// Package notifier routes triggered reminders to the chat they came from.
//
// Dispatch only enqueues. A bounded worker pool drains the queue through a
// token-bucket rate limiter and calls the Deliverer once per reminder with a
// per-call timeout. Failed deliveries are logged and published on the event
// bus; they are never retried, and the reminder stays triggered.
//
// A small in-memory history of recent outcomes backs the status views.
package notifier
