// Package scheduler runs the periodic due-reminder scan.
//
// Each tick reads the reminders that are due, claims them one by one with a
// compare-and-set transition to "triggered" and hands every claimed record
// to the router. Claiming happens before delivery, so a reminder fires at
// most once even when scans overlap or several processes share a store.
package scheduler
