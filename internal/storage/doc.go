// Package storage persists reminders.
//
// Three drivers share one Store contract:
//   - "file": JSON snapshot plus an append-only JSON Lines journal
//   - "sqlite": SQLite via modernc.org/sqlite, schema from embedded migrations
//   - "mysql": MySQL/MariaDB via go-sql-driver/mysql
//
// Every mutating call is durable (fsync or committed transaction) before it
// returns. Status transitions are compare-and-set on "pending", so exactly one
// of several racing callers wins.
package storage
