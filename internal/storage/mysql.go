package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	logx "remindbot/pkg/logx"
)

func openMySQL(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for mysql driver")
	}

	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: connect mysql: %w", err)
	}
	if err := migrateUp(db, "mysql", "mysql", log); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(10 * time.Minute)

	log.Info("mysql store opened")
	return &sqlStore{DB: db, log: log, now: cfg.Now}, nil
}
