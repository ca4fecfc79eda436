// SPDX-License-Identifier: Apache-2.0

// Package db opens PostgreSQL connections for the tracer. A trace session
// owns one connection for its entire lifetime, so the pool is sized to a
// single connection per handle.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/lib/pq"
)

const (
	maxBackoffDuration = 30 * time.Second
	backoffInterval    = 500 * time.Millisecond
	connectAttempts    = 5
)

// ConnectionParams describes how to reach the database under analysis.
type ConnectionParams struct {
	Host     string
	Port     int
	User     string
	Database string
	Password string
}

// DSN renders the params as a libpq keyword/value connection string.
func (p ConnectionParams) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s dbname=%s password=%s sslmode=disable",
		p.Host, p.Port, p.User, p.Database, p.Password,
	)
}

// Connect opens a database handle and verifies it with a ping, retrying
// transient network failures with exponential backoff. The returned handle
// holds at most one connection: trace sessions must see one backend.
func Connect(ctx context.Context, url string) (*sql.DB, error) {
	dsn, err := pq.ParseURL(url)
	if err != nil {
		// not URL-shaped; assume a keyword/value connection string
		dsn = url
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)

	b := backoff.New(maxBackoffDuration, backoffInterval)
	for attempt := 1; ; attempt++ {
		err = conn.PingContext(ctx)
		if err == nil {
			return conn, nil
		}

		var netErr net.Error
		retryable := errors.As(err, &netErr)
		if !retryable || attempt >= connectAttempts {
			conn.Close()
			return nil, fmt.Errorf("unable to connect to postgres: %w", err)
		}

		if err := sleepCtx(ctx, b.Duration()); err != nil {
			conn.Close()
			return nil, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
