package main

import (
	"context"
	"database/sql"
	"testing"
	"time"

	auth "github.com/goliatone/go-trace-auth"
	"github.com/goliatone/go-trace-auth/logging"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"go.uber.org/zap"
)

func TestSweepOutstandingStopsWithContext(t *testing.T) {
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	app := &App{
		logger:  logging.NewZapLogger(zap.NewNop()),
		repo:    auth.NewRepositoryManager(db),
		limiter: auth.NewRateLimiter(1, 1),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		SweepOutstanding(ctx, app)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper kept running after the context was cancelled")
	}
}
