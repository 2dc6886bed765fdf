//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/couchcryptid/advisory-alert-etl/internal/adapter/postgres"
	redisadapter "github.com/couchcryptid/advisory-alert-etl/internal/adapter/redis"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startPostgres runs a database, applies the schema and returns a pool.
func startPostgres(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("alerts"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start postgres container")

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, dsn, 10)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.NewStore(pool).Migrate(ctx))
	return pool
}

// startRedis runs Redis and returns a connected client.
func startRedis(ctx context.Context, t *testing.T) *goredis.Client {
	t.Helper()
	ctr, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start redis container")

	url, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := redisadapter.NewClient(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// startKafka runs a single KRaft broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	ctr, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("advisory-alert-test"),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start kafka container")

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func newQueue(client *goredis.Client, name string, vt time.Duration) *redisadapter.Queue {
	return redisadapter.NewQueue(client, name, vt, 3, discardLogger())
}

func goredisZ(score float64, member string) goredis.Z {
	return goredis.Z{Score: score, Member: member}
}
