package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"go-gin-event-attendance/config"
	"go-gin-event-attendance/internal/database"
	"go-gin-event-attendance/migrations"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const testDBLockID int64 = 740215002

// NewTestPool 連到測試資料庫並套用 migration；資料庫不可用時跳過測試
// TEST_DATABASE_URL 優先，否則使用 LoadTestConfig 的設定
func NewTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = database.DSN(&config.LoadTestConfig().Database)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}
	cfg.MaxConns = 16

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skipping Postgres integration tests: %v", err)
	}
	t.Cleanup(pool.Close)

	lockTestDB(t, pool)

	if err := migrations.Apply(context.Background(), pool); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	TruncateAll(t, pool)

	return pool
}

// NewTestRedis Redis 不可用時跳過測試
func NewTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb, err := database.InitRedis(ctx, &config.LoadTestConfig().Redis)
	if err != nil {
		t.Skipf("skipping Redis integration tests: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TruncateAll(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		TRUNCATE ticket_token_history, tickets, registrations, event_cohosts, events, participants
		RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

// InsertEvent 建立測試活動並回傳 event_id
func InsertEvent(t *testing.T, pool *pgxpool.Pool, hostID uuid.UUID, endsAt time.Time) uuid.UUID {
	t.Helper()
	eventID := uuid.New()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO events (event_id, name, host_id, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5)`,
		eventID, "Test Event", hostID, endsAt.Add(-3*time.Hour), endsAt,
	)
	if err != nil {
		t.Fatalf("insert event: %v", err)
	}
	return eventID
}

// InsertParticipant 建立測試參加者並回傳 participant_id
func InsertParticipant(t *testing.T, pool *pgxpool.Pool, name string) uuid.UUID {
	t.Helper()
	participantID := uuid.New()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO participants (participant_id, name, email)
		VALUES ($1, $2, $3)`,
		participantID, name, name+"@example.com",
	)
	if err != nil {
		t.Fatalf("insert participant: %v", err)
	}
	return participantID
}

func lockTestDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire lock conn: %v", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, testDBLockID); err != nil {
		conn.Release()
		t.Fatalf("acquire test lock: %v", err)
	}

	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, testDBLockID)
		conn.Release()
	})
}
