package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/housekeeping/internal/model"
)

func TestNewPostgres_RejectsBadPrefix(t *testing.T) {
	for _, prefix := range []string{"", "Upper", "has-dash", "x'; DROP TABLE rooms; --"} {
		_, err := NewPostgres(nil, prefix, nil)
		assert.ErrorIs(t, err, ErrInvalid, "prefix %q", prefix)
	}

	_, err := NewPostgres(nil, "housekeeping_dev", nil)
	assert.NoError(t, err)
}

func TestTriggerSQL(t *testing.T) {
	sql := triggerSQL(TableRooms, "hk")

	assert.Contains(t, sql, "DROP TRIGGER IF EXISTS rooms_notify ON rooms;")
	assert.Contains(t, sql, "AFTER INSERT OR UPDATE OR DELETE ON rooms")
	assert.Contains(t, sql, "housekeeping_notify_change('hk')")
}

func TestSchemaSQL_NotifiesChannelPerTable(t *testing.T) {
	assert.True(t, strings.Contains(schemaSQL, "TG_ARGV[0] || '_' || TG_TABLE_NAME"))
	assert.Contains(t, schemaSQL, "'eventType', TG_OP")
}

// TestPostgres_Live runs against a real database when
// HOUSEKEEPING_TEST_DATABASE_URL is set.
func TestPostgres_Live(t *testing.T) {
	connString := os.Getenv("HOUSEKEEPING_TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("HOUSEKEEPING_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err)
	defer pool.Close()

	s, err := NewPostgres(pool, "hk_test", nil)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))

	number := "T-" + model.NewID()[:8]
	r, err := s.InsertRoom(ctx, model.Room{Number: number, Status: model.StatusDirty})
	require.NoError(t, err)
	defer s.DeleteRoom(ctx, r.ID)

	_, err = s.InsertRoom(ctx, model.Room{Number: number, Status: model.StatusDirty})
	assert.ErrorIs(t, err, ErrDuplicate)

	r.Status = model.StatusClean
	updated, err := s.UpdateRoom(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, model.StatusClean, updated.Status)

	got, err := s.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, number, got.Number)

	_, err = s.GetRoom(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
