package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshreg/internal/models"
)

func TestPurgeNeverOnlineRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old := time.Now().Add(-60 * 24 * time.Hour)
	rec := seedState(t, env, "AA:BB:CC:DD:EE:01", "ghost", models.StateOffline, old)
	require.NoError(t, env.db.Model(&models.NodeState{}).Where("id = ?", rec.ID).
		Update("created_at", old).Error)

	p := NewPurger(env.nodes, env.states, 30*24*time.Hour, 100*24*time.Hour, 50)
	require.NoError(t, p.Run(ctx))

	recs, err := env.states.GetByMACs(ctx, []string{rec.MAC})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestPurgeLongOfflineRemovesNodeToo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	n := env.registerNode(t, "ff-old", "AA:BB:CC:DD:EE:01", false, false)
	env.registerNode(t, "ff-live", "AA:BB:CC:DD:EE:02", false, false)

	ancient := time.Now().Add(-200 * 24 * time.Hour)
	seen := time.Now()
	rec := seedState(t, env, "AA:BB:CC:DD:EE:01", "ff-old", models.StateOffline, ancient)
	require.NoError(t, env.db.Model(&models.NodeState{}).Where("id = ?", rec.ID).
		Update("last_online", ancient).Error)
	live := seedState(t, env, "AA:BB:CC:DD:EE:02", "ff-live", models.StateOnline, seen)
	require.NoError(t, env.db.Model(&models.NodeState{}).Where("id = ?", live.ID).
		Update("last_online", seen).Error)

	p := NewPurger(env.nodes, env.states, 30*24*time.Hour, 100*24*time.Hour, 50)
	require.NoError(t, p.Run(ctx))

	// запись состояния и узел реестра ушли вместе
	recs, err := env.states.GetByMACs(ctx, []string{"AA:BB:CC:DD:EE:01"})
	require.NoError(t, err)
	assert.Empty(t, recs)
	gone, err := env.nodes.FindByMAC(ctx, "AA:BB:CC:DD:EE:01")
	require.NoError(t, err)
	assert.Nil(t, gone)
	_ = n

	// живой узел не тронут
	kept, err := env.nodes.FindByMAC(ctx, "AA:BB:CC:DD:EE:02")
	require.NoError(t, err)
	require.NotNil(t, kept)
	recs, err = env.states.GetByMACs(ctx, []string{"AA:BB:CC:DD:EE:02"})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
