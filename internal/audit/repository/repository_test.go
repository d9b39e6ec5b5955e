package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/claimwise/internal/audit/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Record{}))
	return conn
}

func record(seq uint64) domain.Record {
	return domain.Record{
		Sequence:   seq,
		EntryID:    "01HX0000000000000000000" + string(rune('A'+seq)),
		Nonce:      []byte{1, 2, 3},
		Ciphertext: []byte{4, 5, 6},
		Chain:      []byte{byte(seq)},
		CreatedAt:  time.Date(2024, 5, 7, 0, 0, int(seq), 0, time.UTC),
	}
}

func TestStoreAppendCompactLatest(t *testing.T) {
	store := NewStore(setupDB(t), Provide())
	ctx := context.Background()

	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, store.Append(ctx, record(seq)))
	}
	assert.Error(t, store.Append(ctx, record(3)))

	latest, err := store.Latest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, uint64(4), latest[0].Sequence)
	assert.Equal(t, uint64(5), latest[1].Sequence)
	assert.Equal(t, []byte{4, 5, 6}, latest[0].Ciphertext)

	require.NoError(t, store.Compact(ctx, 4))
	all, err := store.Latest(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
