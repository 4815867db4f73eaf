package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luca-patrignani/accord/config"
	"github.com/luca-patrignani/accord/consensus"
)

func TestOpen_FileBackends(t *testing.T) {
	dir := t.TempDir()
	tests := []config.Store{
		{Backend: "memory"},
		{Backend: "sqlite", Path: filepath.Join(dir, "a.db")},
		{Backend: "bolt", Path: filepath.Join(dir, "a.bolt")},
	}
	for _, cfg := range tests {
		t.Run(cfg.Backend, func(t *testing.T) {
			ctx := context.Background()
			log, err := Open(ctx, cfg, "s1")
			require.NoError(t, err)
			defer log.Close()

			e, err := consensus.NewProposalEvent("p1", nil)
			require.NoError(t, err)
			seq, err := log.Append(ctx, e)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), seq)

			events, err := log.Read(ctx, 0)
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, e.ID, events[0].ID)
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.Store{Backend: "etcd"}, "s1")
	assert.Error(t, err)
}
