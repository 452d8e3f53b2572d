package http

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hawkstwelve/twf-models-sub001/internal/tile"
)

func openTestDataset(t *testing.T) *dataset {
	t.Helper()
	art, side := writeDataset(t, t.TempDir(), "fh000")
	ds, err := openDataset(art, side)
	require.NoError(t, err)
	t.Cleanup(func() { ds.reader.Close() })
	return ds
}

func TestRenderTileAbortsOnDisconnect(t *testing.T) {
	ds := openTestDataset(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Tile (3,1,3) overlaps the fixture bbox, so the render would otherwise
	// read a window and encode a PNG.
	data, err := renderTile(ctx, ds, tile.Coord{Z: 3, X: 1, Y: 3}, newIOPool(1))
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, data)
}

func TestIOPoolReleasesSlotOnReadError(t *testing.T) {
	ds := openTestDataset(t)
	pool := newIOPool(1)

	// The deadline turns a leaked slot into a failure instead of a hang.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Windows outside the 2x2 fixture level fail; each must hand its slot
	// back or the single-worker pool would wedge.
	for i := 0; i < 3; i++ {
		_, _, err := pool.readWindow(ctx, ds, 0, 0, 0, 100, 100)
		require.Error(t, err)
		require.NoError(t, ctx.Err())
	}

	band1, band2, err := pool.readWindow(ctx, ds, 0, 0, 0, 2, 2)
	require.NoError(t, err)
	assert.Len(t, band1, 4)
	assert.Len(t, band2, 4)
}
