package raster

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
)

// writeTestArtifact builds a small two-level artifact where every band 1 byte
// encodes its own (x, y, level) position so window reads are verifiable.
func writeTestArtifact(t *testing.T) string {
	t.Helper()

	base := Plane{W: 8, H: 6, Band1: make([]byte, 48), Band2: make([]byte, 48)}
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			base.Band1[y*8+x] = byte(y*8 + x)
			base.Band2[y*8+x] = 255
		}
	}
	over := Plane{W: 4, H: 3, Band1: make([]byte, 12), Band2: make([]byte, 12)}
	for i := range over.Band1 {
		over.Band1[i] = byte(100 + i)
		over.Band2[i] = 255
	}

	path := filepath.Join(t.TempDir(), "fh000.wxr")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteTo(f, []Plane{base, over}))
	require.NoError(t, f.Close())
	return path
}

func TestWriteAndOpen(t *testing.T) {
	path := writeTestArtifact(t)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	levels := r.Levels()
	require.Len(t, levels, 2)
	assert.Equal(t, 8, levels[0].W)
	assert.Equal(t, 6, levels[0].H)
	assert.Equal(t, 4, levels[1].W)
	assert.Equal(t, 3, levels[1].H)
	assert.Greater(t, r.Size(), int64(0))
}

func TestReadWindow(t *testing.T) {
	path := writeTestArtifact(t)
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	t.Run("interior window", func(t *testing.T) {
		b1, b2, err := r.ReadWindow(0, 2, 1, 3, 2)
		require.NoError(t, err)
		assert.Equal(t, []byte{10, 11, 12, 18, 19, 20}, b1)
		assert.Equal(t, []byte{255, 255, 255, 255, 255, 255}, b2)
	})

	t.Run("full level", func(t *testing.T) {
		b1, _, err := r.ReadWindow(0, 0, 0, 8, 6)
		require.NoError(t, err)
		assert.Equal(t, byte(0), b1[0])
		assert.Equal(t, byte(47), b1[47])
	})

	t.Run("overview level", func(t *testing.T) {
		b1, _, err := r.ReadWindow(1, 0, 0, 4, 3)
		require.NoError(t, err)
		assert.Equal(t, byte(100), b1[0])
		assert.Equal(t, byte(111), b1[11])
	})

	t.Run("window outside level", func(t *testing.T) {
		_, _, err := r.ReadWindow(0, 6, 0, 4, 2)
		assert.Error(t, err)
	})

	t.Run("bad level", func(t *testing.T) {
		_, _, err := r.ReadWindow(5, 0, 0, 1, 1)
		assert.Error(t, err)
	})
}

func TestConcurrentReads(t *testing.T) {
	path := writeTestArtifact(t)
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	done := make(chan error, 16)
	for i := 0; i < 16; i++ {
		go func() {
			b1, _, err := r.ReadWindow(0, 1, 1, 4, 4)
			if err == nil && b1[0] != 9 {
				err = errors.New("unexpected pixel")
			}
			done <- err
		}()
	}
	for i := 0; i < 16; i++ {
		assert.NoError(t, <-done)
	}
}

func TestOpenRejectsCorruption(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.wxr")
		require.NoError(t, os.WriteFile(path, []byte("NOTAFRAMEXXXXXXXXXXX"), 0o644))

		_, err := Open(path)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrCorruptArtifact))
	})

	t.Run("truncated", func(t *testing.T) {
		full := writeTestArtifact(t)
		data, err := os.ReadFile(full)
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "trunc.wxr")
		require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0o644))

		_, err = Open(path)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrCorruptArtifact))
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.wxr")
		require.NoError(t, os.WriteFile(path, nil, 0o644))

		_, err := Open(path)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrCorruptArtifact))
	})
}

func TestWriteToValidation(t *testing.T) {
	t.Run("no levels", func(t *testing.T) {
		f, err := os.Create(filepath.Join(t.TempDir(), "x.wxr"))
		require.NoError(t, err)
		defer f.Close()
		assert.Error(t, WriteTo(f, nil))
	})

	t.Run("band size mismatch", func(t *testing.T) {
		f, err := os.Create(filepath.Join(t.TempDir(), "x.wxr"))
		require.NoError(t, err)
		defer f.Close()
		p := Plane{W: 4, H: 4, Band1: make([]byte, 16), Band2: make([]byte, 8)}
		assert.Error(t, WriteTo(f, []Plane{p}))
	})
}
