package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hawkstwelve/twf-models-sub001/internal/config"
	"github.com/hawkstwelve/twf-models-sub001/internal/discovery"
	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
	"github.com/hawkstwelve/twf-models-sub001/internal/encoder"
	"github.com/hawkstwelve/twf-models-sub001/internal/observability"
	"github.com/hawkstwelve/twf-models-sub001/internal/palette"
	"github.com/hawkstwelve/twf-models-sub001/internal/storage"
	"github.com/hawkstwelve/twf-models-sub001/internal/tile"
)

var testBBox = domain.BBox{West: -110, South: 30, East: -90, North: 50}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	t.Setenv("RASTER_ROOT", root)
	t.Setenv("TILE_ZOOM_MIN", "0")
	t.Setenv("TILE_ZOOM_MAX", "11")
	cfg, err := config.Load()
	require.NoError(t, err)

	index := discovery.NewScanner(root, cfg.LatestTTL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(cfg, index, observability.NewMetricsForTesting(), logger), root
}

// publishField encodes and publishes a constant-valued temperature frame
// covering testBBox.
func publishField(t *testing.T, root string, key domain.FrameKey, value float64) {
	t.Helper()
	spec, ok := palette.Builtin("tmp2m")
	require.True(t, ok)

	grid := encoder.Grid{Data: make([]float64, 200*200), W: 200, H: 200, BBox: testBBox}
	for i := range grid.Data {
		grid.Data[i] = value
	}
	planes, meta, err := encoder.EncodeFrame(key, grid, spec)
	require.NoError(t, err)

	pub := storage.NewPublisher(root, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, pub.PublishFrame(context.Background(), key, planes, meta))
}

func frameKey(model, region, run, variable string, hour int) domain.FrameKey {
	return domain.FrameKey{Model: model, Region: region, Run: run, Variable: variable, Hour: hour}
}

func doGet(t *testing.T, srv *Server, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

// pixelFor locates the tile containing a point at zoom z and the pixel
// within that tile closest to it.
func pixelFor(z uint32, lon, lat float64) (tile.Coord, int, int) {
	wx, wy := tile.Project(lon, lat)
	scale := float64(uint32(1)<<z) * tile.Size
	gx, gy := int(wx*scale), int(wy*scale)
	coord := tile.Coord{Z: z, X: uint32(gx / tile.Size), Y: uint32(gy / tile.Size)}
	return coord, gx % tile.Size, gy % tile.Size
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doGet(t, srv, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doGet(t, srv, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadinessWithoutRoot(t *testing.T) {
	t.Setenv("RASTER_ROOT", filepath.Join(t.TempDir(), "missing"))
	cfg, err := config.Load()
	require.NoError(t, err)
	srv := NewServer(cfg, discovery.NewScanner(cfg.RasterRoot, cfg.LatestTTL),
		observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := doGet(t, srv, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDiscoveryEndpoints(t *testing.T) {
	srv, root := newTestServer(t)
	publishField(t, root, frameKey("hrrr", "conus", "2026083106", "tmp2m", 0), 50)
	publishField(t, root, frameKey("hrrr", "conus", "2026083112", "tmp2m", 0), 50)
	publishField(t, root, frameKey("hrrr", "conus", "2026083112", "tmp2m", 6), 50)

	t.Run("models", func(t *testing.T) {
		rec := doGet(t, srv, "/models", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var models []string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &models))
		assert.Equal(t, []string{"hrrr"}, models)
	})

	t.Run("regions", func(t *testing.T) {
		rec := doGet(t, srv, "/hrrr/regions", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var regions []string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &regions))
		assert.Equal(t, []string{"conus"}, regions)
	})

	t.Run("runs newest first", func(t *testing.T) {
		rec := doGet(t, srv, "/hrrr/conus/runs", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var runs []string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
		assert.Equal(t, []string{"2026083112", "2026083106"}, runs)
	})

	t.Run("variables via latest alias", func(t *testing.T) {
		rec := doGet(t, srv, "/hrrr/conus/latest/vars", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var vars []string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vars))
		assert.Equal(t, []string{"tmp2m"}, vars)
	})

	t.Run("frames carry palette snapshots", func(t *testing.T) {
		rec := doGet(t, srv, "/hrrr/conus/2026083112/tmp2m/frames", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var frames []discovery.FrameInfo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frames))
		require.Len(t, frames, 2)
		assert.Equal(t, 0, frames[0].Hour)
		assert.Equal(t, 6, frames[1].Hour)
		assert.Equal(t, "F", frames[1].Meta.Units)
	})

	t.Run("manifest reports published hours", func(t *testing.T) {
		rec := doGet(t, srv, "/hrrr/conus/2026083112/manifest", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var manifest domain.RunManifest
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &manifest))
		assert.Equal(t, "2026083112", manifest.Run)
		assert.Equal(t, []int{0, 6}, manifest.Published["tmp2m"])
	})

	t.Run("unknown model is 404", func(t *testing.T) {
		rec := doGet(t, srv, "/nam/regions", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "not_found", body["reason"])
	})

	t.Run("empty tree lists no models", func(t *testing.T) {
		empty, _ := newTestServer(t)
		rec := doGet(t, empty, "/models", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})
}

func TestTileRendering(t *testing.T) {
	srv, root := newTestServer(t)
	key := frameKey("hrrr", "conus", "2026083112", "tmp2m", 6)
	publishField(t, root, key, 68)

	// 68°F on the builtin [-40,120] range lands on byte 172.
	spec, _ := palette.Builtin("tmp2m")
	lut, err := palette.BuildLUT(spec)
	require.NoError(t, err)
	want := lut[172]

	coord, px, py := pixelFor(3, -100, 40)
	url := fmt.Sprintf("/tiles/hrrr/conus/2026083112/tmp2m/6/%d/%d/%d.png", coord.Z, coord.X, coord.Y)

	t.Run("interior pixel carries the palette color", func(t *testing.T) {
		rec := doGet(t, srv, url, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

		img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, tile.Size, img.Bounds().Dx())

		got := color.RGBAModel.Convert(img.At(px, py)).(color.RGBA)
		assert.Equal(t, want, got)
	})

	t.Run("tile outside coverage is transparent", func(t *testing.T) {
		// Tile (3,0,3) spans lon -180..-135, entirely west of the frame.
		rec := doGet(t, srv, fmt.Sprintf("/tiles/hrrr/conus/2026083112/tmp2m/6/3/0/%d.png", coord.Y), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
		require.NoError(t, err)
		_, _, _, a := img.At(tile.Size/2, tile.Size/2).RGBA()
		assert.Zero(t, a)
	})

	t.Run("concrete runs are immutable to caches", func(t *testing.T) {
		rec := doGet(t, srv, url, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "public, max-age=31536000, immutable", rec.Header().Get("Cache-Control"))
		assert.NotEmpty(t, rec.Header().Get("ETag"))
	})

	t.Run("conditional request returns 304", func(t *testing.T) {
		first := doGet(t, srv, url, nil)
		require.Equal(t, http.StatusOK, first.Code)
		etag := first.Header().Get("ETag")
		require.NotEmpty(t, etag)

		second := doGet(t, srv, url, map[string]string{"If-None-Match": etag})
		assert.Equal(t, http.StatusNotModified, second.Code)
		assert.Equal(t, etag, second.Header().Get("ETag"))
		assert.Empty(t, second.Body.Bytes())
	})

	t.Run("latest alias is short lived", func(t *testing.T) {
		latestURL := fmt.Sprintf("/tiles/hrrr/conus/latest/tmp2m/6/%d/%d/%d.png", coord.Z, coord.X, coord.Y)
		rec := doGet(t, srv, latestURL, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "public, max-age=15", rec.Header().Get("Cache-Control"))
	})

	t.Run("disconnected client gets no body", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := httptest.NewRequest(http.MethodGet, url, nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Empty(t, rec.Body.Bytes())
	})

	t.Run("bytes stable across a newer run", func(t *testing.T) {
		before := doGet(t, srv, url, nil)
		require.Equal(t, http.StatusOK, before.Code)

		publishField(t, root, frameKey("hrrr", "conus", "2026083118", "tmp2m", 6), 95)

		after := doGet(t, srv, url, nil)
		require.Equal(t, http.StatusOK, after.Code)
		assert.Equal(t, before.Body.Bytes(), after.Body.Bytes())
	})
}

func TestTileNotFound(t *testing.T) {
	srv, root := newTestServer(t)
	pub := storage.NewPublisher(root, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	run := domain.RunKey{Model: "hrrr", Region: "conus", Run: "2026083112"}
	require.NoError(t, pub.BeginRun(run, map[string][]int{"tmp2m": {0, 6}}))
	publishField(t, root, frameKey("hrrr", "conus", "2026083112", "tmp2m", 0), 50)

	reason := func(rec *httptest.ResponseRecorder) string {
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body["reason"]
	}

	t.Run("declared but unpublished frame is pending", func(t *testing.T) {
		rec := doGet(t, srv, "/tiles/hrrr/conus/2026083112/tmp2m/6/3/1/3.png", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "pending", reason(rec))
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	})

	t.Run("undeclared hour is not found", func(t *testing.T) {
		rec := doGet(t, srv, "/tiles/hrrr/conus/2026083112/tmp2m/7/3/1/3.png", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", reason(rec))
	})

	t.Run("unknown run", func(t *testing.T) {
		rec := doGet(t, srv, "/tiles/hrrr/conus/2026083100/tmp2m/0/3/1/3.png", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("zoom beyond the configured range", func(t *testing.T) {
		rec := doGet(t, srv, "/tiles/hrrr/conus/2026083112/tmp2m/0/12/1/3.png", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing png suffix", func(t *testing.T) {
		rec := doGet(t, srv, "/tiles/hrrr/conus/2026083112/tmp2m/0/3/1/3", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("non numeric coordinate", func(t *testing.T) {
		rec := doGet(t, srv, "/tiles/hrrr/conus/2026083112/tmp2m/0/3/one/3.png", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestTileAfterRunEviction(t *testing.T) {
	srv, root := newTestServer(t)
	publishField(t, root, frameKey("hrrr", "conus", "2026083106", "tmp2m", 0), 50)
	publishField(t, root, frameKey("hrrr", "conus", "2026083112", "tmp2m", 0), 50)

	old := "/tiles/hrrr/conus/2026083106/tmp2m/0/3/1/3.png"
	rec := doGet(t, srv, old, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	ret := storage.NewRetainer(root, 1, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, ret.EvictStale("hrrr", "conus"))

	rec = doGet(t, srv, old, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doGet(t, srv, "/tiles/hrrr/conus/2026083112/tmp2m/0/3/1/3.png", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFullFrameEndpoint(t *testing.T) {
	srv, root := newTestServer(t)
	publishField(t, root, frameKey("hrrr", "conus", "2026083112", "tmp2m", 6), 68)

	url := "/frames/hrrr/conus/2026083112/tmp2m/6.png"
	rec := doGet(t, srv, url, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=31536000, immutable", rec.Header().Get("Cache-Control"))

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())

	spec, _ := palette.Builtin("tmp2m")
	lut, err := palette.BuildLUT(spec)
	require.NoError(t, err)
	got := color.RGBAModel.Convert(img.At(100, 100)).(color.RGBA)
	assert.Equal(t, lut[172], got)

	t.Run("conditional request returns 304", func(t *testing.T) {
		etag := rec.Header().Get("ETag")
		require.NotEmpty(t, etag)

		second := doGet(t, srv, url, map[string]string{"If-None-Match": etag})
		assert.Equal(t, http.StatusNotModified, second.Code)
		assert.Equal(t, etag, second.Header().Get("ETag"))
		assert.Empty(t, second.Body.Bytes())
	})
}

func TestCorruptArtifactQuarantine(t *testing.T) {
	srv, root := newTestServer(t)
	key := frameKey("hrrr", "conus", "2026083112", "tmp2m", 6)
	publishField(t, root, key, 68)

	// Garble the artifact in place, as disk damage would.
	require.NoError(t, os.WriteFile(storage.ArtifactPath(root, key), []byte("WXR?"), 0o644))

	reason := func(rec *httptest.ResponseRecorder) string {
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body["reason"]
	}

	url := "/tiles/hrrr/conus/2026083112/tmp2m/6/3/1/3.png"
	rec := doGet(t, srv, url, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "corrupt", reason(rec))

	// Quarantined: later requests fail fast without touching the artifact.
	rec = doGet(t, srv, url, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "corrupt", reason(rec))

	// And listings omit the frame until a new run re-publishes it.
	rec = doGet(t, srv, "/hrrr/conus/2026083112/tmp2m/frames", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var frames []discovery.FrameInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frames))
	assert.Empty(t, frames)
}
