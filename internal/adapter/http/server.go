// Package http serves the discovery surface and the tile endpoint over the
// published raster tree. The read path is lock-free apart from the dataset
// handle cache: artifacts are immutable once visible, so any number of
// requests may read one concurrently.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hawkstwelve/twf-models-sub001/internal/config"
	"github.com/hawkstwelve/twf-models-sub001/internal/discovery"
	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
	"github.com/hawkstwelve/twf-models-sub001/internal/observability"
	"github.com/hawkstwelve/twf-models-sub001/internal/storage"
	"github.com/hawkstwelve/twf-models-sub001/internal/tile"
)

// Server exposes discovery, tile, health, and metrics HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *observability.Metrics
	index      discovery.Index
	cache      *datasetCache
	pool       ioPool

	root    string
	zoomMin uint32
	zoomMax uint32
}

// NewServer wires the routes over a discovery index.
func NewServer(cfg *config.Config, index discovery.Index, metrics *observability.Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger:  logger,
		metrics: metrics,
		index:   index,
		cache:   newDatasetCache(cfg.DatasetCacheSize, metrics),
		pool:    newIOPool(cfg.IOWorkers),
		root:    cfg.RasterRoot,
		zoomMin: cfg.TileZoomMin,
		zoomMax: cfg.TileZoomMax,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /models", s.handleModels)
	mux.HandleFunc("GET /{model}/regions", s.handleRegions)
	mux.HandleFunc("GET /{model}/{region}/runs", s.handleRuns)
	mux.HandleFunc("GET /{model}/{region}/{run}/vars", s.handleVariables)
	mux.HandleFunc("GET /{model}/{region}/{run}/manifest", s.handleManifest)
	mux.HandleFunc("GET /{model}/{region}/{run}/{variable}/frames", s.handleFrames)

	mux.HandleFunc("GET /tiles/{model}/{region}/{run}/{variable}/{fh}/{z}/{x}/{y}", s.handleTile)
	mux.HandleFunc("GET /frames/{model}/{region}/{run}/{variable}/{fh}", s.handleFullFrame)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains connections and releases cached dataset handles.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.cache.close()
	return err
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady reports ready once the raster root is readable.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if _, err := os.Stat(s.root); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	models, err := s.index.ListModels()
	s.writeList(w, models, err)
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := s.index.ListRegions(r.PathValue("model"))
	s.writeList(w, regions, err)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.index.ListRuns(r.PathValue("model"), r.PathValue("region"))
	s.writeList(w, runs, err)
}

func (s *Server) handleVariables(w http.ResponseWriter, r *http.Request) {
	model, region := r.PathValue("model"), r.PathValue("region")
	run, err := s.index.ResolveRun(model, region, r.PathValue("run"))
	if err != nil {
		s.writeListError(w, err)
		return
	}
	vars, err := s.index.ListVariables(model, region, run)
	s.writeList(w, vars, err)
}

// handleManifest reports a run's expected matrix alongside what has actually
// been published, so orchestrators can watch a run fill in.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	model, region := r.PathValue("model"), r.PathValue("region")
	run, err := s.index.ResolveRun(model, region, r.PathValue("run"))
	if err != nil {
		s.writeListError(w, err)
		return
	}
	manifest, err := s.index.Manifest(model, region, run)
	if err != nil {
		s.writeListError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

// handleFrames lists published frames with their palette snapshots so the
// client can draw a legend without another round trip.
func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	model, region := r.PathValue("model"), r.PathValue("region")
	run, err := s.index.ResolveRun(model, region, r.PathValue("run"))
	if err != nil {
		s.writeListError(w, err)
		return
	}
	frames, err := s.index.ListFrames(model, region, run, r.PathValue("variable"))
	if err != nil {
		s.writeListError(w, err)
		return
	}
	if frames == nil {
		frames = []discovery.FrameInfo{}
	}
	writeJSON(w, http.StatusOK, frames)
}

func (s *Server) writeList(w http.ResponseWriter, list []string, err error) {
	if err != nil {
		s.writeListError(w, err)
		return
	}
	if list == nil {
		list = []string{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) writeListError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	s.logger.Error("discovery scan failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal", "discovery scan failed")
}

// handleTile serves one XYZ tile of a frame.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	yRaw, ok := strings.CutSuffix(r.PathValue("y"), ".png")
	if !ok {
		s.tileError(w, http.StatusNotFound, "not_found", "tile paths end in .png")
		return
	}
	coord, ok := parseCoord(r.PathValue("z"), r.PathValue("x"), yRaw)
	if !ok || !coord.Valid(s.zoomMin, s.zoomMax) {
		s.tileError(w, http.StatusNotFound, "not_found", "tile coordinate out of range")
		return
	}
	hour, err := strconv.Atoi(r.PathValue("fh"))
	if err != nil || hour < 0 {
		s.tileError(w, http.StatusNotFound, "not_found", "bad forecast hour")
		return
	}

	model, region := r.PathValue("model"), r.PathValue("region")
	runParam := r.PathValue("run")
	run, err := s.index.ResolveRun(model, region, runParam)
	if err != nil {
		s.tileError(w, http.StatusNotFound, "not_found", "no such run")
		return
	}
	key := domain.FrameKey{Model: model, Region: region, Run: run, Variable: r.PathValue("variable"), Hour: hour}

	ds, entry, _ := s.openFrame(w, key)
	if ds == nil {
		return
	}
	defer s.cache.release(entry)

	etag := fmt.Sprintf(`"%x-%s"`, datasetVersion(ds), coord)
	cacheControl := concreteCacheControl
	if runParam == discovery.LatestAlias {
		cacheControl = latestCacheControl
	}
	if r.Header.Get("If-None-Match") == etag {
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", cacheControl)
		w.WriteHeader(http.StatusNotModified)
		s.metrics.TilesServed.WithLabelValues("not_modified").Inc()
		return
	}

	data, err := renderTile(r.Context(), ds, coord, s.pool)
	if err != nil {
		s.renderError(w, key, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", cacheControl)
	w.Write(data) //nolint:errcheck // client may have disconnected
	s.metrics.TilesServed.WithLabelValues("ok").Inc()
	s.metrics.TileRenderDuration.Observe(time.Since(start).Seconds())
}

// handleFullFrame serves the whole-extent image of a frame at its coarsest
// pyramid level.
func (s *Server) handleFullFrame(w http.ResponseWriter, r *http.Request) {
	fhRaw, ok := strings.CutSuffix(r.PathValue("fh"), ".png")
	if !ok {
		s.tileError(w, http.StatusNotFound, "not_found", "frame paths end in .png")
		return
	}
	hour, err := strconv.Atoi(fhRaw)
	if err != nil || hour < 0 {
		s.tileError(w, http.StatusNotFound, "not_found", "bad forecast hour")
		return
	}

	model, region := r.PathValue("model"), r.PathValue("region")
	runParam := r.PathValue("run")
	run, err := s.index.ResolveRun(model, region, runParam)
	if err != nil {
		s.tileError(w, http.StatusNotFound, "not_found", "no such run")
		return
	}
	key := domain.FrameKey{Model: model, Region: region, Run: run, Variable: r.PathValue("variable"), Hour: hour}

	ds, entry, _ := s.openFrame(w, key)
	if ds == nil {
		return
	}
	defer s.cache.release(entry)

	// Same versioning scheme as tiles, with a suffix so a frame response can
	// never validate against a tile's ETag.
	etag := fmt.Sprintf(`"%x-frame"`, datasetVersion(ds))
	cacheControl := concreteCacheControl
	if runParam == discovery.LatestAlias {
		cacheControl = latestCacheControl
	}
	if r.Header.Get("If-None-Match") == etag {
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", cacheControl)
		w.WriteHeader(http.StatusNotModified)
		s.metrics.TilesServed.WithLabelValues("not_modified").Inc()
		return
	}

	data, err := renderFullFrame(r.Context(), ds, s.pool)
	if err != nil {
		s.renderError(w, key, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", cacheControl)
	w.Write(data) //nolint:errcheck
	s.metrics.TilesServed.WithLabelValues("ok").Inc()
}

// openFrame checks the frame's status and acquires its dataset. On failure it
// writes the response itself and returns a nil dataset.
func (s *Server) openFrame(w http.ResponseWriter, key domain.FrameKey) (*dataset, *cacheEntry, domain.FrameStatus) {
	status := s.index.FrameStatus(key)
	switch status {
	case domain.FramePending:
		// Declared but not yet published: clients may keep polling.
		w.Header().Set("Cache-Control", "no-store")
		writeError(w, http.StatusNotFound, "pending", "frame not yet published")
		s.metrics.TilesServed.WithLabelValues("pending").Inc()
		return nil, nil, status
	case domain.FrameCorrupt:
		writeError(w, http.StatusNotFound, "corrupt", "frame quarantined until re-published")
		s.metrics.TilesServed.WithLabelValues("corrupt").Inc()
		return nil, nil, status
	case domain.FrameUnknown:
		writeError(w, http.StatusNotFound, "not_found", "no such frame")
		s.metrics.TilesServed.WithLabelValues("not_found").Inc()
		return nil, nil, status
	}

	ds, entry, err := s.cache.acquire(
		storage.ArtifactPath(s.root, key),
		storage.SidecarPath(s.root, key),
	)
	if err != nil {
		if errors.Is(err, domain.ErrCorruptArtifact) {
			s.quarantine(key, err)
			writeError(w, http.StatusInternalServerError, "corrupt", "artifact unreadable")
			s.metrics.TilesServed.WithLabelValues("corrupt").Inc()
			return nil, nil, domain.FrameCorrupt
		}
		if os.IsNotExist(err) {
			// The run was evicted between the status check and the open.
			writeError(w, http.StatusNotFound, "not_found", "no such frame")
			s.metrics.TilesServed.WithLabelValues("not_found").Inc()
			return nil, nil, domain.FrameUnknown
		}
		s.logger.Error("open dataset failed", "frame", key.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "open dataset failed")
		s.metrics.TilesServed.WithLabelValues("error").Inc()
		return nil, nil, status
	}
	return ds, entry, status
}

// renderError maps a failed render to a response. Context cancellation means
// the client left; there is nobody to answer.
func (s *Server) renderError(w http.ResponseWriter, key domain.FrameKey, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Debug("render aborted", "frame", key.String(), "reason", err)
		return
	}
	if errors.Is(err, domain.ErrCorruptArtifact) {
		s.quarantine(key, err)
		writeError(w, http.StatusInternalServerError, "corrupt", "artifact unreadable")
		s.metrics.TilesServed.WithLabelValues("corrupt").Inc()
		return
	}
	s.logger.Error("render failed", "frame", key.String(), "error", err)
	writeError(w, http.StatusInternalServerError, "internal", "render failed")
	s.metrics.TilesServed.WithLabelValues("error").Inc()
}

// quarantine flags a corrupt frame so discovery omits it and the cache drops
// any poisoned handle.
func (s *Server) quarantine(key domain.FrameKey, err error) {
	s.logger.Error("corrupt artifact quarantined", "frame", key.String(), "error", err)
	s.index.MarkCorrupt(key)
	s.cache.invalidate(storage.ArtifactPath(s.root, key))
}

const (
	concreteCacheControl = "public, max-age=31536000, immutable"
	latestCacheControl   = "public, max-age=15"
)

// datasetVersion derives the ETag base from artifact size and mtime; combined
// with the tile coordinate this uniquely versions the response bytes.
func datasetVersion(ds *dataset) uint64 {
	mtime, err := ds.reader.ModTime()
	if err != nil {
		mtime = 0
	}
	return uint64(ds.reader.Size()) ^ uint64(mtime)
}

func parseCoord(zRaw, xRaw, yRaw string) (tile.Coord, bool) {
	z, err1 := strconv.ParseUint(zRaw, 10, 32)
	x, err2 := strconv.ParseUint(xRaw, 10, 32)
	y, err3 := strconv.ParseUint(yRaw, 10, 32)
	if err1 != nil || err2 != nil || err3 != nil {
		return tile.Coord{}, false
	}
	return tile.Coord{Z: uint32(z), X: uint32(x), Y: uint32(y)}, true
}

func (s *Server) tileError(w http.ResponseWriter, status int, reason, msg string) {
	writeError(w, status, reason, msg)
	s.metrics.TilesServed.WithLabelValues("not_found").Inc()
}

func writeError(w http.ResponseWriter, status int, reason, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "reason": reason})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
