package http

import (
	"encoding/json"
	"image/color"
	"os"
	"sync"

	"github.com/hawkstwelve/twf-models-sub001/internal/observability"
	"github.com/hawkstwelve/twf-models-sub001/internal/palette"
	"github.com/hawkstwelve/twf-models-sub001/internal/raster"

	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
)

// dataset is everything the render path needs for one frame: the open raster
// reader, the sidecar snapshot, and the LUT derived from it. Immutable after
// load, shared freely across requests.
type dataset struct {
	reader *raster.Reader
	meta   domain.FrameMeta
	lut    [256]color.RGBA
}

// openDataset loads the sidecar, derives the LUT, and opens the artifact.
func openDataset(artifactPath, sidecarPath string) (*dataset, error) {
	raw, err := os.ReadFile(sidecarPath)
	if err != nil {
		return nil, err
	}
	var meta domain.FrameMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, domain.ErrCorruptArtifact
	}
	spec, err := palette.SpecFromMeta(meta)
	if err != nil {
		return nil, domain.ErrCorruptArtifact
	}
	lut, err := palette.BuildLUT(spec)
	if err != nil {
		return nil, domain.ErrCorruptArtifact
	}

	reader, err := raster.Open(artifactPath)
	if err != nil {
		return nil, err
	}
	return &dataset{reader: reader, meta: meta, lut: lut}, nil
}

// datasetCache is a bounded LRU of open datasets keyed by artifact path.
//
// The map mutex guards only list and refcount bookkeeping; opening a file
// happens outside it, gated per entry, so a slow open of one artifact never
// serializes requests for others. Entries are refcounted because eviction may
// race with an in-flight windowed read: the file handle closes only when the
// entry is both evicted and unreferenced. Artifacts are immutable, so a
// cached handle can never be stale.
type datasetCache struct {
	max     int
	metrics *observability.Metrics

	mu      sync.Mutex
	entries map[string]*cacheEntry
	head    *cacheEntry // most recently used
	tail    *cacheEntry // least recently used
}

type cacheEntry struct {
	key  string
	prev *cacheEntry
	next *cacheEntry

	ready chan struct{} // closed once the open attempt finished
	ds    *dataset
	err   error

	refs     int  // in-flight users
	resident bool // still in the LRU
}

func newDatasetCache(maxEntries int, metrics *observability.Metrics) *datasetCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &datasetCache{
		max:     maxEntries,
		metrics: metrics,
		entries: make(map[string]*cacheEntry),
	}
}

// acquire returns the dataset for an artifact, opening it if needed. The
// caller must pair every successful acquire with a release.
func (c *datasetCache) acquire(artifactPath, sidecarPath string) (*dataset, *cacheEntry, error) {
	c.mu.Lock()
	if e, ok := c.entries[artifactPath]; ok {
		e.refs++
		c.moveToFront(e)
		c.mu.Unlock()
		c.metrics.DatasetCache.WithLabelValues("hit").Inc()

		<-e.ready
		if e.err != nil {
			c.release(e)
			return nil, nil, e.err
		}
		return e.ds, e, nil
	}

	e := &cacheEntry{
		key:      artifactPath,
		ready:    make(chan struct{}),
		refs:     1,
		resident: true,
	}
	c.entries[artifactPath] = e
	c.addToFront(e)
	if len(c.entries) > c.max {
		c.evictTail()
	}
	c.mu.Unlock()
	c.metrics.DatasetCache.WithLabelValues("miss").Inc()

	ds, err := openDataset(artifactPath, sidecarPath)
	e.ds, e.err = ds, err
	close(e.ready)

	if err != nil {
		// Drop the failed entry so a re-publish can be retried immediately.
		c.mu.Lock()
		if e.resident {
			c.remove(e)
			delete(c.entries, e.key)
			e.resident = false
		}
		c.mu.Unlock()
		c.release(e)
		return nil, nil, err
	}

	c.metrics.OpenDatasets.Inc()
	return ds, e, nil
}

// release drops one reference; the underlying handle closes once the entry is
// gone from the LRU and unreferenced.
func (c *datasetCache) release(e *cacheEntry) {
	c.mu.Lock()
	e.refs--
	closeNow := !e.resident && e.refs == 0 && e.ds != nil
	c.mu.Unlock()

	if closeNow {
		e.ds.reader.Close()
		c.metrics.OpenDatasets.Dec()
	}
}

// invalidate removes an entry whose artifact turned out to be unreadable, so
// it cannot keep serving from a poisoned handle.
func (c *datasetCache) invalidate(artifactPath string) {
	c.mu.Lock()
	e, ok := c.entries[artifactPath]
	if ok {
		c.remove(e)
		delete(c.entries, e.key)
		e.resident = false
		if e.refs == 0 && e.ds != nil {
			c.mu.Unlock()
			e.ds.reader.Close()
			c.metrics.OpenDatasets.Dec()
			return
		}
	}
	c.mu.Unlock()
}

// evictTail is called with the lock held.
func (c *datasetCache) evictTail() {
	e := c.tail
	if e == nil {
		return
	}
	c.remove(e)
	delete(c.entries, e.key)
	e.resident = false
	c.metrics.DatasetEvictions.Inc()

	if e.refs == 0 && e.ds != nil {
		e.ds.reader.Close()
		c.metrics.OpenDatasets.Dec()
	}
}

func (c *datasetCache) moveToFront(e *cacheEntry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *datasetCache) addToFront(e *cacheEntry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *datasetCache) remove(e *cacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

// close releases every cached handle, for shutdown.
func (c *datasetCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		delete(c.entries, key)
		e.resident = false
		if e.refs == 0 && e.ds != nil {
			e.ds.reader.Close()
			c.metrics.OpenDatasets.Dec()
		}
	}
	c.head, c.tail = nil, nil
}
