// Package domain models the raster frame pipeline's shared vocabulary:
// frame identity, sidecar metadata, run manifests, and the error taxonomy.
//
// # Frames
//
// A frame is one rendered raster for a single {model, region, run, variable,
// forecast_hour} tuple. Frames are immutable once published: the artifact's
// bytes never change under an existing path, and a new model run supersedes
// the old one at a different path rather than overwriting it. Everything in
// the serving layer (caching headers, open-handle reuse, lock-free reads)
// depends on that property.
//
// # Byte encoding
//
// Artifacts carry two unsigned-byte bands. Band 1 holds either a palette bin
// index (discrete variables) or a linearly scaled sample (continuous
// variables); Band 2 is alpha, 0 for transparent/no-data and 255 for opaque.
// The byte domain is fully determined by the sidecar's palette snapshot;
// renderers must never infer the palette or physical range from the data.
//
// Discrete alpha rule: a finite sample below the first level threshold is
// encoded transparent even though it still lands in bin 0. This is a product
// decision (near-zero precipitation renders invisible rather than in the
// lowest color), not a generic missing-data convention, and is preserved
// exactly.
//
// # Runs and manifests
//
// A run directory name encodes the model initialization time and sorts
// lexically, so "newest run" is a plain string comparison. A RunManifest is
// synthesized from the directory tree on demand; it only ever gains frames
// over its lifetime until whole-run retention eviction removes the directory.
package domain
