package aioring

import "github.com/ioplex/aioring/internal/ring"

// Feature bits advertised in the completion ring header's compat_features
// word, re-exported from internal/ring so callers never import it directly.
const (
	FeatureBasicABI       = ring.FeatureBasicABI
	FeatureWorkerFallback = ring.FeatureWorkerFallback
)

// RingMagic is the sentinel value stamped into every ring header.
const RingMagic = ring.Magic

// HeaderSize and RecordSize are the on-wire sizes of the ring header and
// one completion record, re-exported for callers that parse a ring's raw
// bytes themselves (e.g. a second process sharing the same mapping).
const (
	HeaderSize = ring.HeaderSize
	RecordSize = ring.RecordSize
)
