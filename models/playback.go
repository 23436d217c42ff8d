package models

// StreamKind classifies the container/transport of a resolved stream URL.
type StreamKind string

const (
	StreamKindHLS     StreamKind = "hls"
	StreamKindMP4     StreamKind = "mp4"
	StreamKindUnknown StreamKind = "unknown"
)

// SegmentType tags a time interval inside a media asset.
type SegmentType string

const (
	SegmentTypeAd   SegmentType = "ad"
	SegmentTypeSkip SegmentType = "skip"
)

// Segment is a validated time interval. Start and End are seconds from the
// beginning of the asset; End is always strictly greater than Start.
type Segment struct {
	Type  SegmentType `json:"type"`
	Start float64     `json:"start"`
	End   float64     `json:"end"`
}

// Contains reports whether t falls inside the half-open interval [Start, End).
func (s Segment) Contains(t float64) bool {
	return t >= s.Start && t < s.End
}

// QualityVariant is a single entry of the discrete quality ladder.
type QualityVariant struct {
	Label int    `json:"label"` // 360, 480 or 720
	URL   string `json:"url"`
}

// PlaybackDescriptor is the canonical, renderer-facing model of a resolved
// stream. It is built once per resolution and never mutated afterwards; a new
// episode or link always produces a fresh descriptor.
type PlaybackDescriptor struct {
	DirectURL string           `json:"directUrl,omitempty"`
	Kind      StreamKind       `json:"kind"`
	Qualities []QualityVariant `json:"qualities,omitempty"`
	Segments  []Segment        `json:"segments,omitempty"`
}

// HasStream reports whether normalization identified a playable URL.
func (d *PlaybackDescriptor) HasStream() bool {
	return d != nil && d.DirectURL != ""
}

// QualityURL returns the URL declared for the given label, or "" when the
// descriptor carries no such tier.
func (d *PlaybackDescriptor) QualityURL(label int) string {
	for _, q := range d.Qualities {
		if q.Label == label {
			return q.URL
		}
	}
	return ""
}

// SourceMode selects how playback reaches the viewer.
type SourceMode string

const (
	// SourceModeIframe hands the raw episode link to an embedded third-party
	// frame without resolving it.
	SourceModeIframe SourceMode = "iframe"
	// SourceModeDirect resolves the episode link into a PlaybackDescriptor.
	SourceModeDirect SourceMode = "direct"
)

// ResolveState is the lifecycle of a single link resolution.
type ResolveState string

const (
	ResolveStateIdle     ResolveState = "idle"
	ResolveStateLoading  ResolveState = "loading"
	ResolveStateResolved ResolveState = "resolved"
	ResolveStateFailed   ResolveState = "failed"
)

// SegmentMarker is one painted overlay on the scrubber, expressed as
// fractions of the total duration.
type SegmentMarker struct {
	Type          SegmentType `json:"type"`
	StartFraction float64     `json:"startFraction"`
	EndFraction   float64     `json:"endFraction"`
}

// SegmentMap is the full scrubber overlay: proportional spans plus thin
// boundary markers at every segment edge.
type SegmentMap struct {
	Duration  float64         `json:"duration"`
	Markers   []SegmentMarker `json:"markers"`
	Edges     []float64       `json:"edges"` // fractions where boundary ticks are drawn
}
