package descriptor

import (
	"encoding/json"
	"math"
	"strings"

	"kinocast/models"
)

// RawPayload mirrors the upstream resolution response. Any subset of the
// fields may be absent; quality values are either plain strings or objects
// carrying a src-like field.
type RawPayload struct {
	Links    map[string]json.RawMessage `json:"links,omitempty"`
	M3U8     string                     `json:"m3u8,omitempty"`
	MP4      string                     `json:"mp4,omitempty"`
	URL      string                     `json:"url,omitempty"`
	Segments RawSegments                `json:"segments,omitempty"`
}

// RawSegments carries unvalidated segment intervals grouped by type.
type RawSegments struct {
	Ad   []RawInterval `json:"ad,omitempty"`
	Skip []RawInterval `json:"skip,omitempty"`
}

// RawInterval is an unvalidated [start, end] pair.
type RawInterval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// qualityTiers lists the supported ladder from highest to lowest. Only these
// three tiers are ever emitted.
var qualityTiers = []int{720, 480, 360}

// Parse decodes raw upstream bytes and normalizes them. Malformed JSON is not
// an error: it normalizes to a descriptor with no stream, the same as a
// response that names no URL at all.
func Parse(raw []byte) *models.PlaybackDescriptor {
	var payload RawPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return &models.PlaybackDescriptor{Kind: models.StreamKindUnknown}
	}
	return Normalize(payload)
}

// Normalize translates an upstream payload into the canonical
// PlaybackDescriptor. Pure and total: it never fails, and the absence of any
// recognizable URL yields an empty DirectURL.
func Normalize(payload RawPayload) *models.PlaybackDescriptor {
	desc := &models.PlaybackDescriptor{Kind: models.StreamKindUnknown}

	for _, tier := range qualityTiers {
		url := tierURL(payload.Links, tier)
		if url == "" {
			continue
		}
		desc.Qualities = append(desc.Qualities, models.QualityVariant{
			Label: tier,
			URL:   models.UpgradeProtocolRelative(url),
		})
	}

	if len(desc.Qualities) > 0 {
		// Tiers are collected highest-first, so the default stream is the
		// first entry of the ladder.
		desc.DirectURL = desc.Qualities[0].URL
	} else {
		for _, fallback := range []string{payload.M3U8, payload.MP4, payload.URL} {
			if trimmed := strings.TrimSpace(fallback); trimmed != "" {
				desc.DirectURL = models.UpgradeProtocolRelative(trimmed)
				break
			}
		}
	}

	// Kind is always recomputed from whatever URL won, so a fallback URL is
	// classified the same way a quality-tier URL is.
	desc.Kind = DetectKind(desc.DirectURL)
	desc.Segments = normalizeSegments(payload.Segments)

	return desc
}

// DetectKind classifies a stream URL by content: HLS markers anywhere in the
// URL win over an .mp4 suffix; everything else is unknown.
func DetectKind(url string) models.StreamKind {
	if strings.TrimSpace(url) == "" {
		return models.StreamKindUnknown
	}
	lower := strings.ToLower(url)
	if strings.Contains(lower, "m3u8") || strings.Contains(lower, "application/vnd.apple.mpegurl") {
		return models.StreamKindHLS
	}
	if strings.HasSuffix(trimQuery(lower), ".mp4") {
		return models.StreamKindMP4
	}
	return models.StreamKindUnknown
}

func trimQuery(url string) string {
	if idx := strings.IndexAny(url, "?#"); idx != -1 {
		return url[:idx]
	}
	return url
}

// tierURL extracts the raw URL for a quality tier, accepting both plain
// strings and {src: ...} objects.
func tierURL(links map[string]json.RawMessage, tier int) string {
	if links == nil {
		return ""
	}
	raw, ok := links[tierKey(tier)]
	if !ok {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString)
	}

	var asObject struct {
		Src  string `json:"src"`
		URL  string `json:"url"`
		File string `json:"file"`
	}
	if err := json.Unmarshal(raw, &asObject); err == nil {
		for _, candidate := range []string{asObject.Src, asObject.URL, asObject.File} {
			if trimmed := strings.TrimSpace(candidate); trimmed != "" {
				return trimmed
			}
		}
	}

	return ""
}

func tierKey(tier int) string {
	switch tier {
	case 720:
		return "720"
	case 480:
		return "480"
	case 360:
		return "360"
	}
	return ""
}

// normalizeSegments keeps only intervals with finite bounds and end strictly
// after start. Everything outside the ad/skip groups is dropped by shape.
func normalizeSegments(raw RawSegments) []models.Segment {
	var out []models.Segment
	appendValid := func(kind models.SegmentType, intervals []RawInterval) {
		for _, iv := range intervals {
			if !isFinite(iv.Start) || !isFinite(iv.End) {
				continue
			}
			if iv.End <= iv.Start {
				continue
			}
			out = append(out, models.Segment{Type: kind, Start: iv.Start, End: iv.End})
		}
	}
	appendValid(models.SegmentTypeAd, raw.Ad)
	appendValid(models.SegmentTypeSkip, raw.Skip)
	return out
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
