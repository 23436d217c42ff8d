package renderer

import (
	"sort"

	"github.com/samber/lo"

	"kinocast/models"
)

// BuildSegmentMap projects validated segments onto a unit-length scrubber.
// Spans outside the asset are clipped; segments starting past the end are
// dropped. Edges collect every distinct clipped boundary so the scrubber can
// draw a tick where one span meets another.
func BuildSegmentMap(duration float64, segments []models.Segment) models.SegmentMap {
	m := models.SegmentMap{Duration: duration}
	if duration <= 0 {
		return m
	}

	for _, seg := range segments {
		start := lo.Clamp(seg.Start/duration, 0, 1)
		end := lo.Clamp(seg.End/duration, 0, 1)
		if end <= start {
			continue
		}
		m.Markers = append(m.Markers, models.SegmentMarker{
			Type:          seg.Type,
			StartFraction: start,
			EndFraction:   end,
		})
	}

	seen := make(map[float64]struct{})
	for _, marker := range m.Markers {
		for _, edge := range []float64{marker.StartFraction, marker.EndFraction} {
			if _, ok := seen[edge]; ok {
				continue
			}
			seen[edge] = struct{}{}
			m.Edges = append(m.Edges, edge)
		}
	}
	sort.Float64s(m.Edges)
	return m
}
