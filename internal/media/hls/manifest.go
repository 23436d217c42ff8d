package hls

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// Manifest is a parsed m3u8 playlist. Master playlists carry variant URIs;
// media playlists carry segment entries and a total duration.
type Manifest struct {
	Master      bool
	VariantURIs []string
	SegmentURIs []string
	Duration    float64
	TargetDur   float64
}

// ParseManifest reads an m3u8 playlist. Relative URIs are resolved against
// base when it is non-nil.
func ParseManifest(r io.Reader, base *url.URL) (*Manifest, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return nil, fmt.Errorf("empty playlist")
	}
	if !strings.HasPrefix(strings.TrimSpace(scanner.Text()), "#EXTM3U") {
		return nil, fmt.Errorf("not an m3u8 playlist")
	}

	m := &Manifest{}
	pendingVariant := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
			m.Master = true
			pendingVariant = true
		case strings.HasPrefix(line, "#EXTINF:"):
			val := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(val, ","); idx != -1 {
				val = val[:idx]
			}
			if d, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil && d > 0 {
				m.Duration += d
			}
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			if d, err := strconv.ParseFloat(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"), 64); err == nil {
				m.TargetDur = d
			}
		case strings.HasPrefix(line, "#"):
			continue
		default:
			resolved := resolveURI(line, base)
			if pendingVariant {
				m.VariantURIs = append(m.VariantURIs, resolved)
				pendingVariant = false
			} else {
				m.SegmentURIs = append(m.SegmentURIs, resolved)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}

	return m, nil
}

func resolveURI(uri string, base *url.URL) string {
	if base == nil {
		return uri
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return base.ResolveReference(ref).String()
}
