package media

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sourcegraph/conc/pool"

	"kinocast/models"
)

const probeWindowBytes = 256 * 1024

// Prober inspects remote media sources: kind sniffing for URLs the substring
// classifier could not place, and best-effort duration extraction for
// directly-loaded files.
type Prober struct {
	client    *http.Client
	maxProbes int
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithMaxProbes caps how many variant probes run concurrently.
func WithMaxProbes(n int) ProberOption {
	return func(p *Prober) {
		if n > 0 {
			p.maxProbes = n
		}
	}
}

// NewProber builds a prober around the supplied HTTP client. A nil client
// gets a conservative default.
func NewProber(client *http.Client, opts ...ProberOption) *Prober {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	p := &Prober{client: client, maxProbes: 4}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Duration fetches the leading bytes of the source and tries to read the
// declared movie duration from an up-front moov/mvhd box. Sources without
// parseable metadata report zero duration without an error.
func (p *Prober) Duration(ctx context.Context, src string) (float64, error) {
	window, err := p.fetchWindow(ctx, src)
	if err != nil {
		return 0, err
	}
	if d, ok := mvhdDuration(window); ok {
		return d, nil
	}
	return 0, nil
}

// SniffKind downloads a small window of the source and classifies it by
// content. Used only when URL-based detection reports unknown.
func (p *Prober) SniffKind(ctx context.Context, src string) (models.StreamKind, error) {
	window, err := p.fetchWindow(ctx, src)
	if err != nil {
		return models.StreamKindUnknown, err
	}
	if strings.HasPrefix(strings.TrimSpace(string(window)), "#EXTM3U") {
		return models.StreamKindHLS, nil
	}
	mt := mimetype.Detect(window)
	switch {
	case mt.Is("video/mp4"):
		return models.StreamKindMP4, nil
	case mt.Is("application/vnd.apple.mpegurl"), mt.Is("audio/x-mpegurl"):
		return models.StreamKindHLS, nil
	}
	return models.StreamKindUnknown, nil
}

// VariantHealth is the availability result for one quality variant.
type VariantHealth struct {
	Label     int
	Available bool
}

// CheckVariants issues HEAD requests for every quality variant concurrently
// and reports which ones answered with a success status. Best effort only:
// a transport error marks the variant unavailable, never fails the call.
func (p *Prober) CheckVariants(ctx context.Context, variants []models.QualityVariant) []VariantHealth {
	if len(variants) == 0 {
		return nil
	}

	limit := p.maxProbes
	if len(variants) < limit {
		limit = len(variants)
	}
	results := make([]VariantHealth, len(variants))
	wp := pool.New().WithContext(ctx).WithMaxGoroutines(limit)
	for i, v := range variants {
		wp.Go(func(ctx context.Context) error {
			results[i] = VariantHealth{Label: v.Label, Available: p.headOK(ctx, v.URL)}
			return nil
		})
	}
	_ = wp.Wait()
	return results
}

func (p *Prober) headOK(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

func (p *Prober) fetchWindow(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", probeWindowBytes-1))

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("probe source: %s", resp.Status)
	}

	window, err := io.ReadAll(io.LimitReader(resp.Body, probeWindowBytes))
	if err != nil {
		return nil, fmt.Errorf("read probe window: %w", err)
	}
	return window, nil
}

// mvhdDuration scans an ISO-BMFF byte window for the mvhd box and computes
// the declared movie duration. Works for files with the moov box up front;
// streaming-unfriendly files simply report no duration.
func mvhdDuration(window []byte) (float64, bool) {
	idx := 0
	for {
		next := indexAt(window, []byte("mvhd"), idx)
		if next == -1 || next+4 > len(window) {
			return 0, false
		}
		// Box layout: size(4) type(4) version(1) flags(3), so the payload
		// starts 4 bytes after the type tag.
		payload := window[next+4:]
		if len(payload) < 1 {
			return 0, false
		}
		version := payload[0]
		switch version {
		case 0:
			// timescale at offset 12, duration(4) at 16
			if len(payload) < 20 {
				break
			}
			timescale := binary.BigEndian.Uint32(payload[12:16])
			duration := binary.BigEndian.Uint32(payload[16:20])
			if timescale > 0 {
				return float64(duration) / float64(timescale), true
			}
		case 1:
			// timescale at offset 20, duration(8) at 24
			if len(payload) < 32 {
				break
			}
			timescale := binary.BigEndian.Uint32(payload[20:24])
			duration := binary.BigEndian.Uint64(payload[24:32])
			if timescale > 0 {
				return float64(duration) / float64(timescale), true
			}
		}
		idx = next + 4
	}
}

func indexAt(haystack, needle []byte, from int) int {
	if from >= len(haystack) {
		return -1
	}
	for i := from; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
