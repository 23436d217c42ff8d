package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"kinocast/internal/media"
)

var (
	ErrNotAttached     = errors.New("decoder is not attached to an element")
	ErrAlreadyAttached = errors.New("decoder is already attached")
)

const maxManifestBytes = 4 * 1024 * 1024

// Decoder feeds an HLS stream to a media element that cannot play the format
// natively. Attachment must complete before the manifest is requested:
// loading the source first can drop the initial segments.
type Decoder struct {
	mu       sync.Mutex
	client   *http.Client
	elem     media.Element
	manifest *Manifest
}

// NewDecoder builds a decoder around the supplied HTTP client. A nil client
// gets a conservative default.
func NewDecoder(client *http.Client) *Decoder {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Decoder{client: client}
}

// Attach binds the decoder to the element for the given source. The element
// will not see metadata until LoadManifest delivers it.
func (d *Decoder) Attach(elem media.Element, src string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.elem != nil {
		return ErrAlreadyAttached
	}
	d.elem = elem
	elem.Attach(src)
	return nil
}

// LoadManifest fetches and parses the playlist, following a master playlist
// to its first variant, then delivers the computed duration to the element.
// Transient transport errors are retried; the resolution layer above never
// retries, so this is the only place a fetch is attempted more than once.
func (d *Decoder) LoadManifest(ctx context.Context, manifestURL string) error {
	d.mu.Lock()
	elem := d.elem
	d.mu.Unlock()
	if elem == nil {
		return ErrNotAttached
	}

	m, err := d.fetchManifest(ctx, manifestURL)
	if err != nil {
		return err
	}

	if m.Master {
		if len(m.VariantURIs) == 0 {
			return fmt.Errorf("master playlist %q has no variants", manifestURL)
		}
		m, err = d.fetchManifest(ctx, m.VariantURIs[0])
		if err != nil {
			return fmt.Errorf("load variant playlist: %w", err)
		}
	}

	d.mu.Lock()
	d.manifest = m
	stillAttached := d.elem == elem
	d.mu.Unlock()

	if !stillAttached {
		// Detached while the fetch was in flight; the metadata belongs to a
		// torn-down element and must not be delivered.
		return nil
	}

	log.Printf("[hls] manifest loaded url=%q segments=%d duration=%.1fs", manifestURL, len(m.SegmentURIs), m.Duration)
	elem.DeliverMetadata(m.Duration)
	return nil
}

// Manifest returns the most recently loaded media playlist, or nil.
func (d *Decoder) Manifest() *Manifest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.manifest
}

// Detach releases the element. Safe to call repeatedly.
func (d *Decoder) Detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elem = nil
	d.manifest = nil
}

func (d *Decoder) fetchManifest(ctx context.Context, manifestURL string) (*Manifest, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("parse manifest url: %w", err)
	}

	return retry.DoWithData(
		func() (*Manifest, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
			if err != nil {
				return nil, retry.Unrecoverable(err)
			}
			resp, err := d.client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				return nil, fmt.Errorf("fetch manifest: %s", resp.Status)
			}
			if resp.StatusCode >= 400 {
				return nil, retry.Unrecoverable(fmt.Errorf("fetch manifest: %s", resp.Status))
			}

			m, err := ParseManifest(io.LimitReader(resp.Body, maxManifestBytes), base)
			if err != nil {
				return nil, retry.Unrecoverable(err)
			}
			return m, nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}
