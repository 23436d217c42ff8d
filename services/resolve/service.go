package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html/charset"

	"kinocast/internal/descriptor"
	"kinocast/models"
)

// ErrNoPlayableStream marks a resolution that completed but produced a
// descriptor with no identifiable stream.
var ErrNoPlayableStream = errors.New("could not identify a playable stream")

const maxResponseBytes = 8 * 1024 * 1024

// Status is a snapshot of the controller, safe to hand to callers.
type Status struct {
	State      models.ResolveState        `json:"state"`
	Mode       models.SourceMode          `json:"mode"`
	Link       string                     `json:"link,omitempty"`
	EmbedURL   string                     `json:"embedUrl,omitempty"`
	Descriptor *models.PlaybackDescriptor `json:"descriptor,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

// Controller resolves the active episode link into a PlaybackDescriptor.
// At most one resolution request is outstanding per controller: a newer
// Set call cancels the in-flight request, and a cancelled request's result
// is never applied. Each player instance owns its own Controller and its
// own injected HTTP client.
type Controller struct {
	mu         sync.Mutex
	endpoint   string
	client     *http.Client
	gen        uint64
	cancel     context.CancelFunc
	state      models.ResolveState
	mode       models.SourceMode
	link       string
	embedURL   string
	desc       *models.PlaybackDescriptor
	errMsg     string
	onResolved func(desc *models.PlaybackDescriptor)
	onFailed   func(msg string)
}

// NewController builds a controller for the given upstream resolve endpoint.
// A nil client gets a conservative default; callers that share a transport
// pass their own.
func NewController(endpoint string, client *http.Client) *Controller {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Controller{
		endpoint: endpoint,
		client:   client,
		state:    models.ResolveStateIdle,
		mode:     models.SourceModeDirect,
	}
}

// OnResolved registers the sink for successful resolutions (the renderer).
func (c *Controller) OnResolved(fn func(desc *models.PlaybackDescriptor)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResolved = fn
}

// OnFailed registers the sink for non-fatal resolution failures.
func (c *Controller) OnFailed(fn func(msg string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailed = fn
}

// Set records a new link/mode pair and, in direct mode, starts resolution.
// Any in-flight request is superseded and cancelled first. Iframe mode
// performs no resolution: the raw link goes straight to the embedded frame.
func (c *Controller) Set(link string, mode models.SourceMode) {
	link = strings.TrimSpace(link)

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	gen := c.gen
	c.link = link
	c.mode = mode
	c.desc = nil
	c.embedURL = ""
	c.errMsg = ""

	if link == "" {
		// No playable episode: an empty state, not an error.
		c.state = models.ResolveStateIdle
		c.mu.Unlock()
		return
	}

	if mode == models.SourceModeIframe {
		c.state = models.ResolveStateIdle
		c.embedURL = link
		c.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = models.ResolveStateLoading
	c.mu.Unlock()

	go c.resolve(ctx, gen, link)
}

// Cancel aborts any in-flight resolution and returns the controller to idle.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.state = models.ResolveStateIdle
}

// Snapshot returns the current controller state.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:      c.state,
		Mode:       c.mode,
		Link:       c.link,
		EmbedURL:   c.embedURL,
		Descriptor: c.desc,
		Error:      c.errMsg,
	}
}

func (c *Controller) resolve(ctx context.Context, gen uint64, link string) {
	desc, err := c.fetch(ctx, link)

	if err != nil {
		if isCancellation(ctx, err) {
			// Superseded request, not a real failure.
			return
		}
		c.applyFailure(gen, err.Error())
		return
	}

	if !desc.HasStream() {
		c.applyFailure(gen, ErrNoPlayableStream.Error())
		return
	}

	c.applySuccess(gen, desc)
}

func (c *Controller) fetch(ctx context.Context, link string) (*models.PlaybackDescriptor, error) {
	endpoint := fmt.Sprintf("%s?link=%s", c.endpoint, url.QueryEscape(link))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build resolve request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("resolve failed: %s", resp.Status)
	}

	// Upstreams occasionally answer in legacy encodings; normalize before
	// handing the body to the parser.
	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		reader = resp.Body
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read resolve response: %w", err)
	}

	return descriptor.Parse(body), nil
}

func (c *Controller) applySuccess(gen uint64, desc *models.PlaybackDescriptor) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state = models.ResolveStateResolved
	c.desc = desc
	c.cancel = nil
	sink := c.onResolved
	c.mu.Unlock()

	log.Printf("[resolve] resolved kind=%s qualities=%d segments=%d", desc.Kind, len(desc.Qualities), len(desc.Segments))
	if sink != nil {
		sink(desc)
	}
}

func (c *Controller) applyFailure(gen uint64, msg string) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state = models.ResolveStateFailed
	c.errMsg = msg
	c.cancel = nil
	sink := c.onFailed
	c.mu.Unlock()

	log.Printf("[resolve] failed: %s", msg)
	if sink != nil {
		sink(msg)
	}
}

func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}
