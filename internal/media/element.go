package media

import (
	"context"
	"log"
	"sync"
	"time"

	"kinocast/models"
)

// Unsubscribe removes a previously registered event listener.
type Unsubscribe func()

// Element is the playback surface the renderer drives. It mirrors the event
// model of a media element: metadata-loaded fires exactly once per load,
// time updates fire while playing, ended fires when playback reaches the
// duration. Implementations are owned exclusively by the renderer.
type Element interface {
	// Load sets a source the element can play on its own; the element
	// acquires metadata itself and fires metadata-loaded when it settles.
	Load(src string)
	// Attach sets a source that a streaming decoder will manage. No metadata
	// acquisition happens until the decoder calls DeliverMetadata.
	Attach(src string)
	// DeliverMetadata reports the asset duration for the current load.
	// Ignored after the first delivery for a given load.
	DeliverMetadata(duration float64)

	Play()
	Pause()
	Seek(seconds float64)
	SetMuted(muted bool)

	CurrentTime() float64
	Duration() float64
	Paused() bool
	Muted() bool
	Source() string

	// CanPlayNatively reports whether the platform understands the stream
	// kind without a decoder in front of it.
	CanPlayNatively(kind models.StreamKind) bool

	OnMetadataLoaded(fn func(duration float64)) Unsubscribe
	OnTimeUpdate(fn func(seconds float64)) Unsubscribe
	OnEnded(fn func()) Unsubscribe

	// Close pauses playback, clears the source and drops all listeners.
	Close()
}

// DurationProbe resolves the duration of a directly-loaded source.
type DurationProbe func(ctx context.Context, src string) (float64, error)

// ClockOption configures a Clock element.
type ClockOption func(*Clock)

// WithNativeHLS marks the element as natively understanding HLS streams.
func WithNativeHLS(native bool) ClockOption {
	return func(c *Clock) { c.nativeHLS = native }
}

// WithTickInterval overrides how often time updates fire while playing.
func WithTickInterval(d time.Duration) ClockOption {
	return func(c *Clock) {
		if d > 0 {
			c.tick = d
		}
	}
}

// WithDurationProbe sets the probe used for directly-loaded sources.
func WithDurationProbe(probe DurationProbe) ClockOption {
	return func(c *Clock) { c.probe = probe }
}

// Clock is the reference Element: a headless, ticker-driven playback surface.
// Time advances in wall-clock steps while playing and stops at the duration.
type Clock struct {
	mu        sync.Mutex
	src       string
	current   float64
	duration  float64
	paused    bool
	muted     bool
	hasMeta   bool
	loadGen   uint64
	closed    bool
	nativeHLS bool
	tick      time.Duration
	probe     DurationProbe

	nextListener int
	metaFns      map[int]func(float64)
	timeFns      map[int]func(float64)
	endFns       map[int]func()

	ctx    context.Context
	cancel context.CancelFunc

	stopTicker chan struct{}
}

var _ Element = (*Clock)(nil)

// NewClock constructs a headless media element.
func NewClock(opts ...ClockOption) *Clock {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Clock{
		paused:  true,
		tick:    250 * time.Millisecond,
		metaFns: make(map[int]func(float64)),
		timeFns: make(map[int]func(float64)),
		endFns:  make(map[int]func()),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Clock) Load(src string) {
	probe := c.beginLoad(src)
	if probe == nil {
		return
	}

	gen := c.generation()
	go func() {
		duration, err := probe(c.ctx, src)
		if err != nil {
			log.Printf("[element] metadata probe failed src=%q: %v", src, err)
			return
		}
		c.deliverMetadataFor(gen, duration)
	}()
}

func (c *Clock) Attach(src string) {
	c.beginLoad(src)
}

// beginLoad resets playback state for a new source and returns the probe to
// run, or nil when metadata delivery is external (or the element is closed).
func (c *Clock) beginLoad(src string) DurationProbe {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.src = src
	c.current = 0
	c.duration = 0
	c.hasMeta = false
	c.paused = true
	c.loadGen++
	c.stopTickerLocked()
	return c.probe
}

func (c *Clock) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadGen
}

func (c *Clock) DeliverMetadata(duration float64) {
	c.deliverMetadataFor(c.generation(), duration)
}

func (c *Clock) deliverMetadataFor(gen uint64, duration float64) {
	c.mu.Lock()
	if c.closed || c.loadGen != gen || c.hasMeta {
		c.mu.Unlock()
		return
	}
	c.hasMeta = true
	if duration > 0 {
		c.duration = duration
	}
	fns := collect(c.metaFns)
	d := c.duration
	c.mu.Unlock()

	for _, fn := range fns {
		fn(d)
	}
}

func (c *Clock) Play() {
	c.mu.Lock()
	if c.closed || !c.paused {
		c.mu.Unlock()
		return
	}
	// playing again after the asset ended restarts from the beginning;
	// resuming at the duration would re-fire ended on the first tick
	if c.duration > 0 && c.current >= c.duration {
		c.current = 0
	}
	c.paused = false
	stop := make(chan struct{})
	c.stopTicker = stop
	tick := c.tick
	c.mu.Unlock()

	go c.run(stop, tick)
}

func (c *Clock) run(stop chan struct{}, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.advance(tick.Seconds()) {
				return
			}
		}
	}
}

// advance moves the playhead and fires listeners; returns true when playback
// reached the end of the asset.
func (c *Clock) advance(step float64) bool {
	c.mu.Lock()
	if c.closed || c.paused {
		c.mu.Unlock()
		return true
	}
	c.current += step
	ended := c.duration > 0 && c.current >= c.duration
	if ended {
		c.current = c.duration
		c.paused = true
		c.stopTicker = nil
	}
	t := c.current
	timeFns := collect(c.timeFns)
	var endFns []func()
	if ended {
		endFns = collectEnd(c.endFns)
	}
	c.mu.Unlock()

	for _, fn := range timeFns {
		fn(t)
	}
	for _, fn := range endFns {
		fn()
	}
	return ended
}

func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	c.stopTickerLocked()
}

func (c *Clock) Seek(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seconds < 0 {
		seconds = 0
	}
	if c.duration > 0 && seconds > c.duration {
		seconds = c.duration
	}
	c.current = seconds
}

func (c *Clock) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

func (c *Clock) CurrentTime() float64 { c.mu.Lock(); defer c.mu.Unlock(); return c.current }
func (c *Clock) Duration() float64    { c.mu.Lock(); defer c.mu.Unlock(); return c.duration }
func (c *Clock) Paused() bool         { c.mu.Lock(); defer c.mu.Unlock(); return c.paused }
func (c *Clock) Muted() bool          { c.mu.Lock(); defer c.mu.Unlock(); return c.muted }
func (c *Clock) Source() string       { c.mu.Lock(); defer c.mu.Unlock(); return c.src }

func (c *Clock) CanPlayNatively(kind models.StreamKind) bool {
	switch kind {
	case models.StreamKindHLS:
		return c.nativeHLS
	case models.StreamKindMP4, models.StreamKindUnknown:
		return true
	}
	return false
}

func (c *Clock) OnMetadataLoaded(fn func(duration float64)) Unsubscribe {
	return c.subscribe(func(id int) { c.metaFns[id] = fn }, func(id int) { delete(c.metaFns, id) })
}

func (c *Clock) OnTimeUpdate(fn func(seconds float64)) Unsubscribe {
	return c.subscribe(func(id int) { c.timeFns[id] = fn }, func(id int) { delete(c.timeFns, id) })
}

func (c *Clock) OnEnded(fn func()) Unsubscribe {
	return c.subscribe(func(id int) { c.endFns[id] = fn }, func(id int) { delete(c.endFns, id) })
}

func (c *Clock) subscribe(add func(id int), remove func(id int)) Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextListener++
	id := c.nextListener
	add(id)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		remove(id)
	}
}

func (c *Clock) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.paused = true
	c.src = ""
	c.stopTickerLocked()
	c.cancel()
	c.metaFns = make(map[int]func(float64))
	c.timeFns = make(map[int]func(float64))
	c.endFns = make(map[int]func())
}

func (c *Clock) stopTickerLocked() {
	if c.stopTicker != nil {
		close(c.stopTicker)
		c.stopTicker = nil
	}
}

func collect(m map[int]func(float64)) []func(float64) {
	out := make([]func(float64), 0, len(m))
	for _, fn := range m {
		out = append(out, fn)
	}
	return out
}

func collectEnd(m map[int]func()) []func() {
	out := make([]func(), 0, len(m))
	for _, fn := range m {
		out = append(out, fn)
	}
	return out
}
