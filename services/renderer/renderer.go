package renderer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"kinocast/internal/media"
	"kinocast/internal/media/hls"
	"kinocast/models"
)

var (
	ErrNoDescriptor   = errors.New("no descriptor rendered")
	ErrUnknownQuality = errors.New("descriptor declares no such quality")
	ErrNoActiveSkip   = errors.New("no skippable segment is active")
)

// just past the segment end, so a time update landing exactly on the
// boundary does not re-enter the interval
const skipEpsilon = 0.01

const (
	sniffTimeout       = 10 * time.Second
	variantProbeWindow = 15 * time.Second
)

// ElementFactory builds a fresh playback surface for each attach.
type ElementFactory func() media.Element

// KindSniffer classifies a source by content when URL-based detection
// reports unknown.
type KindSniffer func(ctx context.Context, src string) (models.StreamKind, error)

// VariantChecker probes the availability of a descriptor's quality ladder.
type VariantChecker func(ctx context.Context, variants []models.QualityVariant) []media.VariantHealth

// Status is a read-only snapshot of the rendered pipeline.
type Status struct {
	Source       string             `json:"source"`
	Kind         models.StreamKind  `json:"kind"`
	Quality      int                `json:"quality,omitempty"`
	CurrentTime  float64            `json:"currentTime"`
	Duration     float64            `json:"duration"`
	Paused       bool               `json:"paused"`
	Muted        bool               `json:"muted"`
	ActiveSkip   *models.Segment    `json:"activeSkip,omitempty"`
	SegmentMap   *models.SegmentMap `json:"segmentMap,omitempty"`
	DecoderInUse bool               `json:"decoderInUse"`
}

// playbackSnapshot captures what survives a pipeline swap.
type playbackSnapshot struct {
	currentTime float64
	paused      bool
	muted       bool
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithElementFactory overrides how playback surfaces are constructed.
func WithElementFactory(factory ElementFactory) Option {
	return func(r *Renderer) { r.factory = factory }
}

// WithHTTPClient sets the client used by the streaming decoder.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Renderer) { r.client = client }
}

// WithKindSniffer enables content-based kind detection for sources the URL
// classifier could not place.
func WithKindSniffer(sniff KindSniffer) Option {
	return func(r *Renderer) { r.sniff = sniff }
}

// WithVariantChecker enables availability probing of the quality ladder when
// a descriptor is applied.
func WithVariantChecker(check VariantChecker) Option {
	return func(r *Renderer) { r.checkVariants = check }
}

// Renderer owns the playback pipeline for one player instance. A rendered
// descriptor is applied atomically: source, kind, quality ladder and segment
// set always swap together. Quality switches rebuild the pipeline but carry
// position, pause state and mute state across the rebuild.
type Renderer struct {
	mu            sync.Mutex
	client        *http.Client
	factory       ElementFactory
	sniff         KindSniffer
	checkVariants VariantChecker

	desc        *models.PlaybackDescriptor
	kind        models.StreamKind
	quality     int
	pipelineGen uint64
	elem       media.Element
	decoder    *hls.Decoder
	unsubs     []media.Unsubscribe
	cancel     context.CancelFunc
	segmentMap *models.SegmentMap
	activeSkip *models.Segment

	onSkipAvailable func(seg models.Segment)
	onSkipCleared   func()
	onSegmentMap    func(m models.SegmentMap)
	onEnded         func()
	onProgress      func(position, duration float64)
}

// NewRenderer builds a renderer with an empty pipeline.
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{
		client:  &http.Client{Timeout: 30 * time.Second},
		factory: func() media.Element { return media.NewClock() },
		kind:    models.StreamKindUnknown,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnSkipAvailable registers the sink invoked when the playhead enters a
// skippable segment.
func (r *Renderer) OnSkipAvailable(fn func(seg models.Segment)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSkipAvailable = fn
}

// OnSkipCleared registers the sink invoked when the playhead leaves the
// active segment without skipping.
func (r *Renderer) OnSkipCleared(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSkipCleared = fn
}

// OnSegmentMap registers the sink for the scrubber overlay, recomputed once
// per metadata load.
func (r *Renderer) OnSegmentMap(fn func(m models.SegmentMap)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSegmentMap = fn
}

// OnEnded registers the sink invoked when playback reaches the duration.
func (r *Renderer) OnEnded(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEnded = fn
}

// OnProgress registers the sink invoked on every time update with the
// playhead position and asset duration.
func (r *Renderer) OnProgress(fn func(position, duration float64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onProgress = fn
}

// Render tears down the current pipeline and applies a fresh descriptor from
// its default stream. Playback starts from zero and paused.
func (r *Renderer) Render(desc *models.PlaybackDescriptor) error {
	if !desc.HasStream() {
		return ErrNoDescriptor
	}

	kind := desc.Kind
	if kind == models.StreamKindUnknown && r.sniff != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sniffTimeout)
		sniffed, err := r.sniff(ctx, desc.DirectURL)
		cancel()
		if err != nil {
			log.Printf("[renderer] kind sniff failed src=%q: %v", desc.DirectURL, err)
		} else if sniffed != models.StreamKindUnknown {
			kind = sniffed
		}
	}

	r.mu.Lock()
	r.teardownLocked()
	r.desc = desc
	r.kind = kind
	r.quality = 0
	if len(desc.Qualities) > 0 {
		r.quality = desc.Qualities[0].Label
	}
	gen := r.pipelineGen
	r.mu.Unlock()

	if err := r.attach(desc.DirectURL, kind, playbackSnapshot{paused: true}, gen); err != nil {
		return err
	}

	if r.checkVariants != nil && len(desc.Qualities) > 1 {
		go r.reportVariantHealth(desc.Qualities)
	}
	return nil
}

// reportVariantHealth probes the quality ladder in the background and logs
// unreachable variants. Informational only, playback is never blocked on it.
func (r *Renderer) reportVariantHealth(variants []models.QualityVariant) {
	ctx, cancel := context.WithTimeout(context.Background(), variantProbeWindow)
	defer cancel()
	for _, h := range r.checkVariants(ctx, variants) {
		if !h.Available {
			log.Printf("[renderer] quality variant %dp unreachable", h.Label)
		}
	}
}

// SwitchQuality rebuilds the pipeline on the URL declared for the label and
// restores position, pause state and mute state once metadata settles.
func (r *Renderer) SwitchQuality(label int) error {
	r.mu.Lock()
	desc := r.desc
	if desc == nil {
		r.mu.Unlock()
		return ErrNoDescriptor
	}
	target := desc.QualityURL(label)
	if target == "" {
		r.mu.Unlock()
		return fmt.Errorf("%w: %dp", ErrUnknownQuality, label)
	}
	if label == r.quality {
		r.mu.Unlock()
		return nil
	}

	snapshot := playbackSnapshot{paused: true}
	if r.elem != nil {
		snapshot = playbackSnapshot{
			currentTime: r.elem.CurrentTime(),
			paused:      r.elem.Paused(),
			muted:       r.elem.Muted(),
		}
	}
	kind := r.kind
	r.teardownLocked()
	r.quality = label
	gen := r.pipelineGen
	r.mu.Unlock()

	log.Printf("[renderer] quality switch to %dp at %.1fs", label, snapshot.currentTime)
	return r.attach(target, kind, snapshot, gen)
}

// Skip jumps the playhead just past the active segment and clears it.
func (r *Renderer) Skip() error {
	r.mu.Lock()
	seg := r.activeSkip
	elem := r.elem
	r.mu.Unlock()

	if seg == nil || elem == nil {
		return ErrNoActiveSkip
	}

	elem.Seek(seg.End + skipEpsilon)
	r.mu.Lock()
	r.activeSkip = nil
	cleared := r.onSkipCleared
	r.mu.Unlock()

	if cleared != nil {
		cleared()
	}
	return nil
}

// Play starts or resumes playback.
func (r *Renderer) Play() {
	if elem := r.element(); elem != nil {
		elem.Play()
	}
}

// Pause halts playback without touching the pipeline.
func (r *Renderer) Pause() {
	if elem := r.element(); elem != nil {
		elem.Pause()
	}
}

// Seek moves the playhead.
func (r *Renderer) Seek(seconds float64) {
	if elem := r.element(); elem != nil {
		elem.Seek(seconds)
	}
}

// SetMuted toggles audio on the playback surface.
func (r *Renderer) SetMuted(muted bool) {
	if elem := r.element(); elem != nil {
		elem.SetMuted(muted)
	}
}

// Snapshot reports the pipeline state.
func (r *Renderer) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		Kind:         r.kind,
		Quality:      r.quality,
		ActiveSkip:   r.activeSkip,
		SegmentMap:   r.segmentMap,
		DecoderInUse: r.decoder != nil,
	}
	if r.elem != nil {
		st.Source = r.elem.Source()
		st.CurrentTime = r.elem.CurrentTime()
		st.Duration = r.elem.Duration()
		st.Paused = r.elem.Paused()
		st.Muted = r.elem.Muted()
	} else {
		st.Paused = true
	}
	return st
}

// Teardown dismantles the pipeline completely: the decoder detaches, every
// listener unsubscribes and the element is closed. Idempotent.
func (r *Renderer) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownLocked()
	r.desc = nil
	r.kind = models.StreamKindUnknown
	r.quality = 0
}

// attach builds a new pipeline for the source and wires the event listeners.
// HLS sources the element cannot play natively go through the streaming
// decoder; attachment completes before the manifest is requested. The gen
// token pins the pipeline slot: when a newer render or teardown won while
// this one was being built, the fresh element is closed instead of
// displacing the winner.
func (r *Renderer) attach(src string, kind models.StreamKind, restore playbackSnapshot, gen uint64) error {
	elem := r.factory()

	// listeners go on before the element is published anywhere
	unsubMeta := elem.OnMetadataLoaded(func(duration float64) {
		r.handleMetadata(elem, duration, restore)
	})
	unsubTime := elem.OnTimeUpdate(r.handleTimeUpdate)
	unsubEnded := elem.OnEnded(func() {
		r.mu.Lock()
		fn := r.onEnded
		r.mu.Unlock()
		if fn != nil {
			fn()
		}
	})

	r.mu.Lock()
	if r.pipelineGen != gen {
		r.mu.Unlock()
		elem.Close()
		return nil
	}
	r.elem = elem
	r.activeSkip = nil
	r.segmentMap = nil
	r.unsubs = append(r.unsubs, unsubMeta, unsubTime, unsubEnded)
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	if kind == models.StreamKindHLS && !elem.CanPlayNatively(models.StreamKindHLS) {
		decoder := hls.NewDecoder(r.client)
		if err := decoder.Attach(elem, src); err != nil {
			return err
		}
		r.mu.Lock()
		if r.pipelineGen != gen {
			// torn down between element install and decoder install; the
			// element is already closed
			r.mu.Unlock()
			decoder.Detach()
			return nil
		}
		r.decoder = decoder
		r.mu.Unlock()

		go func() {
			if err := decoder.LoadManifest(ctx, src); err != nil && ctx.Err() == nil {
				log.Printf("[renderer] manifest load failed src=%q: %v", src, err)
			}
		}()
		return nil
	}

	elem.Load(src)
	return nil
}

func (r *Renderer) handleMetadata(elem media.Element, duration float64, restore playbackSnapshot) {
	r.mu.Lock()
	if r.elem != elem {
		r.mu.Unlock()
		return
	}
	var segments []models.Segment
	if r.desc != nil {
		segments = r.desc.Segments
	}
	m := BuildSegmentMap(duration, segments)
	r.segmentMap = &m
	mapSink := r.onSegmentMap
	r.mu.Unlock()

	elem.SetMuted(restore.muted)
	if restore.currentTime > 0 {
		elem.Seek(restore.currentTime)
	}
	if !restore.paused {
		elem.Play()
	}

	if mapSink != nil {
		mapSink(m)
	}
}

func (r *Renderer) handleTimeUpdate(seconds float64) {
	r.mu.Lock()
	if r.desc == nil {
		r.mu.Unlock()
		return
	}

	// only skip segments are actionable; ads stay informational. The first
	// declared segment containing the playhead wins.
	var match *models.Segment
	for i := range r.desc.Segments {
		if r.desc.Segments[i].Type == models.SegmentTypeSkip && r.desc.Segments[i].Contains(seconds) {
			match = &r.desc.Segments[i]
			break
		}
	}

	prev := r.activeSkip
	r.activeSkip = match
	available := r.onSkipAvailable
	cleared := r.onSkipCleared
	progress := r.onProgress
	var duration float64
	if r.elem != nil {
		duration = r.elem.Duration()
	}
	r.mu.Unlock()

	if progress != nil {
		progress(seconds, duration)
	}

	switch {
	case match != nil && (prev == nil || *prev != *match):
		if available != nil {
			available(*match)
		}
	case match == nil && prev != nil:
		if cleared != nil {
			cleared()
		}
	}
}

func (r *Renderer) element() media.Element {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elem
}

func (r *Renderer) teardownLocked() {
	r.pipelineGen++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.decoder != nil {
		r.decoder.Detach()
		r.decoder = nil
	}
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
	if r.elem != nil {
		r.elem.Close()
		r.elem = nil
	}
	r.activeSkip = nil
	r.segmentMap = nil
}
