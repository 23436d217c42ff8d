package media

import (
	"context"
	"sync"
	"testing"
	"time"

	"kinocast/models"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newClock(opts ...ClockOption) *Clock {
	base := []ClockOption{
		WithTickInterval(5 * time.Millisecond),
		WithDurationProbe(func(ctx context.Context, src string) (float64, error) {
			return 60, nil
		}),
	}
	return NewClock(append(base, opts...)...)
}

func TestLoadFiresMetadataOnce(t *testing.T) {
	c := newClock()
	defer c.Close()

	var mu sync.Mutex
	var fired []float64
	c.OnMetadataLoaded(func(d float64) {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, d)
	})

	c.Load("http://cdn/a.mp4")
	waitFor(t, func() bool { return c.Duration() == 60 })

	// a second delivery for the same load must be ignored
	c.DeliverMetadata(90)

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 || fired[0] != 60 {
		t.Fatalf("expected exactly one metadata event for 60s, got %v", fired)
	}
	if c.Duration() != 60 {
		t.Fatalf("duration changed after duplicate delivery: %v", c.Duration())
	}
}

func TestAttachWaitsForExternalMetadata(t *testing.T) {
	c := newClock()
	defer c.Close()

	c.Attach("http://cdn/index.m3u8")
	time.Sleep(30 * time.Millisecond)
	if c.Duration() != 0 {
		t.Fatal("attached source must not self-probe")
	}

	c.DeliverMetadata(120)
	if c.Duration() != 120 {
		t.Fatalf("expected delivered duration, got %v", c.Duration())
	}
}

func TestStaleMetadataFromPreviousLoadIgnored(t *testing.T) {
	released := make(chan struct{})
	c := NewClock(
		WithTickInterval(5*time.Millisecond),
		WithDurationProbe(func(ctx context.Context, src string) (float64, error) {
			if src == "slow" {
				<-released
				return 11, nil
			}
			return 22, nil
		}),
	)
	defer c.Close()

	c.Load("slow")
	c.Load("fast")
	close(released)

	waitFor(t, func() bool { return c.Duration() == 22 })
	time.Sleep(30 * time.Millisecond)
	if c.Duration() != 22 {
		t.Fatalf("stale probe overwrote the fresh load: %v", c.Duration())
	}
}

func TestPlaybackAdvancesAndEnds(t *testing.T) {
	c := newClock()
	defer c.Close()

	c.Attach("src")
	c.DeliverMetadata(0.05)

	ended := make(chan struct{})
	c.OnEnded(func() { close(ended) })

	var mu sync.Mutex
	var updates int
	c.OnTimeUpdate(func(float64) {
		mu.Lock()
		defer mu.Unlock()
		updates++
	})

	c.Play()
	select {
	case <-ended:
	case <-time.After(3 * time.Second):
		t.Fatal("playback never ended")
	}

	if !c.Paused() {
		t.Fatal("ended playback must be paused")
	}
	if c.CurrentTime() != 0.05 {
		t.Fatalf("playhead must stop at the duration, got %v", c.CurrentTime())
	}
	mu.Lock()
	defer mu.Unlock()
	if updates == 0 {
		t.Fatal("expected time updates while playing")
	}
}

func TestPlayAfterEndedRestarts(t *testing.T) {
	c := newClock()
	defer c.Close()

	c.Attach("src")
	c.DeliverMetadata(0.05)

	var mu sync.Mutex
	var ends int
	c.OnEnded(func() {
		mu.Lock()
		defer mu.Unlock()
		ends++
	})

	c.Play()
	waitFor(t, func() bool { return c.Paused() && c.CurrentTime() == 0.05 })

	c.Play()
	if c.CurrentTime() >= 0.05 {
		t.Fatalf("replay must restart from the beginning, got %v", c.CurrentTime())
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ends == 2
	})
}

func TestSeekClampsToAsset(t *testing.T) {
	c := newClock()
	defer c.Close()

	c.Attach("src")
	c.DeliverMetadata(100)

	c.Seek(-5)
	if c.CurrentTime() != 0 {
		t.Fatalf("negative seek must clamp to zero, got %v", c.CurrentTime())
	}
	c.Seek(500)
	if c.CurrentTime() != 100 {
		t.Fatalf("seek past the end must clamp to the duration, got %v", c.CurrentTime())
	}
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	c := newClock()
	defer c.Close()

	var mu sync.Mutex
	var fired bool
	unsub := c.OnMetadataLoaded(func(float64) {
		mu.Lock()
		defer mu.Unlock()
		fired = true
	})
	unsub()

	c.Attach("src")
	c.DeliverMetadata(10)

	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Fatal("unsubscribed listener must not fire")
	}
}

func TestCanPlayNatively(t *testing.T) {
	plain := newClock()
	defer plain.Close()
	if plain.CanPlayNatively(models.StreamKindHLS) {
		t.Fatal("hls must need a decoder by default")
	}
	if !plain.CanPlayNatively(models.StreamKindMP4) {
		t.Fatal("mp4 always plays natively")
	}

	native := newClock(WithNativeHLS(true))
	defer native.Close()
	if !native.CanPlayNatively(models.StreamKindHLS) {
		t.Fatal("native hls flag not honored")
	}
}

func TestCloseDropsStateAndListeners(t *testing.T) {
	c := newClock()
	c.Attach("src")
	c.DeliverMetadata(10)
	c.Play()

	c.Close()

	if c.Source() != "" {
		t.Fatal("closed element must clear its source")
	}
	c.DeliverMetadata(50)
	if c.Duration() == 50 {
		t.Fatal("closed element must ignore metadata")
	}
}
