package playback

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Player is the widget that actually renders the video.
type Player interface {
	Load(url string)
	CurrentTime() float64
	SeekTo(seconds float64)
	SetPlaying(playing bool)
}

// VirtualPlayer is a headless Player whose position advances with its clock
// while playing.
type VirtualPlayer struct {
	mu      sync.Mutex
	clock   clock.Clock
	url     string
	playing bool
	offset  float64
	since   time.Time
	seeks   int
}

func NewVirtualPlayer(clk clock.Clock) *VirtualPlayer {
	if clk == nil {
		clk = clock.New()
	}

	return &VirtualPlayer{clock: clk, since: clk.Now()}
}

func (p *VirtualPlayer) Load(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.url = url
	p.playing = false
	p.offset = 0
	p.since = p.clock.Now()
}

func (p *VirtualPlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.positionLocked()
}

func (p *VirtualPlayer) positionLocked() float64 {
	if !p.playing {
		return p.offset
	}

	return p.offset + p.clock.Since(p.since).Seconds()
}

func (p *VirtualPlayer) SeekTo(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.offset = max(seconds, 0)
	p.since = p.clock.Now()
	p.seeks++
}

func (p *VirtualPlayer) SetPlaying(playing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.playing == playing {
		return
	}

	p.offset = p.positionLocked()
	p.since = p.clock.Now()
	p.playing = playing
}

func (p *VirtualPlayer) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.url
}

func (p *VirtualPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.playing
}

// Seeks counts SeekTo calls since creation.
func (p *VirtualPlayer) Seeks() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.seeks
}
