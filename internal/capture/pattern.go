package capture

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/xrecorder/internal/display"
	"github.com/RenatoCabral2022/xrecorder/internal/grant"
)

const (
	patternPeriod = 4.0 // seconds per brightness cycle
	patternBase   = 96
	patternSwing  = 64
)

// PatternFrame fills dst with frame n of a synthetic test pattern: a
// background whose brightness follows a sine wave and a white bar sweeping
// left to right. dst must hold FrameSize(g) bytes.
func PatternFrame(g display.Geometry, frameRate, n int, dst []byte) {
	if frameRate <= 0 {
		frameRate = 30
	}
	t := float64(n) / float64(frameRate)
	level := byte(patternBase + patternSwing*math.Sin(2*math.Pi*t/patternPeriod))

	barWidth := g.Width / 16
	if barWidth == 0 {
		barWidth = 1
	}
	barX := (n * 8) % g.Width

	for y := 0; y < g.Height; y++ {
		row := dst[y*g.Width*BytesPerPixel : (y+1)*g.Width*BytesPerPixel]
		for x := 0; x < g.Width; x++ {
			p := row[x*BytesPerPixel : (x+1)*BytesPerPixel]
			if x >= barX && x < barX+barWidth {
				p[0], p[1], p[2] = 0xFF, 0xFF, 0xFF
			} else {
				p[0], p[1], p[2] = level, level/2, 0x20
			}
			p[3] = 0xFF
		}
	}
}

// PatternProjection renders synthetic frames. It needs no display server and
// is used for headless operation and tests.
type PatternProjection struct {
	frameRate int
	onRevoke  func()
	log       *zap.Logger

	mu       sync.Mutex
	displays map[*patternDisplay]struct{}
}

// PatternFactory returns a grant.ProjectionFactory producing pattern projections.
func PatternFactory(frameRate int, logger *zap.Logger) grant.ProjectionFactory {
	return func(onRevoke func()) (grant.Projection, error) {
		return NewPattern(frameRate, onRevoke, logger), nil
	}
}

// NewPattern creates a pattern projection. onRevoke is called if a sink
// stops accepting frames.
func NewPattern(frameRate int, onRevoke func(), logger *zap.Logger) *PatternProjection {
	if frameRate <= 0 {
		frameRate = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatternProjection{
		frameRate: frameRate,
		onRevoke:  onRevoke,
		log:       logger,
		displays:  make(map[*patternDisplay]struct{}),
	}
}

func (p *PatternProjection) CreateVirtualDisplay(name string, g display.Geometry, sink io.Writer) (grant.VirtualDisplay, error) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &patternDisplay{proj: p, cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	p.displays[d] = struct{}{}
	p.mu.Unlock()

	go d.run(ctx, name, g, sink)
	return d, nil
}

func (p *PatternProjection) Stop() error {
	p.mu.Lock()
	displays := make([]*patternDisplay, 0, len(p.displays))
	for d := range p.displays {
		displays = append(displays, d)
	}
	p.mu.Unlock()

	for _, d := range displays {
		_ = d.Release()
	}
	return nil
}

type patternDisplay struct {
	proj   *PatternProjection
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (d *patternDisplay) run(ctx context.Context, name string, g display.Geometry, sink io.Writer) {
	defer close(d.done)
	log := d.proj.log.With(zap.String("display", name), zap.Stringer("geometry", g))

	buf := make([]byte, FrameSize(g))
	ticker := time.NewTicker(time.Second / time.Duration(d.proj.frameRate))
	defer ticker.Stop()

	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		PatternFrame(g, d.proj.frameRate, n, buf)
		if _, err := sink.Write(buf); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("pattern sink rejected frame", zap.Error(err), zap.Int("frame", n))
			if d.proj.onRevoke != nil {
				d.proj.onRevoke()
			}
			return
		}
	}
}

// Release stops rendering without waiting for an in-flight write to return.
func (d *patternDisplay) Release() error {
	d.once.Do(func() {
		d.cancel()
		d.proj.mu.Lock()
		delete(d.proj.displays, d)
		d.proj.mu.Unlock()
	})
	return nil
}
