package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/xrecorder/internal/display"
	"github.com/RenatoCabral2022/xrecorder/internal/grant"
	"github.com/RenatoCabral2022/xrecorder/internal/ringbuffer"
)

const stderrTailBytes = 4096

// X11Options configures the ffmpeg x11grab projection.
type X11Options struct {
	FFmpegPath string // defaults to "ffmpeg"
	Display    string // X display, e.g. ":0.0"
	FrameRate  int
	DrawMouse  bool
}

// X11Projection grabs an X11 screen with ffmpeg and streams raw BGRA frames
// into each virtual display's sink. If a grab ends without being released,
// the projection reports it as a revocation.
type X11Projection struct {
	opts     X11Options
	onRevoke func()
	log      *zap.Logger

	mu       sync.Mutex
	displays map[*x11Display]struct{}
}

// X11Factory returns a grant.ProjectionFactory producing X11 projections.
func X11Factory(opts X11Options, logger *zap.Logger) grant.ProjectionFactory {
	return func(onRevoke func()) (grant.Projection, error) {
		bin := opts.FFmpegPath
		if bin == "" {
			bin = "ffmpeg"
		}
		if _, err := exec.LookPath(bin); err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
		return NewX11(opts, onRevoke, logger), nil
	}
}

// NewX11 creates an X11 projection.
func NewX11(opts X11Options, onRevoke func(), logger *zap.Logger) *X11Projection {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.Display == "" {
		opts.Display = ":0.0"
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &X11Projection{
		opts:     opts,
		onRevoke: onRevoke,
		log:      logger,
		displays: make(map[*x11Display]struct{}),
	}
}

// grabArgs builds the ffmpeg arguments for grabbing geometry g.
func (p *X11Projection) grabArgs(g display.Geometry) []string {
	drawMouse := "0"
	if p.opts.DrawMouse {
		drawMouse = "1"
	}
	return []string{
		"-nostdin",
		"-hide_banner", "-loglevel", "error",
		"-f", "x11grab",
		"-draw_mouse", drawMouse,
		"-framerate", strconv.Itoa(p.opts.FrameRate),
		"-video_size", fmt.Sprintf("%dx%d", g.Width, g.Height),
		"-i", p.opts.Display,
		"-f", "rawvideo",
		"-pix_fmt", PixelFormat,
		"pipe:1",
	}
}

func (p *X11Projection) CreateVirtualDisplay(name string, g display.Geometry, sink io.Writer) (grant.VirtualDisplay, error) {
	ctx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(ctx, p.opts.FFmpegPath, p.grabArgs(g)...)
	stderr := ringbuffer.New(stderrTailBytes)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	d := &x11Display{
		proj:   p,
		cancel: cancel,
		done:   make(chan struct{}),
		log: p.log.With(
			zap.String("display", name),
			zap.Stringer("geometry", g),
			zap.Int("pid", cmd.Process.Pid),
		),
	}
	p.mu.Lock()
	p.displays[d] = struct{}{}
	p.mu.Unlock()

	d.log.Info("screen grab started")
	go d.run(ctx, cmd, stdout, sink, FrameSize(g), stderr)
	return d, nil
}

// Stop releases every display still bound to the projection.
func (p *X11Projection) Stop() error {
	p.mu.Lock()
	displays := make([]*x11Display, 0, len(p.displays))
	for d := range p.displays {
		displays = append(displays, d)
	}
	p.mu.Unlock()

	for _, d := range displays {
		_ = d.Release()
	}
	return nil
}

type x11Display struct {
	proj   *X11Projection
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	log    *zap.Logger
}

func (d *x11Display) run(ctx context.Context, cmd *exec.Cmd, r io.Reader, sink io.Writer, frameSize int, stderr *ringbuffer.RingBuffer) {
	defer close(d.done)
	start := time.Now()

	frames, pumpErr := pumpFrames(ctx, r, sink, frameSize)
	if pumpErr != nil {
		// Unblock ffmpeg if we stopped reading before it stopped writing.
		d.cancel()
	}
	waitErr := cmd.Wait()

	d.proj.mu.Lock()
	_, live := d.proj.displays[d]
	d.proj.mu.Unlock()

	if !live {
		d.log.Info("screen grab stopped",
			zap.Int64("frames", frames),
			zap.Duration("elapsed", time.Since(start)))
		return
	}

	fields := []zap.Field{zap.Int64("frames", frames), zap.String("stderr", stderr.String())}
	if pumpErr != nil && !errors.Is(pumpErr, io.EOF) {
		fields = append(fields, zap.Error(pumpErr))
	}
	if waitErr != nil {
		fields = append(fields, zap.NamedError("exit", waitErr))
	}
	d.log.Warn("screen grab ended unexpectedly", fields...)

	d.proj.mu.Lock()
	delete(d.proj.displays, d)
	d.proj.mu.Unlock()
	if d.proj.onRevoke != nil {
		d.proj.onRevoke()
	}
}

// Release terminates the grab. It does not wait for the ffmpeg process to
// exit so a stalled sink cannot block the caller.
func (d *x11Display) Release() error {
	d.once.Do(func() {
		d.proj.mu.Lock()
		delete(d.proj.displays, d)
		d.proj.mu.Unlock()
		d.cancel()
	})
	return nil
}
