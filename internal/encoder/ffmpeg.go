package encoder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/xrecorder/internal/capture"
	"github.com/RenatoCabral2022/xrecorder/internal/ringbuffer"
)

const (
	stderrTailBytes  = 8192
	defaultStopGrace = 10 * time.Second
)

var (
	// ErrSurfaceUnavailable is returned when the surface is requested more
	// than once or outside the Prepared state.
	ErrSurfaceUnavailable = errors.New("encoder surface unavailable")
	// ErrInvalidState is returned for lifecycle calls made out of order.
	ErrInvalidState = errors.New("invalid encoder state")
)

// State is the lifecycle position of a pipeline.
type State int

const (
	Unconfigured State = iota
	Prepared
	Writing
	Stopped
	Released
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Prepared:
		return "prepared"
	case Writing:
		return "writing"
	case Stopped:
		return "stopped"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options selects the ffmpeg binary, codecs and microphone input.
type Options struct {
	FFmpegPath  string        // defaults to "ffmpeg"
	VideoCodec  string        // defaults to "libx264"
	Preset      string        // x264 preset, defaults to "veryfast"
	AudioCodec  string        // defaults to "aac"
	AudioFormat string        // ffmpeg input format for the microphone, e.g. "pulse"; empty records no audio
	AudioInput  string        // microphone device, defaults to "default"
	StopGrace   time.Duration // how long Stop waits before interrupting ffmpeg
}

func (o Options) withDefaults() Options {
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.VideoCodec == "" {
		o.VideoCodec = "libx264"
	}
	if o.Preset == "" {
		o.Preset = "veryfast"
	}
	if o.AudioCodec == "" {
		o.AudioCodec = "aac"
	}
	if o.AudioInput == "" {
		o.AudioInput = "default"
	}
	if o.StopGrace <= 0 {
		o.StopGrace = defaultStopGrace
	}
	return o
}

// FFmpeg is an encoder pipeline backed by an ffmpeg subprocess. Raw BGRA
// frames written to its surface are encoded as H.264, the microphone as AAC,
// and the result is muxed as fragmented MPEG-4 into the output descriptor,
// which keeps the file playable even if the process dies mid-session.
type FFmpeg struct {
	opts Options
	log  *zap.Logger

	mu           sync.Mutex
	state        State
	cfg          Config
	cmd          *exec.Cmd
	videoIn      *os.File // read end handed to ffmpeg as stdin
	surface      *surface
	surfaceTaken bool
	stderr       *ringbuffer.RingBuffer
	exited       chan struct{}
	exitErr      error
}

// NewFFmpeg creates an unconfigured pipeline.
func NewFFmpeg(opts Options, logger *zap.Logger) *FFmpeg {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpeg{
		opts:   opts.withDefaults(),
		log:    logger,
		stderr: ringbuffer.New(stderrTailBytes),
	}
}

// State returns the current lifecycle state.
func (f *FFmpeg) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Args returns the ffmpeg command line for cfg.
func (f *FFmpeg) Args(cfg Config) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-thread_queue_size", "512",
		"-f", "rawvideo",
		"-pix_fmt", capture.PixelFormat,
		"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-framerate", strconv.Itoa(cfg.FrameRate),
		"-i", "pipe:0",
	}
	withAudio := f.opts.AudioFormat != ""
	if withAudio {
		args = append(args,
			"-thread_queue_size", "512",
			"-f", f.opts.AudioFormat,
			"-i", f.opts.AudioInput,
		)
	}
	args = append(args,
		"-map", "0:v",
		"-c:v", f.opts.VideoCodec,
		"-preset", f.opts.Preset,
		"-pix_fmt", "yuv420p",
		"-b:v", strconv.Itoa(cfg.VideoBitrate),
		"-r", strconv.Itoa(cfg.FrameRate),
	)
	if withAudio {
		args = append(args,
			"-map", "1:a",
			"-c:a", f.opts.AudioCodec,
			"-b:a", strconv.Itoa(cfg.AudioBitrate),
			"-ar", strconv.Itoa(cfg.AudioSampleRate),
			"-shortest",
		)
	} else {
		args = append(args, "-an")
	}
	return append(args,
		"-movflags", "+frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
		"pipe:3",
	)
}

// Prepare configures the pipeline to write into out. The process is not
// started until Start; frames written to the surface before then are
// buffered by the pipe.
func (f *FFmpeg) Prepare(cfg Config, out *os.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != Unconfigured {
		return fmt.Errorf("%w: prepare in %s", ErrInvalidState, f.state)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if out == nil {
		return fmt.Errorf("no output descriptor")
	}
	bin, err := exec.LookPath(f.opts.FFmpegPath)
	if err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("surface pipe: %w", err)
	}

	cmd := exec.Command(bin, f.Args(cfg)...)
	cmd.Stdin = pr
	cmd.Stderr = f.stderr
	cmd.ExtraFiles = []*os.File{out}

	f.cfg = cfg
	f.cmd = cmd
	f.videoIn = pr
	f.surface = &surface{w: pw}
	f.state = Prepared
	return nil
}

// Surface returns the writable frame sink. It succeeds exactly once, right
// after Prepare.
func (f *FFmpeg) Surface() (io.WriteCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != Prepared || f.surfaceTaken {
		return nil, ErrSurfaceUnavailable
	}
	f.surfaceTaken = true
	return f.surface, nil
}

// Start launches the encoder.
func (f *FFmpeg) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != Prepared {
		return fmt.Errorf("%w: start in %s", ErrInvalidState, f.state)
	}
	if err := f.cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w: %s", err, f.stderr.String())
	}
	// The child holds its own copy of the read end.
	_ = f.videoIn.Close()
	f.videoIn = nil

	exited := make(chan struct{})
	f.exited = exited
	cmd := f.cmd
	go func() {
		err := cmd.Wait()
		f.mu.Lock()
		f.exitErr = err
		f.mu.Unlock()
		close(exited)
	}()

	f.state = Writing
	f.log.Info("encoder started",
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("width", f.cfg.Width),
		zap.Int("height", f.cfg.Height))
	return nil
}

// Stop ends the input stream and waits for ffmpeg to finalize the file.
// If ffmpeg does not exit within the grace period it is interrupted, then killed.
func (f *FFmpeg) Stop() error {
	f.mu.Lock()
	switch f.state {
	case Prepared:
		f.state = Stopped
		f.mu.Unlock()
		return nil
	case Writing:
	default:
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("%w: stop in %s", ErrInvalidState, state)
	}
	f.state = Stopped
	cmd, exited, surf := f.cmd, f.exited, f.surface
	f.mu.Unlock()

	_ = surf.Close()

	select {
	case <-exited:
	case <-time.After(f.opts.StopGrace):
		f.log.Warn("encoder did not exit after end of input; interrupting")
		_ = cmd.Process.Signal(os.Interrupt)
		select {
		case <-exited:
		case <-time.After(f.opts.StopGrace):
			f.log.Warn("encoder ignored interrupt; killing")
			_ = cmd.Process.Kill()
			<-exited
		}
	}

	f.mu.Lock()
	err := f.exitErr
	f.mu.Unlock()
	if err != nil {
		return fmt.Errorf("ffmpeg exited: %w: %s", err, f.stderr.String())
	}
	f.log.Info("encoder stopped")
	return nil
}

// Release frees every resource the pipeline still holds. It kills a
// process that was never stopped. Releasing twice is a no-op.
func (f *FFmpeg) Release() error {
	f.mu.Lock()
	if f.state == Released {
		f.mu.Unlock()
		return nil
	}
	prev := f.state
	f.state = Released
	cmd, exited, surf, videoIn := f.cmd, f.exited, f.surface, f.videoIn
	f.videoIn = nil
	f.mu.Unlock()

	if surf != nil {
		_ = surf.Close()
	}
	if videoIn != nil {
		_ = videoIn.Close()
	}
	if prev == Writing && exited != nil {
		select {
		case <-exited:
		default:
			_ = cmd.Process.Kill()
			<-exited
		}
	}
	return nil
}

// surface is the write end of the encoder's video input. Close is idempotent.
type surface struct {
	w    *os.File
	once sync.Once
	err  error
}

func (s *surface) Write(p []byte) (int, error) { return s.w.Write(p) }

func (s *surface) Close() error {
	s.once.Do(func() { s.err = s.w.Close() })
	return s.err
}
