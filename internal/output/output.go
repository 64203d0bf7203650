package output

import (
	"fmt"
	"io"
	"time"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) GrantRequested(token string) {
	fmt.Fprintf(f.w, "🔑 Screen capture requested (token %s)\n", token)
}

func (f *Formatter) GrantState(token, state string) {
	fmt.Fprintf(f.w, "🔑 Grant %s: %s\n", token, state)
}

func (f *Formatter) RecordingStarted(sessionID, outputID string, waiting bool) {
	fmt.Fprintf(f.w, "🔴 Recording started (session %s, output %s)\n", sessionID, outputID)
	if waiting {
		fmt.Fprintf(f.w, "   Press Ctrl+C to stop\n")
	} else {
		fmt.Fprintf(f.w, "   Run 'xrecorder stop' to finish\n")
	}
}

func (f *Formatter) RecordingStopped(duration time.Duration) {
	fmt.Fprintf(f.w, "⏹️  Recording stopped (%s)\n", formatDuration(duration))
}

func (f *Formatter) Status(state, label string, startedAt *time.Time, lastErr string) {
	fmt.Fprintf(f.w, "State: %s\n", state)
	if label != "" {
		fmt.Fprintf(f.w, "Notice: %s\n", label)
	}
	if startedAt != nil && state == "recording" {
		fmt.Fprintf(f.w, "Elapsed: %s\n", formatDuration(time.Since(*startedAt)))
	}
	if lastErr != "" {
		fmt.Fprintf(f.w, "Last error: %s\n", lastErr)
	}
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

func (f *Formatter) RecordingListHeader() {
	fmt.Fprintf(f.w, "📁 Recordings:\n\n")
}

func (f *Formatter) RecordingListItem(name string, size int64, pending bool) {
	status := ""
	if pending {
		status = " ⏳"
	}
	fmt.Fprintf(f.w, "  %s (%s)%s\n", name, formatSize(size), status)
}

func (f *Formatter) SetupCheck(name string, ok bool, detail string) {
	if ok {
		fmt.Fprintf(f.w, "  ✅ %s: %s\n", name, detail)
	} else {
		fmt.Fprintf(f.w, "  ❌ %s: %s\n", name, detail)
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}
