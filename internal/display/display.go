package display

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Geometry describes the size and density of the captured screen.
type Geometry struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	DPI    int `json:"dpi"`
}

// Valid reports whether every dimension is positive.
func (g Geometry) Valid() bool {
	return g.Width > 0 && g.Height > 0 && g.DPI > 0
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d@%ddpi", g.Width, g.Height, g.DPI)
}

// Prober queries the current display metrics.
type Prober interface {
	Probe(ctx context.Context) (Geometry, error)
}

// Resolve asks p for the real screen size and falls back to the configured
// geometry for any dimension the probe could not determine.
func Resolve(ctx context.Context, p Prober, fallback Geometry) Geometry {
	if p == nil {
		return fallback
	}
	g, err := p.Probe(ctx)
	if err != nil {
		return fallback
	}
	if g.Width <= 0 || g.Height <= 0 {
		g.Width, g.Height = fallback.Width, fallback.Height
	}
	if g.DPI <= 0 {
		g.DPI = fallback.DPI
	}
	return g
}

// XDisplayInfo probes an X11 display using xdpyinfo.
type XDisplayInfo struct {
	Display string // e.g. ":0"; empty uses $DISPLAY
	Binary  string // defaults to "xdpyinfo"
}

func (x XDisplayInfo) Probe(ctx context.Context) (Geometry, error) {
	bin := x.Binary
	if bin == "" {
		bin = "xdpyinfo"
	}
	var args []string
	if x.Display != "" {
		args = append(args, "-display", x.Display)
	}
	out, err := exec.CommandContext(ctx, bin, args...).Output()
	if err != nil {
		return Geometry{}, fmt.Errorf("xdpyinfo: %w", err)
	}
	return ParseXDisplayInfo(out)
}

// ParseXDisplayInfo extracts the first screen's dimensions and resolution
// from xdpyinfo output.
func ParseXDisplayInfo(out []byte) (Geometry, error) {
	var g Geometry
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case g.Width == 0 && strings.HasPrefix(line, "dimensions:"):
			fields := strings.Fields(strings.TrimPrefix(line, "dimensions:"))
			if len(fields) == 0 {
				continue
			}
			w, h, ok := splitPair(fields[0])
			if ok {
				g.Width, g.Height = w, h
			}
		case g.DPI == 0 && strings.HasPrefix(line, "resolution:"):
			fields := strings.Fields(strings.TrimPrefix(line, "resolution:"))
			if len(fields) == 0 {
				continue
			}
			x, _, ok := splitPair(fields[0])
			if ok {
				g.DPI = x
			}
		}
	}
	if err := sc.Err(); err != nil {
		return Geometry{}, err
	}
	if g.Width == 0 || g.Height == 0 {
		return g, fmt.Errorf("xdpyinfo: no screen dimensions found")
	}
	return g, nil
}

func splitPair(s string) (int, int, bool) {
	a, b, found := strings.Cut(s, "x")
	if !found {
		return 0, 0, false
	}
	x, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, false
	}
	y, err := strconv.Atoi(b)
	if err != nil {
		return 0, 0, false
	}
	return x, y, true
}
