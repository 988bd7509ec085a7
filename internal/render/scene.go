// Package render draws the 3D person scatter into PNG frames. It projects
// points through an orbit camera, draws cluster-colored connector segments
// from the origin, and paints points back-to-front with the selected person
// highlighted on top.
package render

import (
	"bytes"
	"image/color"
	"image/png"
	"math"
	"sort"
	"sync"

	"github.com/fogleman/gg"

	"github.com/junayed-hasan/life-trajectory-embeddings/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	Width           int
	Height          int
	PointRadius     float64
	Background      string
	DefaultColormap string
}

// Point is one renderable dataset point in world space. Intensity is only
// consulted by the intensity render mode and is expected in [0, 1].
type Point struct {
	ID        string
	Label     string
	X, Y, Z   float64
	ClusterID *int
	Intensity float64
	Selected  bool
}

const (
	connectorAlpha = 90
	outlineWidth   = 1.5
	pickPadding    = 4.0
)

// SceneRenderer renders frames from projected point data.
type SceneRenderer struct {
	config      Config
	background  color.RGBA
	contextPool sync.Pool
	bufferPool  sync.Pool
	colormaps   map[string]colormap.Colormap
	palette     colormap.ClusterPalette
}

// NewSceneRenderer creates a new scene renderer.
func NewSceneRenderer(cfg Config) *SceneRenderer {
	if cfg.Width <= 0 {
		cfg.Width = 800
	}
	if cfg.Height <= 0 {
		cfg.Height = 600
	}
	if cfg.PointRadius <= 0 {
		cfg.PointRadius = 4
	}
	bg, ok := parseHexColor(cfg.Background)
	if !ok {
		bg = color.RGBA{16, 20, 24, 255}
	}
	r := &SceneRenderer{
		config:     cfg,
		background: bg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.Width, cfg.Height)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
		colormaps: make(map[string]colormap.Colormap),
		palette:   colormap.Clusters,
	}

	// Register intensity colormaps
	r.colormaps["viridis"] = colormap.Viridis
	r.colormaps["plasma"] = colormap.Plasma
	r.colormaps["inferno"] = colormap.Inferno
	r.colormaps["magma"] = colormap.Magma
	r.colormaps["grayred"] = colormap.GrayRed

	return r
}

// DefaultSize returns the configured frame dimensions.
func (r *SceneRenderer) DefaultSize() (int, int) {
	return r.config.Width, r.config.Height
}

// PickRadius is the screen-space distance within which a cursor position
// counts as hitting a point.
func (r *SceneRenderer) PickRadius() float64 {
	return r.config.PointRadius + pickPadding
}

// RenderScene renders a PNG frame with points colored by cluster membership.
func (r *SceneRenderer) RenderScene(points []Point, cam Camera, width, height int) ([]byte, error) {
	return r.render(points, cam, width, height, func(p Point) color.Color {
		return r.palette.ColorFor(p.ClusterID)
	})
}

// RenderIntensityScene renders a PNG frame with point fill taken from the
// named colormap at each point's intensity. Connectors keep cluster colors.
func (r *SceneRenderer) RenderIntensityScene(points []Point, cam Camera, width, height int, colormapName string) ([]byte, error) {
	cmap, ok := r.colormaps[colormapName]
	if !ok {
		cmap = r.colormaps[r.config.DefaultColormap]
	}
	if cmap == nil {
		cmap = colormap.Viridis
	}
	return r.render(points, cam, width, height, func(p Point) color.Color {
		t := p.Intensity
		if t < 0 {
			t = 0
		}
		if t > 1 {
			t = 1
		}
		return cmap.At(t)
	})
}

func (r *SceneRenderer) render(points []Point, cam Camera, width, height int, fill func(Point) color.Color) ([]byte, error) {
	dc, pooled := r.acquireContext(width, height)
	if pooled {
		defer r.contextPool.Put(dc)
	}

	dc.SetColor(r.background)
	dc.Clear()

	if len(points) == 0 {
		return r.encodeContext(dc)
	}

	screen := Project(points, cam, dc.Width(), dc.Height())

	// Connector segments from the shared origin to every visible point,
	// cluster-colored with transparency. Drawn first so points cover them.
	origin := ProjectWorld(0, 0, 0, cam, dc.Width(), dc.Height())
	if origin.Visible {
		dc.SetLineWidth(1)
		for i, sp := range screen {
			if !sp.Visible {
				continue
			}
			c := r.palette.ColorFor(points[i].ClusterID)
			dc.SetColor(color.NRGBA{R: c.R, G: c.G, B: c.B, A: connectorAlpha})
			dc.DrawLine(origin.X, origin.Y, sp.X, sp.Y)
			dc.Stroke()
		}
	}

	// Painter's order: far points first so near points overdraw them.
	order := make([]int, 0, len(screen))
	for i, sp := range screen {
		if sp.Visible {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(a, b int) bool {
		return screen[order[a]].Depth > screen[order[b]].Depth
	})

	var selected []int
	for _, i := range order {
		if points[i].Selected {
			selected = append(selected, i)
			continue
		}
		radius := r.config.PointRadius * depthScale(cam.Distance, screen[i].Depth)
		r.drawPoint(dc, screen[i], fill(points[i]), colormap.DefaultOutline, radius)
	}

	// Selected person on top with highlight fill, enlarged radius and a
	// distinct outline.
	for _, i := range selected {
		radius := r.config.PointRadius * depthScale(cam.Distance, screen[i].Depth)
		r.drawPoint(dc, screen[i], colormap.HighlightFill, colormap.HighlightOutline,
			radius*colormap.SelectedRadiusScale)
	}

	return r.encodeContext(dc)
}

// depthScale mildly grows points nearer than the orbit target and shrinks
// farther ones.
func depthScale(ref, depth float64) float64 {
	if ref <= 0 || depth <= 0 {
		return 1
	}
	s := math.Sqrt(ref / depth)
	if s < 0.5 {
		return 0.5
	}
	if s > 2 {
		return 2
	}
	return s
}

func (r *SceneRenderer) drawPoint(dc *gg.Context, sp ScreenPoint, fill, outline color.Color, radius float64) {
	dc.SetColor(fill)
	dc.DrawCircle(sp.X, sp.Y, radius)
	dc.FillPreserve()
	dc.SetColor(outline)
	dc.SetLineWidth(outlineWidth)
	dc.Stroke()
}

// acquireContext returns a drawing context for the requested size. Contexts
// matching the configured frame size come from the pool; other sizes get a
// fresh context that is not pooled.
func (r *SceneRenderer) acquireContext(width, height int) (*gg.Context, bool) {
	if width <= 0 {
		width = r.config.Width
	}
	if height <= 0 {
		height = r.config.Height
	}
	if width == r.config.Width && height == r.config.Height {
		return r.contextPool.Get().(*gg.Context), true
	}
	return gg.NewContext(width, height), false
}

// encodeContext encodes the context's image to PNG using pooled buffers.
func (r *SceneRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer r.bufferPool.Put(buf)
	buf.Reset()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy bytes out since the buffer returns to the pool
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// parseHexColor parses "#rgb" or "#rrggbb" into an opaque color.
func parseHexColor(s string) (color.RGBA, bool) {
	if len(s) == 0 || s[0] != '#' {
		return color.RGBA{}, false
	}
	hex := s[1:]
	var vals []uint8
	switch len(hex) {
	case 3:
		for i := 0; i < 3; i++ {
			v, ok := hexNibble(hex[i])
			if !ok {
				return color.RGBA{}, false
			}
			vals = append(vals, v*16+v)
		}
	case 6:
		for i := 0; i < 6; i += 2 {
			hi, ok1 := hexNibble(hex[i])
			lo, ok2 := hexNibble(hex[i+1])
			if !ok1 || !ok2 {
				return color.RGBA{}, false
			}
			vals = append(vals, hi*16+lo)
		}
	default:
		return color.RGBA{}, false
	}
	return color.RGBA{vals[0], vals[1], vals[2], 255}, true
}

func hexNibble(b byte) (uint8, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	}
	return 0, false
}
