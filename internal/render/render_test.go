package render

import (
	"bytes"
	"image/png"
	"math"
	"testing"
)

var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func intPtr(v int) *int { return &v }

func testPoints() []Point {
	return []Point{
		{ID: "Q1", Label: "Ada Lovelace", X: 1, Y: 2, Z: 3, ClusterID: intPtr(0)},
		{ID: "Q2", Label: "Alan Turing", X: -2, Y: 1, Z: 0, ClusterID: intPtr(0)},
		{ID: "Q3", Label: "Emmy Noether", X: 4, Y: -1, Z: 2, ClusterID: intPtr(12)},
		{ID: "Q4", Label: "Unknown Figure", X: 0, Y: 5, Z: -3, ClusterID: nil},
	}
}

func TestCameraRotateClampsPitch(t *testing.T) {
	t.Parallel()

	cam := NewCamera()
	cam.Rotate(0, 10)
	if cam.Pitch != maxPitch {
		t.Errorf("Pitch = %v, want clamp at %v", cam.Pitch, maxPitch)
	}
	cam.Rotate(0, -20)
	if cam.Pitch != -maxPitch {
		t.Errorf("Pitch = %v, want clamp at %v", cam.Pitch, -maxPitch)
	}
}

func TestCameraZoomClampsDistance(t *testing.T) {
	t.Parallel()

	cam := NewCamera()
	cam.Zoom(1e9)
	if cam.Distance != minDistance {
		t.Errorf("Distance = %v, want %v after extreme zoom in", cam.Distance, minDistance)
	}
	cam.Zoom(1e-9)
	if cam.Distance != maxDistance {
		t.Errorf("Distance = %v, want %v after extreme zoom out", cam.Distance, maxDistance)
	}

	before := cam.Distance
	cam.Zoom(0)
	cam.Zoom(-2)
	if cam.Distance != before {
		t.Errorf("non-positive zoom factors changed distance: %v -> %v", before, cam.Distance)
	}
}

func TestCameraPanMovesTarget(t *testing.T) {
	t.Parallel()

	cam := NewCamera()
	origTarget := cam.Target
	origDist := cam.Distance

	cam.Pan(0.25, -0.1)
	if cam.Target == origTarget {
		t.Error("Pan did not move the target")
	}
	if cam.Distance != origDist {
		t.Errorf("Pan changed distance: %v -> %v", origDist, cam.Distance)
	}
}

func TestProjectTargetHitsViewportCenter(t *testing.T) {
	t.Parallel()

	cam := NewCamera()
	pts := []Point{{ID: "center", X: 0, Y: 0, Z: 0}}
	screen := Project(pts, cam, 800, 600)

	if !screen[0].Visible {
		t.Fatal("target point should be visible")
	}
	if math.Abs(screen[0].X-400) > 1e-6 || math.Abs(screen[0].Y-300) > 1e-6 {
		t.Errorf("target projected to (%v, %v), want (400, 300)", screen[0].X, screen[0].Y)
	}
	if math.Abs(screen[0].Depth-cam.Distance) > 1e-9 {
		t.Errorf("depth = %v, want camera distance %v", screen[0].Depth, cam.Distance)
	}
}

func TestProjectBehindCameraInvisible(t *testing.T) {
	t.Parallel()

	cam := NewCamera()
	eye := cam.Eye()
	behind := []Point{{ID: "behind", X: 2 * eye[0], Y: 2 * eye[1], Z: 2 * eye[2]}}

	screen := Project(behind, cam, 800, 600)
	if screen[0].Visible {
		t.Error("point behind the camera should be invisible")
	}
}

func TestProjectDeterministic(t *testing.T) {
	t.Parallel()

	cam := NewCamera()
	cam.Rotate(0.3, -0.2)
	cam.Zoom(1.5)

	a := Project(testPoints(), cam, 640, 480)
	b := Project(testPoints(), cam, 640, 480)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("projection not deterministic at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestHitTest(t *testing.T) {
	t.Parallel()

	screen := []ScreenPoint{
		{Index: 0, X: 100, Y: 100, Depth: 10, Visible: true},
		{Index: 1, X: 200, Y: 200, Depth: 5, Visible: true},
		{Index: 2, X: 100, Y: 100, Depth: 3, Visible: true},
		{Index: 3, X: 50, Y: 50, Depth: 1, Visible: false},
	}

	tests := []struct {
		name    string
		x, y    float64
		wantIdx int
		wantHit bool
	}{
		{"near cluster picks closer depth", 101, 100, 2, true},
		{"isolated point", 203, 198, 1, true},
		{"empty space misses", 400, 400, 0, false},
		{"invisible point not pickable", 50, 50, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, hit := HitTest(screen, tt.x, tt.y, 8)
			if hit != tt.wantHit {
				t.Fatalf("hit = %v, want %v", hit, tt.wantHit)
			}
			if hit && idx != tt.wantIdx {
				t.Errorf("idx = %d, want %d", idx, tt.wantIdx)
			}
		})
	}
}

func TestRenderSceneProducesPNG(t *testing.T) {
	t.Parallel()

	r := NewSceneRenderer(Config{Width: 320, Height: 240, PointRadius: 4})
	pts := testPoints()
	pts[1].Selected = true

	data, err := r.RenderScene(pts, NewCamera(), 320, 240)
	if err != nil {
		t.Fatalf("RenderScene failed: %v", err)
	}
	if !bytes.HasPrefix(data, pngMagic) {
		t.Error("output is not a PNG")
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding PNG config: %v", err)
	}
	if cfg.Width != 320 || cfg.Height != 240 {
		t.Errorf("frame is %dx%d, want 320x240", cfg.Width, cfg.Height)
	}
}

func TestRenderSceneEmpty(t *testing.T) {
	t.Parallel()

	r := NewSceneRenderer(Config{Width: 64, Height: 64})
	data, err := r.RenderScene(nil, NewCamera(), 64, 64)
	if err != nil {
		t.Fatalf("RenderScene with no points failed: %v", err)
	}
	if !bytes.HasPrefix(data, pngMagic) {
		t.Error("empty scene output is not a PNG")
	}
}

func TestRenderSceneCustomSize(t *testing.T) {
	t.Parallel()

	r := NewSceneRenderer(Config{Width: 320, Height: 240})
	data, err := r.RenderScene(testPoints(), NewCamera(), 500, 125)
	if err != nil {
		t.Fatalf("RenderScene failed: %v", err)
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding PNG config: %v", err)
	}
	if cfg.Width != 500 || cfg.Height != 125 {
		t.Errorf("frame is %dx%d, want 500x125", cfg.Width, cfg.Height)
	}
}

func TestRenderIntensitySceneFallsBackOnUnknownColormap(t *testing.T) {
	t.Parallel()

	r := NewSceneRenderer(Config{Width: 64, Height: 64, DefaultColormap: "viridis"})
	pts := testPoints()
	for i := range pts {
		pts[i].Intensity = float64(i) / 3
	}

	data, err := r.RenderIntensityScene(pts, NewCamera(), 64, 64, "no-such-map")
	if err != nil {
		t.Fatalf("RenderIntensityScene failed: %v", err)
	}
	if !bytes.HasPrefix(data, pngMagic) {
		t.Error("output is not a PNG")
	}
}

func TestParseHexColor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		wantOK bool
		r, g   uint8
	}{
		{"#fff", true, 255, 255},
		{"#0b0e14", true, 11, 14},
		{"#ZZZZZZ", false, 0, 0},
		{"0b0e14", false, 0, 0},
		{"", false, 0, 0},
	}

	for _, tt := range tests {
		c, ok := parseHexColor(tt.in)
		if ok != tt.wantOK {
			t.Errorf("parseHexColor(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			continue
		}
		if ok && (c.R != tt.r || c.G != tt.g) {
			t.Errorf("parseHexColor(%q) = %+v", tt.in, c)
		}
	}
}
