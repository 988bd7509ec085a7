package render

import "math"

const (
	fieldOfView = 45.0 * math.Pi / 180.0
	nearPlane   = 0.1
)

// ScreenPoint is a dataset point after perspective projection. Index refers
// into the point slice the projection was computed from. Points behind the
// near plane are marked invisible and are neither drawn nor hit-testable.
type ScreenPoint struct {
	Index   int
	X, Y    float64
	Depth   float64
	Visible bool
}

// Project maps world positions to screen pixels for the given camera and
// viewport. The output has one entry per input point, in input order.
func Project(points []Point, cam Camera, width, height int) []ScreenPoint {
	right, up, forward := cam.basis()
	eye := cam.Eye()
	focal := float64(height) / 2 / math.Tan(fieldOfView/2)
	cx, cy := float64(width)/2, float64(height)/2

	out := make([]ScreenPoint, len(points))
	for i, p := range points {
		out[i] = projectOne(p.X, p.Y, p.Z, eye, right, up, forward, focal, cx, cy)
		out[i].Index = i
	}
	return out
}

// ProjectWorld maps a single world position through the camera. Index is
// left zero; callers projecting standalone positions ignore it.
func ProjectWorld(x, y, z float64, cam Camera, width, height int) ScreenPoint {
	right, up, forward := cam.basis()
	eye := cam.Eye()
	focal := float64(height) / 2 / math.Tan(fieldOfView/2)
	return projectOne(x, y, z, eye, right, up, forward, focal, float64(width)/2, float64(height)/2)
}

func projectOne(x, y, z float64, eye, right, up, forward [3]float64, focal, cx, cy float64) ScreenPoint {
	vx, vy, vz := x-eye[0], y-eye[1], z-eye[2]
	depth := vx*forward[0] + vy*forward[1] + vz*forward[2]
	if depth <= nearPlane {
		return ScreenPoint{Depth: depth}
	}
	sx := vx*right[0] + vy*right[1] + vz*right[2]
	sy := vx*up[0] + vy*up[1] + vz*up[2]
	return ScreenPoint{
		X:       cx + focal*sx/depth,
		Y:       cy - focal*sy/depth,
		Depth:   depth,
		Visible: true,
	}
}

// HitTest returns the index of the point nearest to the cursor within
// pickRadius pixels, preferring the closer of two equally distant points.
// The boolean reports whether anything was hit; clicks on empty space miss.
func HitTest(points []ScreenPoint, x, y, pickRadius float64) (int, bool) {
	bestIdx := -1
	bestDist := pickRadius * pickRadius
	bestDepth := math.Inf(1)
	for _, p := range points {
		if !p.Visible {
			continue
		}
		dx, dy := p.X-x, p.Y-y
		d := dx*dx + dy*dy
		if d < bestDist || (d == bestDist && p.Depth < bestDepth) {
			bestIdx = p.Index
			bestDist = d
			bestDepth = p.Depth
		}
	}
	if bestIdx < 0 {
		return 0, false
	}
	return bestIdx, true
}
