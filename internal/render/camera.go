package render

import "math"

// Camera orbit limits. Pitch stops short of the poles so the up vector never
// degenerates; distance stays positive so the eye never crosses the target.
const (
	minDistance = 0.5
	maxDistance = 500.0
	maxPitch    = 1.52
)

// Camera is an orbit camera: the eye circles Target at Distance, directed by
// Yaw (around the vertical axis) and Pitch (above the horizontal plane).
// Camera state is independent of the dataset and survives filter changes.
type Camera struct {
	Target   [3]float64 `json:"target"`
	Yaw      float64    `json:"yaw"`
	Pitch    float64    `json:"pitch"`
	Distance float64    `json:"distance"`
}

// NewCamera returns the default viewing position.
func NewCamera() Camera {
	return Camera{
		Target:   [3]float64{0, 0, 0},
		Yaw:      0.6,
		Pitch:    0.35,
		Distance: 40,
	}
}

// Rotate orbits the camera by the given yaw/pitch deltas in radians.
func (c *Camera) Rotate(dYaw, dPitch float64) {
	c.Yaw = math.Mod(c.Yaw+dYaw, 2*math.Pi)
	c.Pitch += dPitch
	if c.Pitch > maxPitch {
		c.Pitch = maxPitch
	}
	if c.Pitch < -maxPitch {
		c.Pitch = -maxPitch
	}
}

// Pan moves the target within the camera plane. Deltas are in fractions of
// the viewport; speed scales with distance so panning feels uniform at any
// zoom.
func (c *Camera) Pan(dx, dy float64) {
	right, up, _ := c.basis()
	scale := c.Distance
	for i := 0; i < 3; i++ {
		c.Target[i] += (-dx*right[i] + dy*up[i]) * scale
	}
}

// Zoom scales the orbit distance. Factors above 1 move closer.
func (c *Camera) Zoom(factor float64) {
	if factor <= 0 {
		return
	}
	c.Distance /= factor
	if c.Distance < minDistance {
		c.Distance = minDistance
	}
	if c.Distance > maxDistance {
		c.Distance = maxDistance
	}
}

// Eye returns the camera position in world space.
func (c Camera) Eye() [3]float64 {
	cp := math.Cos(c.Pitch)
	return [3]float64{
		c.Target[0] + c.Distance*cp*math.Sin(c.Yaw),
		c.Target[1] + c.Distance*math.Sin(c.Pitch),
		c.Target[2] + c.Distance*cp*math.Cos(c.Yaw),
	}
}

// basis returns the camera's right, up and forward unit vectors.
func (c Camera) basis() (right, up, forward [3]float64) {
	eye := c.Eye()
	forward = normalize([3]float64{
		c.Target[0] - eye[0],
		c.Target[1] - eye[1],
		c.Target[2] - eye[2],
	})
	worldUp := [3]float64{0, 1, 0}
	right = normalize(cross(forward, worldUp))
	// Looking straight up or down: pick an arbitrary horizontal right.
	if right == ([3]float64{0, 0, 0}) {
		right = [3]float64{1, 0, 0}
	}
	up = cross(right, forward)
	return right, up, forward
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalize(v [3]float64) [3]float64 {
	n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if n == 0 {
		return [3]float64{}
	}
	return [3]float64{v[0] / n, v[1] / n, v[2] / n}
}
