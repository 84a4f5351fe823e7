package bake

import (
	"iter"

	"github.com/gekko3d/lightcache/lightrt/cache"
	"github.com/gekko3d/lightcache/lightrt/core"
	"github.com/gekko3d/lightcache/lightrt/gpu"

	"github.com/go-gl/mathgl/mgl32"
)

type Capture uint8

const (
	CaptureWorld Capture = iota
	CaptureGrid
	CaptureCube
)

func (c Capture) String() string {
	switch c {
	case CaptureGrid:
		return "grid"
	case CaptureCube:
		return "cube"
	}
	return "world"
}

// FrameData is everything a render pass needs for one capture. Draws go into Faces, one
// framebuffer per cube face, each paired with the matching ViewProj.
type FrameData struct {
	Capture Capture
	// Index is the cache record slot being captured; 0 is the world.
	Index  int
	Bounce int
	Probe  *core.Object

	Scene   *core.Scene
	Objects iter.Seq[*core.Object]
	Cache   *cache.LightCache
	Pool    cache.PoolSize
	Factory gpu.Factory

	Position mgl32.Vec3
	ViewProj [6]mgl32.Mat4
	Faces    [6]gpu.Framebuffer
	Color    gpu.Texture
	Depth    gpu.Texture
	// PrevBounce holds the irradiance of the previous bounce. It is unbaked on bounce 0.
	PrevBounce gpu.Texture
	// LodMax is the highest mip of Color to sample when filtering.
	LodMax float32
}

// RenderPass issues the scene draws of a capture into the bound framebuffers.
type RenderPass interface {
	RenderWorldPass(fd *FrameData) error
	RenderProbePass(fd *FrameData) error
}

var cubeFaces = [6]struct{ dir, up mgl32.Vec3 }{
	{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, -1, 0}},
	{mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, -1, 0}},
	{mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 0, 1}},
	{mgl32.Vec3{0, -1, 0}, mgl32.Vec3{0, 0, -1}},
	{mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, -1, 0}},
	{mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, -1, 0}},
}

// CubeFaceViewProj returns the view-projection of each cube face seen from pos, in +X, -X, +Y,
// -Y, +Z, -Z order.
func CubeFaceViewProj(pos mgl32.Vec3, near, far float32) [6]mgl32.Mat4 {
	near = max(near, 1e-3)
	far = max(far, near*2)
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1, near, far)

	var out [6]mgl32.Mat4
	for i, f := range cubeFaces {
		out[i] = proj.Mul4(mgl32.LookAtV(pos, pos.Add(f.dir), f.up))
	}
	return out
}
