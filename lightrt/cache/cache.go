package cache

import (
	"fmt"

	"github.com/gekko3d/lightcache/lightrt/gpu"

	"github.com/go-gl/mathgl/mgl32"
)

// UnbakedColor fills atlases that hold no baked data yet, so reads of an incomplete cache
// stand out.
var UnbakedColor = [4]float32{1, 0, 0, 1}

type Flag uint32

const (
	FlagUpdateWorld Flag = 1 << iota
	FlagUpdateGrid
	FlagUpdateCube
	FlagBaking
	FlagGridReady
	FlagCubeReady
	FlagBaked
)

func (f Flag) Has(o Flag) bool { return f&o == o }

// GridRecord is the compact per-grid data uploaded alongside the irradiance atlas.
// Index 0 is the world grid.
type GridRecord struct {
	WorldToGrid mgl32.Mat4
	Corner      mgl32.Vec3
	IncrementX  mgl32.Vec3
	IncrementY  mgl32.Vec3
	IncrementZ  mgl32.Vec3
	Resolution  [3]int32
	// Offset is the index of the grid's first sample in the irradiance pool.
	Offset int32

	AttenuationScale float32
	AttenuationBias  float32
	VisibilityBias   float32
	VisibilityBleed  float32
	VisibilityRange  float32
	LevelBias        float32
}

// Samples is the number of irradiance samples the grid occupies.
func (g GridRecord) Samples() int {
	return int(g.Resolution[0]) * int(g.Resolution[1]) * int(g.Resolution[2])
}

type AttenuationType int32

const (
	AttenuationSphere AttenuationType = iota
	AttenuationBox
)

// CubeRecord is the compact per-reflection-probe data. Index 0 is the world probe.
type CubeRecord struct {
	Position        mgl32.Vec3
	AttenuationType AttenuationType
	AttenuationFac  float32
	// AttenuationMat maps world space to the unit influence volume.
	AttenuationMat mgl32.Mat4
	ParallaxType   AttenuationType
	// ParallaxMat maps world space to the unit parallax volume.
	ParallaxMat mgl32.Mat4
	ClipStart   float32
	ClipEnd     float32
}

// Requirements is what the current settings and probe counts demand from a cache.
type Requirements struct {
	Encoding             Encoding
	VisibilityResolution int
	CubeResolution       int
	GridCount            int
	CubeCount            int
	IrradianceSamples    int
}

// Layout is the atlas allocation that satisfies a set of Requirements.
type Layout struct {
	Irradiance       PoolSize
	IrradianceFormat gpu.Format
	ReflectionSize   int
	ReflectionLayers int
}

// normalized reserves the world slots and the world sample.
func (r Requirements) normalized() Requirements {
	r.GridCount = max(1, r.GridCount)
	r.CubeCount = max(1, r.CubeCount)
	r.IrradianceSamples = max(1, r.IrradianceSamples)
	return r
}

func (r Requirements) Layout() (Layout, error) {
	if r.CubeResolution <= 0 {
		return Layout{}, fmt.Errorf("%w: cubemap resolution %d", ErrInvalidResolution, r.CubeResolution)
	}
	pool, err := SizePool(r.Encoding, r.VisibilityResolution, r.IrradianceSamples)
	if err != nil {
		return Layout{}, err
	}
	return Layout{
		Irradiance:       pool,
		IrradianceFormat: r.Encoding.Format(),
		ReflectionSize:   r.CubeResolution,
		ReflectionLayers: max(1, r.CubeCount),
	}, nil
}

// LightCache holds the baked indirect lighting of a scene. It survives across frames and is
// replaced as a whole whenever its Requirements change.
type LightCache struct {
	IrradianceAtlas gpu.Texture
	ReflectionAtlas gpu.Texture
	Grids           []GridRecord
	Cubes           []CubeRecord
	Flags           Flag

	requirements Requirements
}

// Requirements returns what the cache was created for.
func (lc *LightCache) Requirements() Requirements {
	return lc.requirements
}

func (lc *LightCache) SetFlag(f Flag)   { lc.Flags |= f }
func (lc *LightCache) ClearFlag(f Flag) { lc.Flags &^= f }

// Validate reports whether lc can take a bake under req without being recreated.
// It never mutates the cache.
func Validate(lc *LightCache, req Requirements) bool {
	if lc == nil {
		return false
	}
	req = req.normalized()
	if lc.IrradianceAtlas == nil || lc.ReflectionAtlas == nil {
		return false
	}
	if len(lc.Grids) != req.GridCount || len(lc.Cubes) != req.CubeCount {
		return false
	}
	return lc.requirements == req
}

// Create allocates a cache for req with 1x1 placeholder atlases filled with UnbakedColor and
// the world records in slot 0. Call AllocateAtlases to grow the atlases to their packed size.
func Create(f gpu.Factory, req Requirements) (*LightCache, error) {
	req = req.normalized()
	if _, err := req.Layout(); err != nil {
		return nil, err
	}

	lc := &LightCache{
		Grids:        make([]GridRecord, req.GridCount),
		Cubes:        make([]CubeRecord, req.CubeCount),
		Flags:        FlagUpdateWorld | FlagUpdateGrid | FlagUpdateCube,
		requirements: req,
	}
	lc.Grids[0] = WorldGridRecord()
	lc.Cubes[0] = WorldCubeRecord()

	var err error
	lc.IrradianceAtlas, err = f.CreateTexture2DArray(gpu.TextureDesc{
		Label:  "LightCache Irradiance",
		Width:  1,
		Height: 1,
		Layers: 1,
		Format: req.Encoding.Format(),
		Flags:  gpu.TextureFilter,
		Fill:   &UnbakedColor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create irradiance atlas: %w", err)
	}
	lc.ReflectionAtlas, err = f.CreateTexture2DArray(gpu.TextureDesc{
		Label:  "LightCache Reflection",
		Width:  1,
		Height: 1,
		Layers: 1,
		Format: gpu.FormatRGBA8,
		Flags:  gpu.TextureFilter,
		Fill:   &UnbakedColor,
	})
	if err != nil {
		Destroy(f, lc)
		return nil, fmt.Errorf("failed to create reflection atlas: %w", err)
	}
	return lc, nil
}

// AllocateAtlases replaces the atlases with textures of the packed layout if their extent
// differs. New atlases are filled with UnbakedColor.
func AllocateAtlases(f gpu.Factory, lc *LightCache) (Layout, error) {
	layout, err := lc.requirements.Layout()
	if err != nil {
		return Layout{}, err
	}

	irr := layout.Irradiance
	if !hasExtent(lc.IrradianceAtlas, irr.Width, irr.Height, irr.Layers) {
		tex, err := f.CreateTexture2DArray(gpu.TextureDesc{
			Label:  "LightCache Irradiance",
			Width:  irr.Width,
			Height: irr.Height,
			Layers: irr.Layers,
			Format: layout.IrradianceFormat,
			Flags:  gpu.TextureFilter,
			Fill:   &UnbakedColor,
		})
		if err != nil {
			return Layout{}, fmt.Errorf("failed to allocate irradiance atlas %s: %w", irr, err)
		}
		gpu.FreeTexture(f, &lc.IrradianceAtlas)
		lc.IrradianceAtlas = tex
	}

	if !hasExtent(lc.ReflectionAtlas, layout.ReflectionSize, layout.ReflectionSize, layout.ReflectionLayers) {
		tex, err := f.CreateTexture2DArray(gpu.TextureDesc{
			Label:  "LightCache Reflection",
			Width:  layout.ReflectionSize,
			Height: layout.ReflectionSize,
			Layers: layout.ReflectionLayers,
			Format: gpu.FormatRGBA8,
			Flags:  gpu.TextureFilter | gpu.TextureMipmap,
			Fill:   &UnbakedColor,
		})
		if err != nil {
			return Layout{}, fmt.Errorf("failed to allocate reflection atlas: %w", err)
		}
		gpu.FreeTexture(f, &lc.ReflectionAtlas)
		lc.ReflectionAtlas = tex
	}
	return layout, nil
}

func hasExtent(tex gpu.Texture, w, h, layers int) bool {
	return tex != nil && tex.Width() == w && tex.Height() == h && tex.Layers() == layers
}

// Destroy releases the atlases and record arrays. It accepts a nil cache and missing parts.
func Destroy(f gpu.Factory, lc *LightCache) {
	if lc == nil {
		return
	}
	gpu.FreeTexture(f, &lc.ReflectionAtlas)
	gpu.FreeTexture(f, &lc.IrradianceAtlas)
	lc.Cubes = nil
	lc.Grids = nil
}

// WorldGridRecord is the implicit single-sample grid covering the whole scene.
func WorldGridRecord() GridRecord {
	return GridRecord{
		WorldToGrid:      mgl32.Ident4(),
		Resolution:       [3]int32{1, 1, 1},
		AttenuationScale: 1,
		VisibilityRange:  1,
	}
}

// WorldCubeRecord is the implicit infinite reflection probe of the world.
func WorldCubeRecord() CubeRecord {
	return CubeRecord{
		AttenuationFac: 1,
		AttenuationMat: mgl32.Ident4(),
		ParallaxMat:    mgl32.Ident4(),
		ClipStart:      0.1,
		ClipEnd:        100,
	}
}
