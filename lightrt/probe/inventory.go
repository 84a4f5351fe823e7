// Package probe scans an evaluated scene for light probes and converts them into the light
// cache's compact records.
package probe

import (
	"errors"
	"fmt"
	"math"

	"github.com/gekko3d/lightcache/lightrt/cache"
	"github.com/gekko3d/lightcache/lightrt/core"
	"github.com/gekko3d/lightcache/lightrt/depsgraph"

	"github.com/go-gl/mathgl/mgl32"
)

var ErrInventoryChanged = errors.New("probe: scene probes changed between count and gather")

// Counts are the slot and sample totals of one scan. Every field includes the world entry.
type Counts struct {
	Grids             int
	Cubes             int
	IrradianceSamples int
}

func (c Counts) String() string {
	return fmt.Sprintf("%d grids, %d cubes, %d irradiance samples", c.Grids, c.Cubes, c.IrradianceSamples)
}

// Count scans the evaluated objects once. It must run before anything sized by the counts is
// allocated.
func Count(g depsgraph.Graph) Counts {
	c := Counts{Grids: 1, Cubes: 1, IrradianceSamples: 1}
	for ob := range g.Objects() {
		if !ob.IsProbe() {
			continue
		}
		switch ob.Probe.Kind {
		case core.ProbeGrid:
			c.IrradianceSamples = addSamples(c.IrradianceSamples, ob.Probe.Grid.Samples())
			c.Grids++
		case core.ProbeCube:
			c.Cubes++
		}
	}
	return c
}

// addSamples adds sample counts, saturating at math.MaxInt.
func addSamples(a, b int) int {
	if b > math.MaxInt-a {
		return math.MaxInt
	}
	return a + b
}

func clamp32(v int) int32 {
	return int32(min(max(v, math.MinInt32), math.MaxInt32))
}

// Inventory holds back-references to the probe objects behind each cache slot, for progress
// reporting. Index 0 is the world and stays nil.
type Inventory struct {
	Grids []*core.Object
	Cubes []*core.Object
}

// Gather writes every probe into lc's record arrays at indices 1.. in evaluation order. counts
// must come from Count on the same graph and lc must have been created for them.
func Gather(g depsgraph.Graph, lc *cache.LightCache, counts Counts) (Inventory, error) {
	if len(lc.Grids) != counts.Grids || len(lc.Cubes) != counts.Cubes {
		return Inventory{}, fmt.Errorf("%w: cache holds %d/%d slots, counted %d/%d",
			ErrInventoryChanged, len(lc.Grids), len(lc.Cubes), counts.Grids, counts.Cubes)
	}
	inv := Inventory{
		Grids: make([]*core.Object, counts.Grids),
		Cubes: make([]*core.Object, counts.Cubes),
	}

	grid, cube := 1, 1
	// The world sample comes first in the pool.
	offset := 1
	for ob := range g.Objects() {
		if !ob.IsProbe() {
			continue
		}
		switch ob.Probe.Kind {
		case core.ProbeGrid:
			if grid >= counts.Grids || addSamples(offset, ob.Probe.Grid.Samples()) > counts.IrradianceSamples {
				return Inventory{}, fmt.Errorf("%w: extra grid %q", ErrInventoryChanged, ob.Name)
			}
			inv.Grids[grid] = ob
			lc.Grids[grid] = GridRecordFrom(ob, &offset)
			grid++
		case core.ProbeCube:
			if cube >= counts.Cubes {
				return Inventory{}, fmt.Errorf("%w: extra cube %q", ErrInventoryChanged, ob.Name)
			}
			inv.Cubes[cube] = ob
			lc.Cubes[cube] = CubeRecordFrom(ob)
			cube++
		}
	}
	if grid != counts.Grids || cube != counts.Cubes {
		return Inventory{}, fmt.Errorf("%w: gathered %d/%d, counted %d/%d",
			ErrInventoryChanged, grid, cube, counts.Grids, counts.Cubes)
	}
	return inv, nil
}

// GridRecordFrom converts a grid probe object. offset is the pool index of the grid's first
// sample and is advanced past it.
func GridRecordFrom(ob *core.Object, offset *int) cache.GridRecord {
	p := ob.Probe.Grid
	objToWorld := ob.Local.ObjectToWorld()

	rec := cache.GridRecord{
		Resolution: [3]int32{clamp32(p.ResX), clamp32(p.ResY), clamp32(p.ResZ)},
		Offset:     clamp32(*offset),
	}
	*offset = addSamples(*offset, p.Samples())

	fac := 1 / max(1e-8, p.Falloff)
	rec.AttenuationScale = fac / max(1e-8, p.Distance)
	rec.AttenuationBias = fac

	// The grid spans the object's [-1, 1] cube; samples sit at cell centers.
	cell := mgl32.Vec3{2 / float32(max(1, p.ResX)), 2 / float32(max(1, p.ResY)), 2 / float32(max(1, p.ResZ))}
	half := cell.Mul(0.5)

	rec.WorldToGrid = objToWorld.Inv()
	corner := mgl32.Vec3{-1, -1, -1}.Add(half)
	rec.Corner = mgl32.TransformCoordinate(corner, objToWorld)
	step := func(axis mgl32.Vec3) mgl32.Vec3 {
		return mgl32.TransformCoordinate(corner.Add(axis), objToWorld).Sub(rec.Corner)
	}
	rec.IncrementX = step(mgl32.Vec3{cell.X(), 0, 0})
	rec.IncrementY = step(mgl32.Vec3{0, cell.Y(), 0})
	rec.IncrementZ = step(mgl32.Vec3{0, 0, cell.Z()})

	rec.VisibilityBias = 0.05 * p.VisibilityBias
	rec.VisibilityBleed = p.VisibilityBleed
	longest := max(rec.IncrementX.LenSqr(), rec.IncrementY.LenSqr(), rec.IncrementZ.LenSqr())
	rec.VisibilityRange = 1 + float32(math.Sqrt(float64(longest)))
	rec.LevelBias = p.VisibilityBlur
	return rec
}

// CubeRecordFrom converts a reflection probe object.
func CubeRecordFrom(ob *core.Object) cache.CubeRecord {
	p := ob.Probe.Cube
	objToWorld := ob.Local.ObjectToWorld()

	rec := cache.CubeRecord{
		Position:        ob.Local.Position,
		AttenuationType: attenuationType(p.Shape),
		AttenuationFac:  1 / max(1e-8, p.Falloff),
		ClipStart:       p.ClipStart,
		ClipEnd:         p.ClipEnd,
	}
	rec.AttenuationMat = objToWorld.Mul4(mgl32.Scale3D(p.Distance, p.Distance, p.Distance)).Inv()

	parallaxShape, parallaxDist := p.Shape, p.Distance
	if p.CustomParallax {
		parallaxShape, parallaxDist = p.ParallaxShape, p.ParallaxDistance
	}
	rec.ParallaxType = attenuationType(parallaxShape)
	rec.ParallaxMat = objToWorld.Mul4(mgl32.Scale3D(parallaxDist, parallaxDist, parallaxDist)).Inv()
	return rec
}

func attenuationType(s core.ProbeShape) cache.AttenuationType {
	if s == core.ShapeBox {
		return cache.AttenuationBox
	}
	return cache.AttenuationSphere
}
