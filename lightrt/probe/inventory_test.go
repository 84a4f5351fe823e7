package probe

import (
	"iter"
	"math"
	"testing"

	"github.com/gekko3d/lightcache/lightrt/cache"
	"github.com/gekko3d/lightcache/lightrt/core"
	"github.com/gekko3d/lightcache/lightrt/depsgraph"
	"github.com/gekko3d/lightcache/lightrt/gpu/gputest"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticGraph yields a fixed object list.
type staticGraph struct {
	objects []*core.Object
}

func (g *staticGraph) Objects() iter.Seq[*core.Object] {
	return func(yield func(*core.Object) bool) {
		for _, o := range g.objects {
			if !yield(o) {
				return
			}
		}
	}
}

func (g *staticGraph) EvaluatedScene() *core.Scene         { return nil }
func (g *staticGraph) EvaluatedViewLayer() *core.ViewLayer { return nil }

var _ depsgraph.Graph = (*staticGraph)(nil)

func gridObject(name string, pos mgl32.Vec3, x, y, z int) *core.Object {
	return &core.Object{Name: name, Type: core.ObjectLightProbe, Local: core.At(pos), Probe: core.NewGridProbe(x, y, z)}
}

func cubeObject(name string, pos mgl32.Vec3) *core.Object {
	return &core.Object{Name: name, Type: core.ObjectLightProbe, Local: core.At(pos), Probe: core.NewCubeProbe()}
}

func cacheFor(t *testing.T, c Counts) *cache.LightCache {
	t.Helper()
	lc, err := cache.Create(gputest.NewFactory(), cache.Requirements{
		Encoding:             cache.EncodingSHL2,
		VisibilityResolution: 32,
		CubeResolution:       16,
		GridCount:            c.Grids,
		CubeCount:            c.Cubes,
		IrradianceSamples:    c.IrradianceSamples,
	})
	require.NoError(t, err)
	return lc
}

func TestCount_EmptySceneReservesWorld(t *testing.T) {
	g := &staticGraph{objects: []*core.Object{{Name: "mesh", Type: core.ObjectMesh}}}
	c := Count(g)
	assert.Equal(t, Counts{Grids: 1, Cubes: 1, IrradianceSamples: 1}, c)

	lc := cacheFor(t, c)
	inv, err := Gather(g, lc, c)
	require.NoError(t, err)
	assert.Len(t, inv.Grids, 1)
	assert.Nil(t, inv.Grids[0])
	assert.Equal(t, cache.WorldGridRecord(), lc.Grids[0])
	assert.Equal(t, cache.WorldCubeRecord(), lc.Cubes[0])
}

func TestCountAndGather_OneGridOneCube(t *testing.T) {
	grid := gridObject("grid", mgl32.Vec3{2, 0, 0}, 4, 4, 4)
	cube := cubeObject("cube", mgl32.Vec3{0, 3, 0})
	g := &staticGraph{objects: []*core.Object{cube, {Name: "lamp", Type: core.ObjectLight}, grid}}

	c := Count(g)
	require.Equal(t, Counts{Grids: 2, Cubes: 2, IrradianceSamples: 65}, c)

	lc := cacheFor(t, c)
	inv, err := Gather(g, lc, c)
	require.NoError(t, err)
	assert.Same(t, grid, inv.Grids[1])
	assert.Same(t, cube, inv.Cubes[1])

	rec := lc.Grids[1]
	assert.Equal(t, [3]int32{4, 4, 4}, rec.Resolution)
	assert.Equal(t, int32(1), rec.Offset)
	assert.True(t, rec.Corner.ApproxEqual(mgl32.Vec3{1.25, -0.75, -0.75}), "%v", rec.Corner)
	assert.True(t, rec.IncrementX.ApproxEqual(mgl32.Vec3{0.5, 0, 0}), "%v", rec.IncrementX)
	assert.True(t, rec.IncrementZ.ApproxEqual(mgl32.Vec3{0, 0, 0.5}), "%v", rec.IncrementZ)
	assert.InDelta(t, 1.5, rec.VisibilityRange, 1e-5)
	assert.InDelta(t, 50, rec.AttenuationScale, 1e-3)
	assert.True(t, rec.WorldToGrid.Mul4(grid.Local.ObjectToWorld()).ApproxEqualThreshold(mgl32.Ident4(), 1e-5))

	crec := lc.Cubes[1]
	assert.Equal(t, mgl32.Vec3{0, 3, 0}, crec.Position)
	assert.Equal(t, cache.AttenuationSphere, crec.AttenuationType)
	// The probe's influence edge maps to the unit sphere.
	edge := mgl32.TransformCoordinate(mgl32.Vec3{0, 5.5, 0}, crec.AttenuationMat)
	assert.InDelta(t, 1, edge.Len(), 1e-4)
}

func TestGather_OffsetsFollowEvaluationOrder(t *testing.T) {
	a := gridObject("a", mgl32.Vec3{}, 2, 2, 2)
	b := gridObject("b", mgl32.Vec3{}, 3, 1, 1)
	g := &staticGraph{objects: []*core.Object{a, b}}

	c := Count(g)
	assert.Equal(t, 1+8+3, c.IrradianceSamples)
	lc := cacheFor(t, c)
	_, err := Gather(g, lc, c)
	require.NoError(t, err)
	assert.Equal(t, int32(1), lc.Grids[1].Offset)
	assert.Equal(t, int32(9), lc.Grids[2].Offset)
}

func TestGather_DetectsDrift(t *testing.T) {
	g := &staticGraph{objects: []*core.Object{cubeObject("c", mgl32.Vec3{})}}
	c := Count(g)
	lc := cacheFor(t, c)

	g.objects = append(g.objects, cubeObject("late", mgl32.Vec3{}))
	_, err := Gather(g, lc, c)
	assert.ErrorIs(t, err, ErrInventoryChanged)

	g.objects = nil
	_, err = Gather(g, lc, c)
	assert.ErrorIs(t, err, ErrInventoryChanged)

	_, err = Gather(g, lc, Counts{Grids: 5, Cubes: 2, IrradianceSamples: 1})
	assert.ErrorIs(t, err, ErrInventoryChanged)
}

func TestCubeRecordFrom_CustomParallax(t *testing.T) {
	ob := cubeObject("c", mgl32.Vec3{})
	ob.Probe.Cube.Shape = core.ShapeBox
	ob.Probe.Cube.CustomParallax = true
	ob.Probe.Cube.ParallaxShape = core.ShapeSphere
	ob.Probe.Cube.ParallaxDistance = 2

	rec := CubeRecordFrom(ob)
	assert.Equal(t, cache.AttenuationBox, rec.AttenuationType)
	assert.Equal(t, cache.AttenuationSphere, rec.ParallaxType)
	p := mgl32.TransformCoordinate(mgl32.Vec3{2, 0, 0}, rec.ParallaxMat)
	assert.InDelta(t, 1, p.X(), 1e-5)
}

func TestCount_HugeGridsSaturate(t *testing.T) {
	g := &staticGraph{objects: []*core.Object{
		gridObject("a", mgl32.Vec3{}, 1<<21, 1<<21, 1<<20),
		gridObject("b", mgl32.Vec3{}, 1<<21, 1<<21, 1<<20),
	}}
	c := Count(g)
	assert.Equal(t, 3, c.Grids)
	assert.Equal(t, math.MaxInt, c.IrradianceSamples)
}

func TestGridRecordFrom_ClampsOffsetPastInt32(t *testing.T) {
	offset := math.MaxInt32 + 10
	rec := GridRecordFrom(gridObject("far", mgl32.Vec3{}, 2, 2, 2), &offset)
	assert.Equal(t, int32(math.MaxInt32), rec.Offset)
	assert.Equal(t, math.MaxInt32+18, offset)

	offset = math.MaxInt - 1
	GridRecordFrom(gridObject("last", mgl32.Vec3{}, 2, 2, 2), &offset)
	assert.Equal(t, math.MaxInt, offset)
}
