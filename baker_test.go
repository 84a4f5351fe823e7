package lightcache

import (
	"bytes"
	"context"
	"image/color"
	"testing"
	"time"

	"github.com/gekko3d/lightcache/lightrt/bake"
	"github.com/gekko3d/lightcache/lightrt/cache"
	"github.com/gekko3d/lightcache/lightrt/core"
	"github.com/gekko3d/lightcache/lightrt/gpu/gputest"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func demoScene() (*core.Main, *core.Scene) {
	sc := core.NewScene("Scene")
	sc.Settings.CubemapResolution = 16
	sc.Settings.VisibilityResolution = 16
	sc.Settings.WorldColor = mgl32.Vec3{0.25, 0.5, 0.75}
	sc.Add(
		&core.Object{Name: "Irradiance", Type: core.ObjectLightProbe, Local: core.NewTransform(), Probe: core.NewGridProbe(2, 2, 2)},
		&core.Object{Name: "Reflection", Type: core.ObjectLightProbe, Local: core.At(mgl32.Vec3{0, 1, 0}), Probe: core.NewCubeProbe()},
		&core.Object{Name: "Floor", Type: core.ObjectMesh},
	)
	m := core.NewMain()
	m.AddScene(sc)
	return m, sc
}

func newTestBaker() (*Baker, *gputest.Factory, *gputest.ContextProvider) {
	f := gputest.NewFactory()
	cp := gputest.NewContextProvider()
	b := NewBakerBuilder(f, cp).UseLogger(NewNopLogger()).UseWorkers(2).Build()
	return b, f, cp
}

func TestBaker_RunJobWithWorldColorPass(t *testing.T) {
	b, f, _ := newTestBaker()
	m, sc := demoScene()

	j, err := b.AllocateJobData(m, nil, sc, false)
	require.NoError(t, err)
	defer b.FreeJobData(j)

	p := &bake.Progress{}
	require.NoError(t, b.RunJob(context.Background(), j, p))
	assert.Equal(t, float32(1), p.Fraction())
	assert.Positive(t, f.Clears())

	lc := sc.Cache.Load()
	require.NotNil(t, lc)
	want := [4]float32{0.25, 0.5, 0.75, 1}

	refl := lc.ReflectionAtlas.(*gputest.Texture)
	assert.Equal(t, want, refl.Texels[0], "world reflection")
	assert.Equal(t, want, refl.Texels[1], "probe reflection")

	irr := lc.IrradianceAtlas.(*gputest.Texture)
	assert.Equal(t, want, irr.Texels[1], "world irradiance sample layer")
	assert.Equal(t, cache.UnbakedColor, irr.Texels[0], "blend layer is not a capture target")
	assert.Equal(t, 0, f.LiveFramebuffers())
}

func TestBaker_AllocateRejectsForeignScene(t *testing.T) {
	b, _, _ := newTestBaker()
	m, _ := demoScene()
	other := core.NewScene("Scene")

	_, err := b.AllocateJobData(m, nil, other, false)
	assert.ErrorIs(t, err, ErrUnknownScene)

	_, err = b.AllocateJobData(nil, nil, nil, false)
	assert.ErrorIs(t, err, bake.ErrInvalidConfig)
}

func TestBaker_ForeignJob(t *testing.T) {
	b, _, _ := newTestBaker()
	other, _, _ := newTestBaker()
	m, sc := demoScene()

	j, err := other.AllocateJobData(m, nil, sc, false)
	require.NoError(t, err)
	defer other.FreeJobData(j)

	assert.ErrorIs(t, b.RunJob(context.Background(), j, nil), ErrUnknownJob)
	assert.ErrorIs(t, <-b.Start(context.Background(), j, nil), ErrUnknownJob)
	b.NotifyUpdate(j)
	assert.Zero(t, sc.RecalcTags())
}

func TestBaker_StartRunsInBackground(t *testing.T) {
	b, _, cp := newTestBaker()
	defer b.Close()
	m, sc := demoScene()

	j, err := b.AllocateJobData(m, nil, sc, true)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Jobs())

	select {
	case err := <-b.Start(context.Background(), j, nil):
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bake did not finish")
	}

	require.Len(t, cp.Contexts(), 1)
	assert.True(t, cp.Contexts()[0].Disposed())
	require.Len(t, cp.Companions(), 1)
	assert.True(t, cp.Companions()[0].Discarded())

	b.NotifyUpdate(j)
	assert.Equal(t, int64(1), sc.RecalcTags())

	b.FreeJobData(j)
	b.FreeJobData(j)
	assert.Zero(t, b.Jobs())
	assert.Zero(t, sc.Cache.Attached())
}

func TestBaker_StartHonoursStop(t *testing.T) {
	b, _, _ := newTestBaker()
	defer b.Close()
	m, sc := demoScene()

	j, err := b.AllocateJobData(m, nil, sc, true)
	require.NoError(t, err)
	defer b.FreeJobData(j)

	p := &bake.Progress{}
	p.Stop()
	require.NoError(t, <-b.Start(context.Background(), j, p))
	assert.True(t, j.Cancelled())
	assert.False(t, sc.Cache.Load().Flags.Has(cache.FlagBaked))
}

func TestLayoutPreview_MarksOwners(t *testing.T) {
	pool, err := cache.SizePool(cache.EncodingSHL2, 4, 5)
	require.NoError(t, err)
	grids := []cache.GridRecord{cache.WorldGridRecord(), {Resolution: [3]int32{4, 1, 1}, Offset: 1}}

	img := LayoutPreview(pool, grids, 4)
	const header = 16
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(1, header+1))
	assert.Equal(t, gridColor(1), img.RGBAAt(4+1, header+1))
	assert.Equal(t, gridColor(1), img.RGBAAt(4*4+1, header+1))

	var buf bytes.Buffer
	require.NoError(t, WritePreviewBMP(&buf, img))
	decoded, err := bmp.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
}

func TestGridColor_IsStable(t *testing.T) {
	assert.Equal(t, gridColor(3), gridColor(3))
	assert.NotEqual(t, gridColor(1), gridColor(2))
}

func TestGridColor_HueWheel(t *testing.T) {
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, gridColor(0))
	// 137 degrees: green sector, blue rising.
	assert.Equal(t, color.RGBA{0, 255, 72, 255}, gridColor(1))
}
