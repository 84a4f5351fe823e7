package depsgraph

import (
	"slices"
	"testing"

	"github.com/gekko3d/lightcache/lightrt/core"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evaluate(t *testing.T, p *CopyProvider, sc *core.Scene, frame int) Graph {
	t.Helper()
	g, err := p.Build(sc, nil)
	require.NoError(t, err)
	require.NoError(t, p.UpdateRelations(g))
	require.NoError(t, p.EvaluateAtFrame(g, frame))
	return g
}

func names(g Graph) []string {
	var out []string
	for o := range g.Objects() {
		out = append(out, o.Name)
	}
	return out
}

func TestCopyProvider_EvaluatesParentsFirst(t *testing.T) {
	sc := core.NewScene("s")
	parent := &core.Object{Name: "rig", Local: core.At(mgl32.Vec3{5, 0, 0})}
	probe := &core.Object{Name: "grid", Type: core.ObjectLightProbe, Probe: core.NewGridProbe(2, 2, 2),
		Local: core.At(mgl32.Vec3{1, 0, 0}), Parent: parent}
	sc.Add(probe, parent)

	p := NewCopyProvider()
	g := evaluate(t, p, sc, 7)
	defer p.Destroy(g)

	assert.Equal(t, []string{"rig", "grid"}, names(g))
	assert.Equal(t, 7, g.EvaluatedScene().Settings.Frame)

	var evalProbe *core.Object
	for o := range g.Objects() {
		if o.IsProbe() {
			evalProbe = o
		}
	}
	require.NotNil(t, evalProbe)
	assert.Nil(t, evalProbe.Parent)
	assert.InDelta(t, 6, evalProbe.Local.Position.X(), 1e-6)
	assert.NotSame(t, probe.Probe, evalProbe.Probe, "payload is copied")
}

func TestCopyProvider_ViewLayerFilters(t *testing.T) {
	sc := core.NewScene("s")
	sc.Add(&core.Object{Name: "a"}, &core.Object{Name: "b"}, &core.Object{Name: "c", Hidden: true})
	sc.Layers[0].Excluded["b"] = true

	p := NewCopyProvider()
	g := evaluate(t, p, sc, 0)
	assert.Equal(t, []string{"a"}, names(g))
	assert.Same(t, sc.Layers[0], g.EvaluatedViewLayer())
}

func TestCopyProvider_SharesCacheSlot(t *testing.T) {
	sc := core.NewScene("s")
	p := NewCopyProvider()
	g := evaluate(t, p, sc, 0)

	assert.Same(t, sc.Cache, g.EvaluatedScene().Cache)
	assert.Equal(t, 1, sc.Cache.Attached())

	// Re-evaluation keeps the same evaluated scene and slot.
	require.NoError(t, p.EvaluateAtFrame(g, 1))
	assert.Equal(t, 1, sc.Cache.Attached())

	p.Destroy(g)
	p.Destroy(g)
	assert.Equal(t, 0, sc.Cache.Attached())
	assert.ErrorIs(t, p.EvaluateAtFrame(g, 2), ErrDestroyed)
}

func TestCopyProvider_ObjectsStopsEarly(t *testing.T) {
	sc := core.NewScene("s")
	sc.Add(&core.Object{Name: "a"}, &core.Object{Name: "b"})
	g := evaluate(t, NewCopyProvider(), sc, 0)

	first := slices.Collect(func(yield func(*core.Object) bool) {
		for o := range g.Objects() {
			yield(o)
			return
		}
	})
	assert.Len(t, first, 1)
}

func TestCopyProvider_TagForReEvaluation(t *testing.T) {
	sc := core.NewScene("s")
	p := NewCopyProvider()
	p.TagForReEvaluation(sc)
	p.TagForReEvaluation(nil)
	assert.Equal(t, int64(1), sc.RecalcTags())
}
