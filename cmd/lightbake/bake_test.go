package main

import (
	"testing"

	"github.com/gekko3d/lightcache/lightrt/core"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseColor(t *testing.T) {
	c, err := parseColor("0.1, 0.2,1")
	require.NoError(t, err)
	assert.Equal(t, mgl32.Vec3{0.1, 0.2, 1}, c)

	_, err = parseColor("0.1,0.2")
	assert.Error(t, err)
	_, err = parseColor("a,b,c")
	assert.Error(t, err)
}

func TestDemoScene_ProbeLayout(t *testing.T) {
	sc := demoScene(sceneOptions{grids: 3, gridRes: 2, cubes: 1}, core.DefaultSettings())

	grids, cubes := 0, 0
	for _, o := range sc.Objects {
		if !o.IsProbe() {
			continue
		}
		switch o.Probe.Kind {
		case core.ProbeGrid:
			grids++
			assert.Equal(t, 8, o.Probe.Grid.Samples())
		case core.ProbeCube:
			cubes++
		}
	}
	assert.Equal(t, 3, grids)
	assert.Equal(t, 1, cubes)
	assert.NotNil(t, sc.Cache)
}
