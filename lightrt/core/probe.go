package core

import "math"

type ProbeKind uint8

const (
	ProbeGrid ProbeKind = iota
	ProbeCube
)

func (k ProbeKind) String() string {
	if k == ProbeCube {
		return "cube"
	}
	return "grid"
}

// ProbeShape is the influence or parallax volume of a reflection probe.
type ProbeShape uint8

const (
	ShapeSphere ProbeShape = iota
	ShapeBox
)

// GridProbe is an irradiance volume of ResX*ResY*ResZ samples spanning the object's unit cube.
type GridProbe struct {
	ResX, ResY, ResZ int
	// Falloff is the fraction of Distance over which influence fades out.
	Falloff  float32
	Distance float32

	VisibilityBias  float32
	VisibilityBleed float32
	VisibilityBlur  float32
}

// Samples is the number of irradiance samples the grid needs, saturating at math.MaxInt.
func (g GridProbe) Samples() int {
	res := [3]int{g.ResX, g.ResY, g.ResZ}
	for _, r := range res {
		if r <= 0 {
			return 0
		}
	}
	n := 1
	for _, r := range res {
		if n > math.MaxInt/r {
			return math.MaxInt
		}
		n *= r
	}
	return n
}

// CubeProbe is a single-point reflection capture.
type CubeProbe struct {
	ClipStart float32
	ClipEnd   float32

	Shape    ProbeShape
	Falloff  float32
	Distance float32

	// CustomParallax uses ParallaxShape and ParallaxDistance instead of the influence volume.
	CustomParallax   bool
	ParallaxShape    ProbeShape
	ParallaxDistance float32
}

// LightProbe is the probe payload of an object. Kind selects which of Grid or Cube is meaningful.
type LightProbe struct {
	Kind ProbeKind
	Grid GridProbe
	Cube CubeProbe
}

func NewGridProbe(resX, resY, resZ int) *LightProbe {
	return &LightProbe{
		Kind: ProbeGrid,
		Grid: GridProbe{
			ResX: resX, ResY: resY, ResZ: resZ,
			Falloff:         0.2,
			Distance:        0.1,
			VisibilityBias:  0.001,
			VisibilityBleed: 0.2,
			VisibilityBlur:  0.2,
		},
	}
}

func NewCubeProbe() *LightProbe {
	return &LightProbe{
		Kind: ProbeCube,
		Cube: CubeProbe{
			ClipStart: 0.8,
			ClipEnd:   40,
			Shape:     ShapeSphere,
			Falloff:   0.2,
			Distance:  2.5,

			ParallaxDistance: 2.5,
		},
	}
}
