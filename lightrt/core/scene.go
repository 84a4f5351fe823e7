package core

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gekko3d/lightcache/lightrt/cache"

	"github.com/go-gl/mathgl/mgl32"
)

// Settings is the scene's indirect lighting configuration.
type Settings struct {
	DiffuseBounces       int
	CubemapResolution    int
	VisibilityResolution int
	IrradianceEncoding   cache.Encoding
	WorldColor           mgl32.Vec3
	Frame                int
}

func DefaultSettings() Settings {
	return Settings{
		DiffuseBounces:       2,
		CubemapResolution:    512,
		VisibilityResolution: 32,
		IrradianceEncoding:   cache.EncodingSHL2,
		WorldColor:           mgl32.Vec3{0.05, 0.05, 0.05},
	}
}

func (s Settings) Validate() error {
	if s.CubemapResolution <= 0 {
		return fmt.Errorf("%w: cubemap resolution %d", cache.ErrInvalidResolution, s.CubemapResolution)
	}
	if s.VisibilityResolution <= 0 || s.VisibilityResolution > cache.MaxPoolSize {
		return fmt.Errorf("%w: visibility resolution %d", cache.ErrInvalidResolution, s.VisibilityResolution)
	}
	return nil
}

type ObjectType uint8

const (
	ObjectEmpty ObjectType = iota
	ObjectMesh
	ObjectLight
	ObjectLightProbe
)

type Object struct {
	Name   string
	Type   ObjectType
	Local  Transform
	Parent *Object
	Hidden bool
	// Probe is set for ObjectLightProbe.
	Probe *LightProbe
}

const maxHierarchyDepth = 64

// World resolves the object's transform through its parent chain.
func (o *Object) World() Transform {
	chain := make([]*Object, 0, 4)
	for p := o; p != nil && len(chain) < maxHierarchyDepth; p = p.Parent {
		chain = append(chain, p)
	}
	world := chain[len(chain)-1].Local
	for i := len(chain) - 2; i >= 0; i-- {
		world = Compose(world, chain[i].Local)
	}
	return world
}

// IsProbe reports whether the object carries a light probe payload.
func (o *Object) IsProbe() bool {
	return o.Type == ObjectLightProbe && o.Probe != nil
}

// ViewLayer filters which scene objects are evaluated.
type ViewLayer struct {
	Name     string
	Excluded map[string]bool
}

func NewViewLayer(name string) *ViewLayer {
	return &ViewLayer{Name: name, Excluded: map[string]bool{}}
}

// Includes reports whether o is visible in the layer.
func (v *ViewLayer) Includes(o *Object) bool {
	if o.Hidden {
		return false
	}
	return v == nil || !v.Excluded[o.Name]
}

type Scene struct {
	Name     string
	Settings Settings
	// Cache is the scene-owned light cache slot.
	Cache   *cache.Shared
	Objects []*Object
	Layers  []*ViewLayer

	recalc atomic.Int64
}

func NewScene(name string) *Scene {
	return &Scene{
		Name:     name,
		Settings: DefaultSettings(),
		Cache:    cache.NewShared(),
		Layers:   []*ViewLayer{NewViewLayer("ViewLayer")},
	}
}

func (s *Scene) Add(objs ...*Object) {
	s.Objects = append(s.Objects, objs...)
}

// TagRecalc marks the scene for re-evaluation.
func (s *Scene) TagRecalc() {
	s.recalc.Add(1)
}

// RecalcTags is the number of re-evaluation requests so far.
func (s *Scene) RecalcTags() int64 {
	return s.recalc.Load()
}

// Main is the database of scenes a host works on.
type Main struct {
	mu     sync.RWMutex
	scenes map[string]*Scene
}

func NewMain() *Main {
	return &Main{scenes: map[string]*Scene{}}
}

func (m *Main) AddScene(s *Scene) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenes[s.Name] = s
}

func (m *Main) Scene(name string) (*Scene, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scenes[name]
	return s, ok
}
