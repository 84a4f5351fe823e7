// Package depsgraph evaluates a scene into a private copy the bake reads from.
package depsgraph

import (
	"errors"
	"fmt"
	"iter"

	"github.com/gekko3d/lightcache/lightrt/core"
)

var (
	ErrNotEvaluated = errors.New("depsgraph: graph not evaluated")
	ErrDestroyed    = errors.New("depsgraph: graph destroyed")
)

// Graph is an evaluated view of one scene and view layer.
type Graph interface {
	// Objects yields the evaluated objects in evaluation order. Each call is a full pass.
	Objects() iter.Seq[*core.Object]
	EvaluatedScene() *core.Scene
	EvaluatedViewLayer() *core.ViewLayer
}

// Provider builds and evaluates dependency graphs.
type Provider interface {
	Build(scene *core.Scene, layer *core.ViewLayer) (Graph, error)
	UpdateRelations(g Graph) error
	EvaluateAtFrame(g Graph, frame int) error
	Destroy(g Graph)
	TagForReEvaluation(scene *core.Scene)
}

// CopyProvider evaluates by copying scene objects into a private graph. The evaluated scene
// shares the original's cache slot.
type CopyProvider struct{}

func NewCopyProvider() *CopyProvider {
	return &CopyProvider{}
}

type copyGraph struct {
	source    *core.Scene
	layer     *core.ViewLayer
	evaluated *core.Scene
	objects   []*core.Object
	order     []*core.Object
	destroyed bool
}

func (g *copyGraph) Objects() iter.Seq[*core.Object] {
	return func(yield func(*core.Object) bool) {
		for _, o := range g.objects {
			if !yield(o) {
				return
			}
		}
	}
}

func (g *copyGraph) EvaluatedScene() *core.Scene         { return g.evaluated }
func (g *copyGraph) EvaluatedViewLayer() *core.ViewLayer { return g.layer }

func (p *CopyProvider) graph(g Graph) (*copyGraph, error) {
	cg, ok := g.(*copyGraph)
	if !ok || cg == nil {
		return nil, fmt.Errorf("depsgraph: foreign graph %T", g)
	}
	if cg.destroyed {
		return nil, ErrDestroyed
	}
	return cg, nil
}

func (p *CopyProvider) Build(scene *core.Scene, layer *core.ViewLayer) (Graph, error) {
	if scene == nil {
		return nil, errors.New("depsgraph: nil scene")
	}
	if layer == nil && len(scene.Layers) > 0 {
		layer = scene.Layers[0]
	}
	return &copyGraph{source: scene, layer: layer}, nil
}

// UpdateRelations orders the source objects parents first.
func (p *CopyProvider) UpdateRelations(g Graph) error {
	cg, err := p.graph(g)
	if err != nil {
		return err
	}
	visited := make(map[*core.Object]bool, len(cg.source.Objects))
	order := make([]*core.Object, 0, len(cg.source.Objects))
	var visit func(o *core.Object, depth int)
	visit = func(o *core.Object, depth int) {
		if o == nil || visited[o] || depth > 64 {
			return
		}
		visited[o] = true
		visit(o.Parent, depth+1)
		order = append(order, o)
	}
	for _, o := range cg.source.Objects {
		visit(o, 0)
	}
	cg.order = order
	return nil
}

// EvaluateAtFrame copies every object included by the view layer, resolving world transforms.
// Parents outside the scene object list are still resolved but not yielded.
func (p *CopyProvider) EvaluateAtFrame(g Graph, frame int) error {
	cg, err := p.graph(g)
	if err != nil {
		return err
	}
	if cg.order == nil {
		if err := p.UpdateRelations(g); err != nil {
			return err
		}
	}

	inScene := make(map[*core.Object]bool, len(cg.source.Objects))
	for _, o := range cg.source.Objects {
		inScene[o] = true
	}

	objects := make([]*core.Object, 0, len(cg.order))
	for _, o := range cg.order {
		if !inScene[o] || !cg.layer.Includes(o) {
			continue
		}
		eval := &core.Object{
			Name:  o.Name,
			Type:  o.Type,
			Local: o.World(),
		}
		if o.Probe != nil {
			probe := *o.Probe
			eval.Probe = &probe
		}
		objects = append(objects, eval)
	}

	if cg.evaluated == nil {
		cg.evaluated = &core.Scene{
			Name:  cg.source.Name,
			Cache: cg.source.Cache.Attach(),
		}
	}
	cg.evaluated.Settings = cg.source.Settings
	cg.evaluated.Settings.Frame = frame
	cg.evaluated.Objects = objects
	cg.objects = objects
	return nil
}

// Destroy releases the graph and detaches the evaluated scene from the cache slot. The cache
// stays with the original scene.
func (p *CopyProvider) Destroy(g Graph) {
	cg, ok := g.(*copyGraph)
	if !ok || cg == nil || cg.destroyed {
		return
	}
	if cg.evaluated != nil && cg.evaluated.Cache != nil {
		cg.evaluated.Cache.Detach()
	}
	cg.destroyed = true
	cg.objects = nil
	cg.order = nil
}

func (p *CopyProvider) TagForReEvaluation(scene *core.Scene) {
	if scene != nil {
		scene.TagRecalc()
	}
}
