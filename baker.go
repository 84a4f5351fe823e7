package lightcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gekko3d/lightcache/lightrt/bake"
	"github.com/gekko3d/lightcache/lightrt/core"
	"github.com/gekko3d/lightcache/lightrt/depsgraph"
	"github.com/gekko3d/lightcache/lightrt/gpu"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"golang.org/x/sync/semaphore"
)

var (
	ErrUnknownScene = errors.New("lightcache: scene is not part of the database")
	ErrUnknownJob   = errors.New("lightcache: job not allocated by this baker")
)

// Baker is the host-facing entry point for light bakes.
type Baker struct {
	factory    gpu.Factory
	contexts   gpu.ContextProvider
	graphs     depsgraph.Provider
	pass       bake.RenderPass
	renderLock *semaphore.Weighted
	log        Logger
	workers    int

	poolOnce sync.Once
	pool     worker.DynamicWorkerPool
	taskMu   sync.Mutex
	nextTask int

	mu   sync.Mutex
	jobs map[string]*bake.Job
}

type BakerBuilder struct {
	baker *Baker
}

func NewBakerBuilder(factory gpu.Factory, contexts gpu.ContextProvider) *BakerBuilder {
	return &BakerBuilder{baker: &Baker{
		factory:  factory,
		contexts: contexts,
		workers:  1,
		jobs:     make(map[string]*bake.Job),
	}}
}

func (b *BakerBuilder) UseLogger(l Logger) *BakerBuilder {
	b.baker.log = l
	return b
}

// UseRenderPass replaces the default WorldColorPass.
func (b *BakerBuilder) UseRenderPass(p bake.RenderPass) *BakerBuilder {
	b.baker.pass = p
	return b
}

// UseRenderLock shares the render-manager lock with the interactive renderer. Background jobs
// take it around the cache swap.
func (b *BakerBuilder) UseRenderLock(lock *semaphore.Weighted) *BakerBuilder {
	b.baker.renderLock = lock
	return b
}

func (b *BakerBuilder) UseGraphProvider(p depsgraph.Provider) *BakerBuilder {
	b.baker.graphs = p
	return b
}

// UseWorkers sets how many background jobs may run at once.
func (b *BakerBuilder) UseWorkers(n int) *BakerBuilder {
	b.baker.workers = max(1, n)
	return b
}

func (b *BakerBuilder) Build() *Baker {
	baker := b.baker
	if baker.log == nil {
		baker.log = NewDefaultLogger("lightcache", false)
	}
	if baker.graphs == nil {
		baker.graphs = depsgraph.NewCopyProvider()
	}
	if baker.pass == nil {
		baker.pass = NewWorldColorPass(baker.factory)
	}
	if baker.renderLock == nil {
		if wp, ok := baker.contexts.(*gpu.WgpuContextProvider); ok {
			baker.renderLock = wp.RenderLock()
		} else {
			baker.renderLock = semaphore.NewWeighted(1)
		}
	}
	return baker
}

// AllocateJobData prepares a bake of scene. background selects a dedicated rendering context;
// such jobs must be run off the interactive thread, which Start does.
func (b *Baker) AllocateJobData(main *core.Main, layer *core.ViewLayer, scene *core.Scene, background bool) (*bake.Job, error) {
	if main != nil && scene != nil {
		if registered, ok := main.Scene(scene.Name); !ok || registered != scene {
			return nil, fmt.Errorf("%w: %q", ErrUnknownScene, scene.Name)
		}
	}
	j, err := bake.NewJob(bake.Config{
		Scene:      scene,
		ViewLayer:  layer,
		Graphs:     b.graphs,
		Factory:    b.factory,
		Contexts:   b.contexts,
		Pass:       b.pass,
		Background: background,
		CacheLock:  b.renderLock,
		Logger:     b.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to allocate bake job: %w", err)
	}
	b.mu.Lock()
	b.jobs[j.ID()] = j
	b.mu.Unlock()
	return j, nil
}

// FreeJobData releases everything the job still holds.
func (b *Baker) FreeJobData(j *bake.Job) {
	if j == nil {
		return
	}
	b.mu.Lock()
	delete(b.jobs, j.ID())
	b.mu.Unlock()
	j.Free()
}

// RunJob bakes on the calling goroutine and blocks until the job is torn down.
func (b *Baker) RunJob(ctx context.Context, j *bake.Job, p *bake.Progress) error {
	if !b.owns(j) {
		return ErrUnknownJob
	}
	b.log.Infof("bake %s started", j.ID())
	err := j.Run(ctx, p)
	switch {
	case err != nil:
		b.log.Errorf("bake %s failed: %v", j.ID(), err)
	case j.Cancelled():
		b.log.Infof("bake %s cancelled", j.ID())
	default:
		b.log.Infof("bake %s done", j.ID())
	}
	return err
}

// NotifyUpdate tags the job's scene for re-evaluation so viewers pick up new cache contents.
func (b *Baker) NotifyUpdate(j *bake.Job) {
	if b.owns(j) {
		j.NotifyUpdate()
	}
}

// Jobs is the number of allocated, not yet freed jobs.
func (b *Baker) Jobs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.jobs)
}

func (b *Baker) owns(j *bake.Job) bool {
	if j == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.jobs[j.ID()] == j
}
