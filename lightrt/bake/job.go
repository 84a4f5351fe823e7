// Package bake runs light bakes: it sizes and allocates the capture targets, keeps the scene's
// light cache matching the current settings and drives the world, grid and cube captures
// through a RenderPass.
package bake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gekko3d/lightcache/internal/logging"
	"github.com/gekko3d/lightcache/lightrt/cache"
	"github.com/gekko3d/lightcache/lightrt/core"
	"github.com/gekko3d/lightcache/lightrt/depsgraph"
	"github.com/gekko3d/lightcache/lightrt/gpu"
	"github.com/gekko3d/lightcache/lightrt/probe"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

var (
	ErrContextAcquisition = errors.New("bake: failed to acquire rendering context")
	ErrContextReentered   = errors.New("bake: rendering context entered twice")
	ErrInvalidConfig      = errors.New("bake: invalid job config")
	ErrAlreadyRun         = errors.New("bake: job already ran")
	ErrFreed              = errors.New("bake: job data freed")
)

// Config describes one bake.
type Config struct {
	Scene     *core.Scene
	ViewLayer *core.ViewLayer

	Graphs   depsgraph.Provider
	Factory  gpu.Factory
	Contexts gpu.ContextProvider
	Pass     RenderPass

	// Background selects a dedicated context and companion for the job instead of the
	// interactive one. It is fixed for the job's lifetime.
	Background bool
	// CacheLock serializes the cache swap against interactive drawing when baking in the
	// background. The interactive mode already holds it through EnterInteractive.
	CacheLock *semaphore.Weighted

	Logger logging.Logger
}

func (c Config) validate() error {
	switch {
	case c.Scene == nil:
		return fmt.Errorf("%w: no scene", ErrInvalidConfig)
	case c.Graphs == nil:
		return fmt.Errorf("%w: no dependency graph provider", ErrInvalidConfig)
	case c.Factory == nil:
		return fmt.Errorf("%w: no resource factory", ErrInvalidConfig)
	case c.Contexts == nil:
		return fmt.Errorf("%w: no context provider", ErrInvalidConfig)
	case c.Pass == nil:
		return fmt.Errorf("%w: no render pass", ErrInvalidConfig)
	}
	return nil
}

// Job is one light bake. Create it with NewJob, run it once with Run and release it with Free.
type Job struct {
	id    string
	cfg   Config
	log   logging.Logger
	graph depsgraph.Graph
	state atomic.Int32
	freed bool
	ran   bool
	runMu sync.Mutex

	// infoMu guards what hosts may poll while Run is in flight.
	infoMu    sync.Mutex
	hist      []State
	counts    probe.Counts
	inventory probe.Inventory
	cancelled bool

	// Dedicated context mode. The companion is created on first entry.
	glctx     gpu.Context
	companion gpu.Companion
	entered   bool

	pool cache.PoolSize
	lc   *cache.LightCache

	rtRes    int
	rtColor  gpu.Texture
	rtDepth  gpu.Texture
	rtFB     [6]gpu.Framebuffer
	gridPrev gpu.Texture

	bounce      int
	bounceCount int
	captures    int
	done        int
}

// NewJob builds the job's private dependency graph and, for background jobs, its dedicated
// context.
func NewJob(cfg Config) (*Job, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	j := &Job{
		id:  uuid.NewString(),
		cfg: cfg,
		log: logging.OrNop(cfg.Logger),
	}
	j.record(StateCreated)

	graph, err := cfg.Graphs.Build(cfg.Scene, cfg.ViewLayer)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}
	if err := cfg.Graphs.UpdateRelations(graph); err != nil {
		cfg.Graphs.Destroy(graph)
		return nil, fmt.Errorf("failed to update graph relations: %w", err)
	}
	j.graph = graph

	if cfg.Background {
		ctx, err := cfg.Contexts.CreateBackgroundContext()
		if err != nil {
			cfg.Graphs.Destroy(graph)
			return nil, fmt.Errorf("%w: %w", ErrContextAcquisition, err)
		}
		j.glctx = ctx
	}
	j.log.Debugf("bake %s: allocated for scene %q (background=%v)", j.id, cfg.Scene.Name, cfg.Background)
	return j, nil
}

func (j *Job) ID() string { return j.id }

func (j *Job) State() State { return State(j.state.Load()) }

// History lists every state the job entered, in order.
func (j *Job) History() []State {
	j.infoMu.Lock()
	defer j.infoMu.Unlock()
	return append([]State(nil), j.hist...)
}

// Cancelled reports whether Run ended early on a stop request.
func (j *Job) Cancelled() bool {
	j.infoMu.Lock()
	defer j.infoMu.Unlock()
	return j.cancelled
}

// Counts is zero until Run has counted the probes.
func (j *Job) Counts() probe.Counts {
	j.infoMu.Lock()
	defer j.infoMu.Unlock()
	return j.counts
}

// Inventory is empty until Run has gathered the probes.
func (j *Job) Inventory() probe.Inventory {
	j.infoMu.Lock()
	defer j.infoMu.Unlock()
	return j.inventory
}

func (j *Job) record(s State) {
	j.state.Store(int32(s))
	j.infoMu.Lock()
	j.hist = append(j.hist, s)
	j.infoMu.Unlock()
}

// NotifyUpdate tags the scene for re-evaluation after the cache changed.
func (j *Job) NotifyUpdate() {
	j.cfg.Graphs.TagForReEvaluation(j.cfg.Scene)
}

// Free destroys the dependency graph and, if Run never tore it down, the dedicated context.
// It is safe to call more than once.
func (j *Job) Free() {
	j.runMu.Lock()
	defer j.runMu.Unlock()
	if j.freed {
		return
	}
	j.freed = true
	if j.glctx != nil {
		j.cfg.Contexts.DisposeContext(j.glctx)
		j.glctx = nil
	}
	if j.graph != nil {
		j.cfg.Graphs.Destroy(j.graph)
		j.graph = nil
	}
}

// ============== CONTEXT ==============

// withContext runs fn with the job's rendering context current and always leaves it.
func (j *Job) withContext(ctx context.Context, fn func() error) error {
	if j.entered {
		return ErrContextReentered
	}
	if err := j.enter(ctx); err != nil {
		j.log.Errorf("bake %s: %v", j.id, err)
		return fmt.Errorf("%w: %w", ErrContextAcquisition, err)
	}
	j.entered = true
	defer func() {
		j.leave()
		j.entered = false
	}()
	return fn()
}

func (j *Job) enter(ctx context.Context) error {
	if j.glctx == nil {
		return j.cfg.Contexts.EnterInteractive(ctx)
	}
	if err := j.cfg.Contexts.EnterContext(j.glctx); err != nil {
		return err
	}
	if j.companion == nil {
		companion, err := j.cfg.Contexts.CreateCompanionContext()
		if err != nil {
			j.cfg.Contexts.LeaveContext(j.glctx)
			return err
		}
		j.companion = companion
	}
	if err := j.cfg.Contexts.EnterCompanion(j.companion); err != nil {
		j.cfg.Contexts.LeaveContext(j.glctx)
		return err
	}
	return nil
}

func (j *Job) leave() {
	if j.glctx == nil {
		j.cfg.Contexts.LeaveInteractive()
		return
	}
	j.cfg.Contexts.LeaveCompanion(j.companion)
	j.cfg.Contexts.LeaveContext(j.glctx)
}

// ============== RUN ==============

// Run evaluates the scene, bakes it and tears down every working resource. It blocks until
// done. A stop request on p (or ctx being done) ends the bake between captures; Run then
// returns nil and Cancelled reports true. Captures already written stay in the cache.
func (j *Job) Run(ctx context.Context, p *Progress) (err error) {
	j.runMu.Lock()
	defer j.runMu.Unlock()
	if j.freed {
		return ErrFreed
	}
	if j.ran {
		return ErrAlreadyRun
	}
	j.ran = true
	if p == nil {
		p = &Progress{}
	}

	defer func() {
		j.teardown()
		j.record(StateFinished)
	}()
	// A context refused because ctx is done is a stop, not a failure.
	defer func() {
		if err != nil && errors.Is(err, ErrContextAcquisition) && ctx.Err() != nil {
			j.stopRequested(ctx, p)
			err = nil
		}
	}()

	settings := j.cfg.Scene.Settings
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := j.cfg.Graphs.EvaluateAtFrame(j.graph, settings.Frame); err != nil {
		return fmt.Errorf("failed to evaluate scene: %w", err)
	}

	counts := probe.Count(j.graph)
	j.infoMu.Lock()
	j.counts = counts
	j.infoMu.Unlock()
	j.log.Debugf("bake %s: %s", j.id, counts)

	if j.stopRequested(ctx, p) {
		return nil
	}
	if err := j.withContext(ctx, func() error { return j.createResources(ctx, settings) }); err != nil {
		return err
	}
	j.record(StateResourcesBuilt)

	inv, err := probe.Gather(j.graph, j.lc, j.counts)
	if err != nil {
		return err
	}
	j.infoMu.Lock()
	j.inventory = inv
	j.infoMu.Unlock()

	j.bounceCount = max(1, settings.DiffuseBounces)
	j.captures = (j.counts.Grids-1)*j.bounceCount + (j.counts.Cubes - 1)
	if j.lc.Flags.Has(cache.FlagUpdateWorld) {
		j.captures++
		if err := j.withContext(ctx, j.bakeWorld); err != nil {
			return err
		}
		p.signalUpdate()
		j.progressed(p)
	}
	j.record(StateWorldBaked)

	if j.stopRequested(ctx, p) {
		return nil
	}
	if stopped, err := j.bakeGrids(ctx, p); err != nil || stopped {
		return err
	}
	if stopped, err := j.bakeCubes(ctx, p); err != nil || stopped {
		return err
	}

	j.lc.ClearFlag(cache.FlagUpdateGrid | cache.FlagUpdateCube | cache.FlagBaking)
	j.lc.SetFlag(cache.FlagBaked)
	p.setFraction(1)
	j.log.Infof("bake %s: finished %d captures", j.id, j.done)
	return nil
}

func (j *Job) stopRequested(ctx context.Context, p *Progress) bool {
	if !p.Stopped() && ctx.Err() == nil {
		return false
	}
	j.infoMu.Lock()
	first := !j.cancelled
	j.cancelled = true
	j.infoMu.Unlock()
	if first {
		j.log.Infof("bake %s: cancelled after %d of %d captures", j.id, j.done, j.captures)
	}
	if j.lc != nil {
		j.lc.ClearFlag(cache.FlagBaking)
	}
	return true
}

func (j *Job) progressed(p *Progress) {
	j.done++
	if j.captures > 0 {
		p.setFraction(float32(j.done) / float32(j.captures))
	}
}

func (j *Job) requirements(s core.Settings) cache.Requirements {
	return cache.Requirements{
		Encoding:             s.IrradianceEncoding,
		VisibilityResolution: s.VisibilityResolution,
		CubeResolution:       s.CubemapResolution,
		GridCount:            j.counts.Grids,
		CubeCount:            j.counts.Cubes,
		IrradianceSamples:    j.counts.IrradianceSamples,
	}
}

func (j *Job) createResources(ctx context.Context, s core.Settings) error {
	f := j.cfg.Factory
	j.rtRes = s.CubemapResolution

	var err error
	j.rtDepth, err = f.CreateTextureCube(gpu.TextureDesc{
		Label:  "Bake Cube Depth",
		Width:  j.rtRes,
		Height: j.rtRes,
		Format: gpu.FormatDepth24,
	})
	if err != nil {
		return fmt.Errorf("failed to create cube depth target: %w", err)
	}
	j.rtColor, err = f.CreateTextureCube(gpu.TextureDesc{
		Label:  "Bake Cube Color",
		Width:  j.rtRes,
		Height: j.rtRes,
		Format: gpu.FormatRGBA16F,
		Flags:  gpu.TextureFilter | gpu.TextureMipmap,
	})
	if err != nil {
		return fmt.Errorf("failed to create cube color target: %w", err)
	}
	for i := range j.rtFB {
		j.rtFB[i], err = f.CreateFramebuffer(fmt.Sprintf("Bake Cube Face %d", i),
			gpu.Attachment{Texture: j.rtDepth, Layer: i},
			gpu.Attachment{Texture: j.rtColor, Layer: i},
		)
		if err != nil {
			return fmt.Errorf("failed to create cube face framebuffer %d: %w", i, err)
		}
	}

	j.pool, err = cache.SizePool(s.IrradianceEncoding, s.VisibilityResolution, j.counts.IrradianceSamples)
	if err != nil {
		return err
	}
	j.log.Debugf("bake %s: irradiance pool %s", j.id, j.pool)
	if c := j.pool.Capacity(); c < j.counts.IrradianceSamples {
		j.log.Warnf("bake %s: irradiance pool holds %d of %d samples, the rest are not baked",
			j.id, c, j.counts.IrradianceSamples)
	}
	j.gridPrev, err = f.CreateTexture2DArray(gpu.TextureDesc{
		Label:  "Bake Previous Bounce",
		Width:  j.pool.Width,
		Height: j.pool.Height,
		Layers: j.pool.Layers,
		Format: s.IrradianceEncoding.Format(),
		Flags:  gpu.TextureFilter,
		Fill:   &cache.UnbakedColor,
	})
	if err != nil {
		return fmt.Errorf("failed to create bounce accumulator: %w", err)
	}

	if err := j.ensureCache(ctx, j.requirements(s)); err != nil {
		return err
	}
	if _, err := cache.AllocateAtlases(f, j.lc); err != nil {
		return err
	}
	// Every probe is rewritten, so nothing is authoritative until its pass completes.
	j.lc.ClearFlag(cache.FlagGridReady | cache.FlagCubeReady | cache.FlagBaked)
	j.lc.SetFlag(cache.FlagUpdateGrid | cache.FlagUpdateCube | cache.FlagBaking)
	return nil
}

// ensureCache replaces a stale scene cache with a fresh one. The swap happens under the
// render lock so the interactive renderer never reads a destroyed cache.
func (j *Job) ensureCache(ctx context.Context, req cache.Requirements) error {
	slot := j.cfg.Scene.Cache
	if slot == nil {
		return fmt.Errorf("%w: scene %q has no cache slot", ErrInvalidConfig, j.cfg.Scene.Name)
	}
	if lc := slot.Load(); cache.Validate(lc, req) {
		j.lc = lc
		return nil
	}

	lc, err := cache.Create(j.cfg.Factory, req)
	if err != nil {
		return fmt.Errorf("failed to create light cache: %w", err)
	}
	if j.glctx != nil && j.cfg.CacheLock != nil {
		if err := j.cfg.CacheLock.Acquire(ctx, 1); err != nil {
			cache.Destroy(j.cfg.Factory, lc)
			return fmt.Errorf("%w: %w", ErrContextAcquisition, err)
		}
		defer j.cfg.CacheLock.Release(1)
	}
	old := slot.Replace(lc)
	cache.Destroy(j.cfg.Factory, old)
	j.lc = lc
	j.log.Infof("bake %s: light cache recreated (%d grids, %d cubes, %d samples)",
		j.id, req.GridCount, req.CubeCount, req.IrradianceSamples)
	return nil
}

func (j *Job) frame(c Capture, index int) *FrameData {
	fd := &FrameData{
		Capture:    c,
		Index:      index,
		Scene:      j.graph.EvaluatedScene(),
		Objects:    j.graph.Objects(),
		Cache:      j.lc,
		Pool:       j.pool,
		Factory:    j.cfg.Factory,
		Faces:      j.rtFB,
		Color:      j.rtColor,
		Depth:      j.rtDepth,
		PrevBounce: j.gridPrev,
		LodMax:     float32(gpu.MipCount(j.rtRes) - 1),
	}
	near, far := float32(0.1), float32(100)
	switch c {
	case CaptureGrid:
		fd.Bounce = j.bounce
		fd.Probe = j.inventory.Grids[index]
		fd.Position = fd.Probe.Local.Position
	case CaptureCube:
		fd.Probe = j.inventory.Cubes[index]
		rec := j.lc.Cubes[index]
		fd.Position = rec.Position
		near, far = rec.ClipStart, rec.ClipEnd
	}
	fd.ViewProj = CubeFaceViewProj(fd.Position, near, far)
	return fd
}

func (j *Job) bakeWorld() error {
	if err := j.cfg.Pass.RenderWorldPass(j.frame(CaptureWorld, 0)); err != nil {
		return fmt.Errorf("failed to render world: %w", err)
	}
	j.lc.ClearFlag(cache.FlagUpdateWorld)
	return nil
}

// bakeGrids runs the diffuse bounces. After every bounce the irradiance atlas is copied into
// the accumulator the next bounce reads from.
func (j *Job) bakeGrids(ctx context.Context, p *Progress) (stopped bool, err error) {
	if j.counts.Grids <= 1 {
		j.lc.SetFlag(cache.FlagGridReady)
		return false, nil
	}
	j.record(StateGridBaking)
	for j.bounce = 0; j.bounce < j.bounceCount; j.bounce++ {
		for i := 1; i < j.counts.Grids; i++ {
			err := j.withContext(ctx, func() error {
				return j.cfg.Pass.RenderProbePass(j.frame(CaptureGrid, i))
			})
			if err != nil {
				return false, fmt.Errorf("failed to render grid %d bounce %d: %w", i, j.bounce, err)
			}
			j.progressed(p)
			if j.stopRequested(ctx, p) {
				return true, nil
			}
		}
		err := j.withContext(ctx, func() error {
			return j.cfg.Factory.CopyTexture(j.lc.IrradianceAtlas, j.gridPrev)
		})
		if err != nil {
			return false, fmt.Errorf("failed to store bounce %d: %w", j.bounce, err)
		}
		p.signalUpdate()
		j.log.Debugf("bake %s: bounce %d/%d done", j.id, j.bounce+1, j.bounceCount)
	}
	j.lc.ClearFlag(cache.FlagUpdateGrid)
	j.lc.SetFlag(cache.FlagGridReady)
	return false, nil
}

func (j *Job) bakeCubes(ctx context.Context, p *Progress) (stopped bool, err error) {
	if j.counts.Cubes <= 1 {
		j.lc.SetFlag(cache.FlagCubeReady)
		return false, nil
	}
	j.record(StateCubeBaking)
	for i := 1; i < j.counts.Cubes; i++ {
		err := j.withContext(ctx, func() error {
			return j.cfg.Pass.RenderProbePass(j.frame(CaptureCube, i))
		})
		if err != nil {
			return false, fmt.Errorf("failed to render cube %d: %w", i, err)
		}
		p.signalUpdate()
		j.progressed(p)
		if j.stopRequested(ctx, p) {
			return true, nil
		}
	}
	j.lc.ClearFlag(cache.FlagUpdateCube)
	j.lc.SetFlag(cache.FlagCubeReady)
	return false, nil
}

// ============== TEARDOWN ==============

func (j *Job) hasResources() bool {
	if j.rtColor != nil || j.rtDepth != nil || j.gridPrev != nil {
		return true
	}
	for _, fb := range j.rtFB {
		if fb != nil {
			return true
		}
	}
	return false
}

// teardown frees the working resources and destroys the dedicated context from within itself.
// Resources are freed even if the context cannot be entered.
func (j *Job) teardown() {
	f := j.cfg.Factory
	needsContext := j.hasResources() || j.companion != nil

	entered := false
	if needsContext {
		var err error
		if j.glctx == nil {
			err = j.cfg.Contexts.EnterInteractive(context.Background())
		} else if err = j.cfg.Contexts.EnterContext(j.glctx); err == nil && j.companion != nil {
			if err = j.cfg.Contexts.EnterCompanion(j.companion); err != nil {
				j.cfg.Contexts.LeaveContext(j.glctx)
			}
		}
		entered = err == nil
		if !entered {
			j.log.Warnf("bake %s: tearing down without a current context: %v", j.id, err)
		}
	}

	gpu.FreeTexture(f, &j.rtDepth)
	gpu.FreeTexture(f, &j.rtColor)
	gpu.FreeTexture(f, &j.gridPrev)
	for i := range j.rtFB {
		gpu.FreeFramebuffer(f, &j.rtFB[i])
	}

	if j.glctx == nil {
		if entered {
			j.cfg.Contexts.LeaveInteractive()
		}
	} else {
		if j.companion != nil {
			j.cfg.Contexts.DiscardCompanionContext(j.companion)
			j.companion = nil
		}
		if entered {
			j.cfg.Contexts.LeaveContext(j.glctx)
		}
		j.cfg.Contexts.DisposeContext(j.glctx)
		j.glctx = nil
	}
	j.record(StateResourcesTornDown)
}
