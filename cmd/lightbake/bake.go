package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gekko3d/lightcache"
	"github.com/gekko3d/lightcache/lightrt/bake"
	"github.com/gekko3d/lightcache/lightrt/cache"
	"github.com/gekko3d/lightcache/lightrt/core"
	"github.com/gekko3d/lightcache/lightrt/gpu"
	"github.com/gekko3d/lightcache/lightrt/gpu/gputest"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/urfave/cli"
)

type sceneOptions struct {
	grids, gridRes, cubes int
}

// demoScene places grids along +X and reflection probes along +Z over a floor.
func demoScene(opts sceneOptions, settings core.Settings) *core.Scene {
	sc := core.NewScene("Demo")
	sc.Settings = settings
	sc.Add(&core.Object{Name: "Floor", Type: core.ObjectMesh, Local: core.NewTransform()})
	for i := range opts.grids {
		tr := core.At(mgl32.Vec3{float32(i) * 4, 1, 0})
		tr.Scale = mgl32.Vec3{2, 1, 2}
		sc.Add(&core.Object{
			Name:  fmt.Sprintf("IrradianceVolume.%03d", i),
			Type:  core.ObjectLightProbe,
			Local: tr,
			Probe: core.NewGridProbe(opts.gridRes, opts.gridRes, opts.gridRes),
		})
	}
	for i := range opts.cubes {
		sc.Add(&core.Object{
			Name:  fmt.Sprintf("ReflectionCubemap.%03d", i),
			Type:  core.ObjectLightProbe,
			Local: core.At(mgl32.Vec3{0, 1, float32(i) * 4}),
			Probe: core.NewCubeProbe(),
		})
	}
	return sc
}

func parseColor(s string) (mgl32.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return mgl32.Vec3{}, fmt.Errorf("color %q: want r,g,b", s)
	}
	var c mgl32.Vec3
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return mgl32.Vec3{}, fmt.Errorf("color %q: %w", s, err)
		}
		c[i] = float32(v)
	}
	return c, nil
}

func settingsFromFlags(ctx *cli.Context) (core.Settings, error) {
	s := core.DefaultSettings()
	s.DiffuseBounces = ctx.Int("bounces")
	s.CubemapResolution = ctx.Int("cubemap-res")
	s.VisibilityResolution = ctx.Int("visibility-res")

	enc, err := cache.ParseEncoding(ctx.String("encoding"))
	if err != nil {
		return s, err
	}
	s.IrradianceEncoding = enc
	if s.WorldColor, err = parseColor(ctx.String("world")); err != nil {
		return s, err
	}
	return s, s.Validate()
}

// Bake is the bake command.
func Bake(ctx *cli.Context) error {
	log := lightcache.NewDefaultLogger("lightbake", ctx.GlobalBool("v"))

	settings, err := settingsFromFlags(ctx)
	if err != nil {
		return err
	}
	sc := demoScene(sceneOptions{
		grids:   ctx.Int("grids"),
		gridRes: ctx.Int("grid-res"),
		cubes:   ctx.Int("cubes"),
	}, settings)
	m := core.NewMain()
	m.AddScene(sc)

	var (
		factory  gpu.Factory
		contexts gpu.ContextProvider
	)
	if ctx.Bool("headless") {
		factory = gputest.NewFactory()
		contexts = gputest.NewContextProvider()
	} else {
		state, err := createGpuState()
		if err != nil {
			return err
		}
		defer state.release()
		factory = gpu.NewWgpuFactory(state.device)
		contexts = gpu.NewWgpuContextProvider(state.device, nil)
	}

	baker := lightcache.NewBakerBuilder(factory, contexts).UseLogger(log).Build()
	defer baker.Close()

	job, err := baker.AllocateJobData(m, nil, sc, ctx.Bool("background"))
	if err != nil {
		return err
	}
	defer baker.FreeJobData(job)

	progress := &bake.Progress{}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	start := time.Now()
	if ctx.Bool("background") {
		err = wait(baker, job, progress, sig, log)
	} else {
		go func() {
			if _, ok := <-sig; ok {
				progress.Stop()
			}
		}()
		err = baker.RunJob(context.Background(), job, progress)
	}
	if err != nil {
		return err
	}
	if progress.TakeUpdate() {
		baker.NotifyUpdate(job)
	}
	log.Infof("%s in %v", job.Counts(), time.Since(start).Round(time.Millisecond))

	if out := ctx.String("layout-preview"); out != "" {
		return writePreview(sc.Cache.Load(), out)
	}
	return nil
}

// wait polls a background bake, forwarding interrupts and cache updates.
func wait(baker *lightcache.Baker, job *bake.Job, p *bake.Progress, sig <-chan os.Signal, log lightcache.Logger) error {
	done := baker.Start(context.Background(), job, p)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			return err
		case <-sig:
			log.Warnf("interrupt: stopping after the current capture")
			p.Stop()
		case <-ticker.C:
			if p.TakeUpdate() {
				baker.NotifyUpdate(job)
			}
			log.Debugf("%3.0f%%", p.Fraction()*100)
		}
	}
}

func writePreview(lc *cache.LightCache, path string) error {
	if lc == nil {
		return fmt.Errorf("no light cache to preview")
	}
	req := lc.Requirements()
	pool, err := cache.SizePool(req.Encoding, req.VisibilityResolution, req.IrradianceSamples)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	return lightcache.WritePreviewBMP(f, lightcache.LayoutPreview(pool, lc.Grids, 8))
}
