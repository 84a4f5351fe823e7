package lightcache

import (
	"fmt"

	"github.com/gekko3d/lightcache/lightrt/bake"
	"github.com/gekko3d/lightcache/lightrt/gpu"
)

// WorldColorPass is the render pass used when the host brings none. It lights every capture
// with the scene's uniform world color: the cube faces are cleared to it and the captured
// slots of the cache atlases are filled with it.
type WorldColorPass struct {
	factory gpu.Factory
}

func NewWorldColorPass(f gpu.Factory) *WorldColorPass {
	return &WorldColorPass{factory: f}
}

func (p *WorldColorPass) color(fd *bake.FrameData) [4]float32 {
	c := fd.Scene.Settings.WorldColor
	return [4]float32{c.X(), c.Y(), c.Z(), 1}
}

func (p *WorldColorPass) clearFaces(fd *bake.FrameData, color [4]float32) error {
	for i, fb := range fd.Faces {
		if err := p.factory.ClearFramebuffer(fb, color); err != nil {
			return fmt.Errorf("failed to clear cube face %d: %w", i, err)
		}
	}
	return nil
}

// fillLayer clears one layer of an atlas through a temporary framebuffer.
func (p *WorldColorPass) fillLayer(tex gpu.Texture, layer int, color [4]float32) error {
	fb, err := p.factory.CreateFramebuffer(fmt.Sprintf("%s layer %d", tex.Label(), layer),
		gpu.Attachment{Texture: tex, Layer: layer})
	if err != nil {
		return err
	}
	defer gpu.FreeFramebuffer(p.factory, &fb)
	return p.factory.ClearFramebuffer(fb, color)
}

func (p *WorldColorPass) RenderWorldPass(fd *bake.FrameData) error {
	color := p.color(fd)
	if err := p.clearFaces(fd, color); err != nil {
		return err
	}
	if err := p.fillLayer(fd.Cache.ReflectionAtlas, 0, color); err != nil {
		return fmt.Errorf("failed to store world reflection: %w", err)
	}
	if _, _, layer, ok := fd.Pool.Locate(0); ok {
		if err := p.fillLayer(fd.Cache.IrradianceAtlas, layer, color); err != nil {
			return fmt.Errorf("failed to store world irradiance: %w", err)
		}
	}
	return nil
}

func (p *WorldColorPass) RenderProbePass(fd *bake.FrameData) error {
	color := p.color(fd)
	if err := p.clearFaces(fd, color); err != nil {
		return err
	}
	switch fd.Capture {
	case bake.CaptureCube:
		if fd.Index < fd.Cache.ReflectionAtlas.Layers() {
			return p.fillLayer(fd.Cache.ReflectionAtlas, fd.Index, color)
		}
	case bake.CaptureGrid:
		// Without geometry every sample of the grid sees the world.
		rec := fd.Cache.Grids[fd.Index]
		if _, _, layer, ok := fd.Pool.Locate(int(rec.Offset)); ok {
			return p.fillLayer(fd.Cache.IrradianceAtlas, layer, color)
		}
	}
	return nil
}
