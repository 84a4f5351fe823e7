package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/x448/float16"
)

// WgpuFactory creates light-cache textures and capture framebuffers on a WebGPU device.
type WgpuFactory struct {
	Device *wgpu.Device
}

func NewWgpuFactory(device *wgpu.Device) *WgpuFactory {
	return &WgpuFactory{Device: device}
}

type wgpuTexture struct {
	desc    TextureDesc
	cube    bool
	texture *wgpu.Texture
}

func (t *wgpuTexture) Label() string  { return t.desc.Label }
func (t *wgpuTexture) Width() int     { return t.desc.Width }
func (t *wgpuTexture) Height() int    { return t.desc.Height }
func (t *wgpuTexture) Layers() int    { return t.desc.Layers }
func (t *wgpuTexture) Format() Format { return t.desc.Format }
func (t *wgpuTexture) IsCube() bool   { return t.cube }

type wgpuFramebuffer struct {
	label     string
	color     *Attachment
	depth     *Attachment
	colorView *wgpu.TextureView
	depthView *wgpu.TextureView
}

func (fb *wgpuFramebuffer) Label() string      { return fb.label }
func (fb *wgpuFramebuffer) Color() *Attachment { return fb.color }
func (fb *wgpuFramebuffer) Depth() *Attachment { return fb.depth }

func wgpuFormat(f Format) wgpu.TextureFormat {
	switch f {
	case FormatRGBA16F:
		return wgpu.TextureFormatRGBA16Float
	case FormatDepth24:
		return wgpu.TextureFormatDepth24Plus
	default:
		return wgpu.TextureFormatRGBA8Unorm
	}
}

func (f *WgpuFactory) CreateTexture2DArray(desc TextureDesc) (Texture, error) {
	return f.createTexture(desc, false)
}

func (f *WgpuFactory) CreateTextureCube(desc TextureDesc) (Texture, error) {
	if desc.Width != desc.Height {
		return nil, fmt.Errorf("%w: cube faces must be square, got %dx%d", ErrInvalidTextureSize, desc.Width, desc.Height)
	}
	desc.Layers = 6
	return f.createTexture(desc, true)
}

func (f *WgpuFactory) createTexture(desc TextureDesc, cube bool) (Texture, error) {
	if err := desc.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", desc.Label, err)
	}

	mips := 1
	if desc.Flags&TextureMipmap != 0 {
		mips = MipCount(max(desc.Width, desc.Height))
	}

	// Depth targets are never copied or uploaded.
	// Atlases and cube targets are both rendered into and copied.
	usage := wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding |
		wgpu.TextureUsageCopySrc | wgpu.TextureUsageCopyDst
	if desc.Format == FormatDepth24 {
		usage = wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding
	}

	tex, err := f.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label: desc.Label,
		Size: wgpu.Extent3D{
			Width:              uint32(desc.Width),
			Height:             uint32(desc.Height),
			DepthOrArrayLayers: uint32(desc.Layers),
		},
		MipLevelCount: uint32(mips),
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpuFormat(desc.Format),
		Usage:         usage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create texture %q: %w", desc.Label, err)
	}

	if desc.Fill != nil && desc.Format != FormatDepth24 {
		data := fillTexels(desc.Format, *desc.Fill, desc.Width*desc.Height*desc.Layers)
		f.Device.GetQueue().WriteTexture(tex.AsImageCopy(), data, &wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(desc.Width * desc.Format.BytesPerTexel()),
			RowsPerImage: uint32(desc.Height),
		}, &wgpu.Extent3D{
			Width:              uint32(desc.Width),
			Height:             uint32(desc.Height),
			DepthOrArrayLayers: uint32(desc.Layers),
		})
	}

	return &wgpuTexture{desc: desc, cube: cube, texture: tex}, nil
}

func (f *WgpuFactory) DestroyTexture(tex Texture) {
	t, ok := tex.(*wgpuTexture)
	if !ok || t == nil || t.texture == nil {
		return
	}
	t.texture.Release()
	t.texture = nil
}

func (f *WgpuFactory) CreateFramebuffer(label string, attachments ...Attachment) (Framebuffer, error) {
	if len(attachments) == 0 {
		return nil, fmt.Errorf("%s: %w", label, ErrNoAttachments)
	}

	fb := &wgpuFramebuffer{label: label}
	for i := range attachments {
		a := attachments[i]
		t, ok := a.Texture.(*wgpuTexture)
		if !ok || t == nil || t.texture == nil {
			f.DestroyFramebuffer(fb)
			return nil, fmt.Errorf("%s attachment %d: %w", label, i, ErrForeignHandle)
		}
		view, err := t.texture.CreateView(&wgpu.TextureViewDescriptor{
			Label:           fmt.Sprintf("%s layer %d", label, a.Layer),
			Format:          wgpuFormat(t.desc.Format),
			Dimension:       wgpu.TextureViewDimension2D,
			BaseMipLevel:    uint32(a.Mip),
			MipLevelCount:   1,
			BaseArrayLayer:  uint32(a.Layer),
			ArrayLayerCount: 1,
			Aspect:          wgpu.TextureAspectAll,
		})
		if err != nil {
			f.DestroyFramebuffer(fb)
			return nil, fmt.Errorf("failed to create view for %s: %w", label, err)
		}
		if t.desc.Format == FormatDepth24 {
			fb.depth, fb.depthView = &a, view
		} else {
			fb.color, fb.colorView = &a, view
		}
	}
	return fb, nil
}

func (f *WgpuFactory) DestroyFramebuffer(fb Framebuffer) {
	w, ok := fb.(*wgpuFramebuffer)
	if !ok || w == nil {
		return
	}
	if w.colorView != nil {
		w.colorView.Release()
		w.colorView = nil
	}
	if w.depthView != nil {
		w.depthView.Release()
		w.depthView = nil
	}
}

func (f *WgpuFactory) ClearFramebuffer(fb Framebuffer, color [4]float32) error {
	w, ok := fb.(*wgpuFramebuffer)
	if !ok || w == nil {
		return ErrForeignHandle
	}

	desc := &wgpu.RenderPassDescriptor{Label: w.label}
	if w.colorView != nil {
		desc.ColorAttachments = []wgpu.RenderPassColorAttachment{{
			View:    w.colorView,
			LoadOp:  wgpu.LoadOpClear,
			StoreOp: wgpu.StoreOpStore,
			ClearValue: wgpu.Color{
				R: float64(color[0]), G: float64(color[1]), B: float64(color[2]), A: float64(color[3]),
			},
		}}
	}
	if w.depthView != nil {
		desc.DepthStencilAttachment = &wgpu.RenderPassDepthStencilAttachment{
			View:            w.depthView,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: 1.0,
		}
	}

	encoder, err := f.Device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("failed to create command encoder: %w", err)
	}
	defer encoder.Release()

	pass := encoder.BeginRenderPass(desc)
	pass.End()
	pass.Release()

	return f.submit(encoder)
}

// CopyTexture copies every layer of mip 0 from src to dst. Both must have the same size.
func (f *WgpuFactory) CopyTexture(src, dst Texture) error {
	s, ok1 := src.(*wgpuTexture)
	d, ok2 := dst.(*wgpuTexture)
	if !ok1 || !ok2 || s.texture == nil || d.texture == nil {
		return ErrForeignHandle
	}
	if s.desc.Width != d.desc.Width || s.desc.Height != d.desc.Height || s.desc.Layers != d.desc.Layers {
		return fmt.Errorf("%w: copy %s -> %s size mismatch", ErrInvalidTextureSize, s.desc.Label, d.desc.Label)
	}

	encoder, err := f.Device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("failed to create command encoder: %w", err)
	}
	defer encoder.Release()

	encoder.CopyTextureToTexture(s.texture.AsImageCopy(), d.texture.AsImageCopy(), &wgpu.Extent3D{
		Width:              uint32(s.desc.Width),
		Height:             uint32(s.desc.Height),
		DepthOrArrayLayers: uint32(s.desc.Layers),
	})

	return f.submit(encoder)
}

func (f *WgpuFactory) submit(encoder *wgpu.CommandEncoder) error {
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("failed to finish command encoder: %w", err)
	}
	defer cmd.Release()
	f.Device.GetQueue().Submit(cmd)
	return nil
}

// fillTexels builds count texels of value in the given color format.
func fillTexels(format Format, value [4]float32, count int) []byte {
	bpt := format.BytesPerTexel()
	texel := make([]byte, bpt)
	for c := 0; c < 4; c++ {
		switch format {
		case FormatRGBA16F:
			binary.LittleEndian.PutUint16(texel[c*2:], float16.Fromfloat32(value[c]).Bits())
		default:
			v := math.Round(float64(min(max(value[c], 0), 1)) * 255)
			texel[c] = uint8(v)
		}
	}

	data := make([]byte, count*bpt)
	for i := 0; i < count; i++ {
		copy(data[i*bpt:], texel)
	}
	return data
}
