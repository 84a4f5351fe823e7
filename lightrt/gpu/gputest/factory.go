// Package gputest provides an in-memory GPU backend that records every resource and context
// operation. It backs the unit tests and the headless bake mode.
package gputest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gekko3d/lightcache/lightrt/gpu"
)

var ErrInjected = errors.New("gputest: injected failure")

type Texture struct {
	desc      gpu.TextureDesc
	cube      bool
	destroyed bool
	// Texels holds the per-layer value last written by Fill, Clear or Copy.
	Texels [][4]float32
}

func (t *Texture) Label() string      { return t.desc.Label }
func (t *Texture) Width() int         { return t.desc.Width }
func (t *Texture) Height() int        { return t.desc.Height }
func (t *Texture) Layers() int        { return t.desc.Layers }
func (t *Texture) Format() gpu.Format { return t.desc.Format }
func (t *Texture) IsCube() bool       { return t.cube }
func (t *Texture) Destroyed() bool    { return t.destroyed }

type Framebuffer struct {
	label     string
	color     *gpu.Attachment
	depth     *gpu.Attachment
	destroyed bool
}

func (fb *Framebuffer) Label() string          { return fb.label }
func (fb *Framebuffer) Color() *gpu.Attachment { return fb.color }
func (fb *Framebuffer) Depth() *gpu.Attachment { return fb.depth }
func (fb *Framebuffer) Destroyed() bool        { return fb.destroyed }

// Factory is a recording gpu.Factory. It is safe for concurrent use.
type Factory struct {
	mu sync.Mutex

	textures     []*Texture
	framebuffers []*Framebuffer
	clears       int
	copies       int

	// FailTextureLabel makes texture creation with this label fail.
	FailTextureLabel string
}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) CreateTexture2DArray(desc gpu.TextureDesc) (gpu.Texture, error) {
	return f.create(desc, false)
}

func (f *Factory) CreateTextureCube(desc gpu.TextureDesc) (gpu.Texture, error) {
	if desc.Width != desc.Height {
		return nil, gpu.ErrInvalidTextureSize
	}
	desc.Layers = 6
	return f.create(desc, true)
}

func (f *Factory) create(desc gpu.TextureDesc, cube bool) (gpu.Texture, error) {
	if desc.Width <= 0 || desc.Height <= 0 || desc.Layers <= 0 {
		return nil, fmt.Errorf("%s: %w", desc.Label, gpu.ErrInvalidTextureSize)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailTextureLabel != "" && f.FailTextureLabel == desc.Label {
		return nil, fmt.Errorf("create %s: %w", desc.Label, ErrInjected)
	}

	t := &Texture{desc: desc, cube: cube, Texels: make([][4]float32, desc.Layers)}
	if desc.Fill != nil {
		for i := range t.Texels {
			t.Texels[i] = *desc.Fill
		}
	}
	f.textures = append(f.textures, t)
	return t, nil
}

func (f *Factory) DestroyTexture(tex gpu.Texture) {
	t, ok := tex.(*Texture)
	if !ok || t == nil {
		return
	}
	f.mu.Lock()
	t.destroyed = true
	f.mu.Unlock()
}

func (f *Factory) CreateFramebuffer(label string, attachments ...gpu.Attachment) (gpu.Framebuffer, error) {
	if len(attachments) == 0 {
		return nil, gpu.ErrNoAttachments
	}
	fb := &Framebuffer{label: label}
	for i := range attachments {
		a := attachments[i]
		t, ok := a.Texture.(*Texture)
		if !ok || t == nil || t.destroyed {
			return nil, gpu.ErrForeignHandle
		}
		if t.desc.Format == gpu.FormatDepth24 {
			fb.depth = &a
		} else {
			fb.color = &a
		}
	}
	f.mu.Lock()
	f.framebuffers = append(f.framebuffers, fb)
	f.mu.Unlock()
	return fb, nil
}

func (f *Factory) DestroyFramebuffer(fb gpu.Framebuffer) {
	r, ok := fb.(*Framebuffer)
	if !ok || r == nil {
		return
	}
	f.mu.Lock()
	r.destroyed = true
	f.mu.Unlock()
}

func (f *Factory) ClearFramebuffer(fb gpu.Framebuffer, color [4]float32) error {
	r, ok := fb.(*Framebuffer)
	if !ok || r == nil || r.destroyed {
		return gpu.ErrForeignHandle
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	if r.color != nil {
		if t, ok := r.color.Texture.(*Texture); ok {
			t.Texels[r.color.Layer] = color
		}
	}
	return nil
}

func (f *Factory) CopyTexture(src, dst gpu.Texture) error {
	s, ok1 := src.(*Texture)
	d, ok2 := dst.(*Texture)
	if !ok1 || !ok2 || s.destroyed || d.destroyed {
		return gpu.ErrForeignHandle
	}
	if s.Width() != d.Width() || s.Height() != d.Height() || s.Layers() != d.Layers() {
		return gpu.ErrInvalidTextureSize
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies++
	copy(d.Texels, s.Texels)
	return nil
}

// LiveTextures counts textures created and not yet destroyed.
func (f *Factory) LiveTextures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.textures {
		if !t.destroyed {
			n++
		}
	}
	return n
}

// LiveFramebuffers counts framebuffers created and not yet destroyed.
func (f *Factory) LiveFramebuffers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, fb := range f.framebuffers {
		if !fb.destroyed {
			n++
		}
	}
	return n
}

// Textures returns every texture ever created, in creation order.
func (f *Factory) Textures() []*Texture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Texture(nil), f.textures...)
}

func (f *Factory) Clears() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

func (f *Factory) Copies() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.copies
}
