package gpu

import (
	"context"
	"errors"
)

var (
	ErrInvalidTextureSize = errors.New("gpu: invalid texture size")
	ErrNoAttachments      = errors.New("gpu: framebuffer needs at least one attachment")
	ErrForeignHandle      = errors.New("gpu: handle was not created by this backend")
	ErrContextBusy        = errors.New("gpu: interactive context is busy")
)

// Format is the texel format of a texture. Each backend maps it to its native enum.
type Format uint8

const (
	FormatRGBA8 Format = iota
	FormatRGBA16F
	FormatDepth24
)

func (f Format) String() string {
	switch f {
	case FormatRGBA8:
		return "RGBA8"
	case FormatRGBA16F:
		return "RGBA16F"
	case FormatDepth24:
		return "DEPTH24"
	}
	return "unknown"
}

// BytesPerTexel of the uncompressed format.
func (f Format) BytesPerTexel() int {
	switch f {
	case FormatRGBA16F:
		return 8
	default:
		return 4
	}
}

type TextureFlags uint8

const (
	TextureFilter TextureFlags = 1 << iota
	TextureMipmap
)

type TextureDesc struct {
	Label  string
	Width  int
	Height int
	Layers int
	Format Format
	Flags  TextureFlags
	// Fill is the initial value of every texel. Nil leaves the contents undefined.
	Fill *[4]float32
}

func (d TextureDesc) validate() error {
	if d.Width <= 0 || d.Height <= 0 || d.Layers <= 0 {
		return ErrInvalidTextureSize
	}
	return nil
}

// Texture is an owned GPU texture handle. A nil Texture is the released state.
type Texture interface {
	Label() string
	Width() int
	Height() int
	Layers() int
	Format() Format
	IsCube() bool
}

// Attachment binds one layer (or cube face) of a texture to a framebuffer slot.
type Attachment struct {
	Texture Texture
	Layer   int
	Mip     int
}

type Framebuffer interface {
	Label() string
	Color() *Attachment
	Depth() *Attachment
}

// Factory creates and destroys GPU resources. Destroy calls accept nil handles.
type Factory interface {
	CreateTexture2DArray(desc TextureDesc) (Texture, error)
	CreateTextureCube(desc TextureDesc) (Texture, error)
	DestroyTexture(tex Texture)
	// CreateFramebuffer binds the attachments; depth-format textures go to the depth slot.
	CreateFramebuffer(label string, attachments ...Attachment) (Framebuffer, error)
	DestroyFramebuffer(fb Framebuffer)
	ClearFramebuffer(fb Framebuffer, color [4]float32) error
	CopyTexture(src, dst Texture) error
}

// Context is a dedicated rendering context used off the interactive thread.
type Context interface {
	Label() string
}

// Companion is the lightweight per-thread batch context paired with a dedicated Context.
type Companion interface {
	Label() string
}

// ContextProvider hands out rendering contexts. Enter and Leave calls are strictly paired and
// must not nest on one thread.
type ContextProvider interface {
	CreateBackgroundContext() (Context, error)
	DisposeContext(c Context)
	EnterContext(c Context) error
	LeaveContext(c Context)

	CreateCompanionContext() (Companion, error)
	DiscardCompanionContext(c Companion)
	EnterCompanion(c Companion) error
	LeaveCompanion(c Companion)

	// EnterInteractive takes the render-manager lock and makes the viewport context current.
	EnterInteractive(ctx context.Context) error
	LeaveInteractive()
}

// FreeTexture destroys *tex if set and clears the handle.
func FreeTexture(f Factory, tex *Texture) {
	if *tex == nil {
		return
	}
	f.DestroyTexture(*tex)
	*tex = nil
}

// FreeFramebuffer destroys *fb if set and clears the handle.
func FreeFramebuffer(f Factory, fb *Framebuffer) {
	if *fb == nil {
		return
	}
	f.DestroyFramebuffer(*fb)
	*fb = nil
}

// MipCount is the full mip chain length for a square texture of the given size.
func MipCount(size int) int {
	n := 0
	for size > 0 {
		n++
		size >>= 1
	}
	return n
}
