package cache

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gekko3d/lightcache/lightrt/gpu"
)

// ============== IRRADIANCE POOL ==============

const (
	// MaxPoolLayers is the array layer limit every target must support.
	MaxPoolLayers = 256
	// MaxPoolSize is the largest width or height of the irradiance atlas.
	MaxPoolSize = 1024
)

var (
	ErrInvalidResolution = errors.New("cache: invalid resolution")
	ErrUnknownEncoding   = errors.New("cache: unknown irradiance encoding")
)

// Encoding selects how irradiance samples are stored. It fixes the texel block one sample
// occupies inside a visibility tile and the atlas format.
type Encoding uint8

const (
	EncodingSHL2 Encoding = iota
	EncodingCubemap
	EncodingHL2
)

// SampleBlock is the texel footprint of one irradiance sample, rounded to a power of two.
func (e Encoding) SampleBlock() (x, y int) {
	switch e {
	case EncodingCubemap:
		return 8, 8
	case EncodingHL2:
		return 4, 2 // 3x2 in reality
	default:
		return 4, 4 // 3x3 in reality
	}
}

// Format of the irradiance atlas. Spherical harmonics need a signed format.
func (e Encoding) Format() gpu.Format {
	if e == EncodingSHL2 {
		return gpu.FormatRGBA16F
	}
	return gpu.FormatRGBA8
}

func (e Encoding) String() string {
	switch e {
	case EncodingSHL2:
		return "sh-l2"
	case EncodingCubemap:
		return "cubemap"
	case EncodingHL2:
		return "hl2"
	}
	return fmt.Sprintf("encoding(%d)", uint8(e))
}

func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sh-l2", "shl2", "sh":
		return EncodingSHL2, nil
	case "cubemap", "cube":
		return EncodingCubemap, nil
	case "hl2":
		return EncodingHL2, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEncoding, s)
}

// PoolSize is the packed irradiance atlas extent. The atlas is a grid of square visibility
// tiles of VisibilityResolution texels; each tile column holds Layers-1 samples, one per
// layer above layer 0, which is reserved for the visibility blend.
type PoolSize struct {
	Width                int
	Height               int
	Layers               int
	VisibilityResolution int
}

// SizePool computes the atlas extent for totalSamples irradiance samples. The result is
// clamped to MaxPoolSize x MaxPoolSize x MaxPoolLayers; samples that do not fit are not
// packed, which is not an error (see Capacity).
func SizePool(enc Encoding, visibilityRes, totalSamples int) (PoolSize, error) {
	if visibilityRes <= 0 || visibilityRes > MaxPoolSize {
		return PoolSize{}, fmt.Errorf("%w: visibility resolution %d", ErrInvalidResolution, visibilityRes)
	}
	totalSamples = max(totalSamples, 0)

	// How many irradiance samples fit in one visibility tile.
	blockX, blockY := enc.SampleBlock()
	perTile := max(1, (visibilityRes/blockX)*(visibilityRes/blockY))

	// The irradiance itself takes one layer, hence the +1.
	layers := min(perTile+1, MaxPoolLayers)

	texelColumns := totalSamples / (layers - 1)
	if totalSamples%(layers-1) != 0 {
		texelColumns++
	}
	tilesPerRow := MaxPoolSize / visibilityRes

	return PoolSize{
		Width:                visibilityRes * max(1, min(texelColumns, tilesPerRow)),
		Height:               visibilityRes * max(1, min(texelColumns/tilesPerRow, tilesPerRow)),
		Layers:               layers,
		VisibilityResolution: visibilityRes,
	}, nil
}

func (p PoolSize) tilesX() int {
	if p.VisibilityResolution <= 0 {
		return 0
	}
	return p.Width / p.VisibilityResolution
}

func (p PoolSize) tilesY() int {
	if p.VisibilityResolution <= 0 {
		return 0
	}
	return p.Height / p.VisibilityResolution
}

// Capacity is the number of samples the atlas can hold.
func (p PoolSize) Capacity() int {
	if p.Layers < 2 {
		return 0
	}
	return p.tilesX() * p.tilesY() * (p.Layers - 1)
}

// Locate returns the tile coordinates and layer that hold sample. ok is false for samples
// past Capacity.
func (p PoolSize) Locate(sample int) (tileX, tileY, layer int, ok bool) {
	if sample < 0 || sample >= p.Capacity() {
		return 0, 0, 0, false
	}
	perColumn := p.Layers - 1
	column := sample / perColumn
	return column % p.tilesX(), column / p.tilesX(), 1 + sample%perColumn, true
}

func (p PoolSize) String() string {
	return fmt.Sprintf("%dx%dx%d", p.Width, p.Height, p.Layers)
}
