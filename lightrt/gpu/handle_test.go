package gpu_test

import (
	"testing"

	"github.com/gekko3d/lightcache/lightrt/gpu"
	"github.com/gekko3d/lightcache/lightrt/gpu/gputest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMipCount(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 2: 2, 3: 2, 256: 9, 512: 10}
	for size, want := range cases {
		if got := gpu.MipCount(size); got != want {
			t.Errorf("MipCount(%d) = %d, want %d", size, got, want)
		}
	}
}

func TestFormatBytesPerTexel(t *testing.T) {
	assert.Equal(t, 4, gpu.FormatRGBA8.BytesPerTexel())
	assert.Equal(t, 8, gpu.FormatRGBA16F.BytesPerTexel())
	assert.Equal(t, "DEPTH24", gpu.FormatDepth24.String())
}

func TestFreeHelpersAreIdempotent(t *testing.T) {
	f := gputest.NewFactory()

	tex, err := f.CreateTexture2DArray(gpu.TextureDesc{Label: "atlas", Width: 4, Height: 4, Layers: 2})
	require.NoError(t, err)
	fb, err := f.CreateFramebuffer("fb", gpu.Attachment{Texture: tex, Layer: 1})
	require.NoError(t, err)
	require.Equal(t, 1, f.LiveTextures())
	require.Equal(t, 1, f.LiveFramebuffers())

	gpu.FreeFramebuffer(f, &fb)
	gpu.FreeTexture(f, &tex)
	assert.Nil(t, tex)
	assert.Nil(t, fb)

	// Second release on the cleared handles is a no-op.
	gpu.FreeFramebuffer(f, &fb)
	gpu.FreeTexture(f, &tex)

	assert.Equal(t, 0, f.LiveTextures())
	assert.Equal(t, 0, f.LiveFramebuffers())
}

func TestCubeTexturesHaveSixSquareLayers(t *testing.T) {
	f := gputest.NewFactory()

	cube, err := f.CreateTextureCube(gpu.TextureDesc{Label: "cube", Width: 16, Height: 16, Format: gpu.FormatRGBA16F})
	require.NoError(t, err)
	assert.True(t, cube.IsCube())
	assert.Equal(t, 6, cube.Layers())

	_, err = f.CreateTextureCube(gpu.TextureDesc{Label: "bad", Width: 16, Height: 8})
	assert.ErrorIs(t, err, gpu.ErrInvalidTextureSize)
}
