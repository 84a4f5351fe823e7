package cache

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizePool_BoundsAndMultiples(t *testing.T) {
	encodings := []Encoding{EncodingSHL2, EncodingCubemap, EncodingHL2}
	resolutions := []int{1, 2, 4, 8, 16, 32, 64, 100, 512, 1024}
	samples := []int{0, 1, 2, 63, 64, 65, 1000, 65536, 1 << 20, 1 << 30, 1 << 40, math.MaxInt - 1, math.MaxInt}

	for _, enc := range encodings {
		for _, r := range resolutions {
			for _, n := range samples {
				p, err := SizePool(enc, r, n)
				require.NoError(t, err)

				if p.Width > MaxPoolSize || p.Height > MaxPoolSize {
					t.Errorf("%s R=%d N=%d: extent %s exceeds %d", enc, r, n, p, MaxPoolSize)
				}
				if p.Layers > MaxPoolLayers || p.Layers < 2 {
					t.Errorf("%s R=%d N=%d: %d layers out of range", enc, r, n, p.Layers)
				}
				if p.Width%r != 0 || p.Height%r != 0 {
					t.Errorf("%s R=%d N=%d: extent %s not a multiple of R", enc, r, n, p)
				}
			}
		}
	}
}

func TestSizePool_ZeroSamplesIsMinimalPacking(t *testing.T) {
	p, err := SizePool(EncodingSHL2, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, PoolSize{Width: 4, Height: 4, Layers: 2, VisibilityResolution: 4}, p)

	p, err = SizePool(EncodingSHL2, 32, 0)
	require.NoError(t, err)
	assert.Equal(t, 32, p.Width)
	assert.Equal(t, 32, p.Height)
	assert.Equal(t, 65, p.Layers, "8x8 samples per tile plus the blend layer")
}

func TestSizePool_KnownValues(t *testing.T) {
	// 65 samples, 64 per column: two columns in one row.
	p, err := SizePool(EncodingSHL2, 32, 65)
	require.NoError(t, err)
	assert.Equal(t, PoolSize{Width: 64, Height: 32, Layers: 65, VisibilityResolution: 32}, p)

	// Cubemap encoding fits 4x4 samples in a 32 tile.
	p, err = SizePool(EncodingCubemap, 32, 100)
	require.NoError(t, err)
	assert.Equal(t, 17, p.Layers)
	assert.Equal(t, 7*32, p.Width)

	// Layer count is clamped.
	p, err = SizePool(EncodingHL2, 128, 10)
	require.NoError(t, err)
	assert.Equal(t, MaxPoolLayers, p.Layers)
}

func TestSizePool_RowsFollowFullColumns(t *testing.T) {
	// 32 tiles per row, 64 samples per column: 70 full columns give two rows.
	p, err := SizePool(EncodingSHL2, 32, 70*64)
	require.NoError(t, err)
	assert.Equal(t, 1024, p.Width)
	assert.Equal(t, 64, p.Height)
}

func TestSizePool_InvalidResolution(t *testing.T) {
	for _, r := range []int{0, -8, MaxPoolSize + 1} {
		_, err := SizePool(EncodingSHL2, r, 10)
		assert.ErrorIs(t, err, ErrInvalidResolution, "R=%d", r)
	}
}

func TestPoolSize_LocateAndCapacity(t *testing.T) {
	p, err := SizePool(EncodingSHL2, 4, 5) // one sample per tile
	require.NoError(t, err)
	require.Equal(t, 2, p.Layers)
	assert.Equal(t, 5, p.Capacity())

	x, y, layer, ok := p.Locate(3)
	assert.True(t, ok)
	assert.Equal(t, [3]int{3, 0, 1}, [3]int{x, y, layer})

	_, _, _, ok = p.Locate(5)
	assert.False(t, ok)
	_, _, _, ok = p.Locate(-1)
	assert.False(t, ok)
}

func TestPoolSize_OverflowIsNotPacked(t *testing.T) {
	p, err := SizePool(EncodingSHL2, 32, 1<<24)
	require.NoError(t, err)
	assert.Equal(t, 1024, p.Width)
	assert.Equal(t, 1024, p.Height)
	assert.Less(t, p.Capacity(), 1<<24)
}

func TestSizePool_HugeTotalsClampToLargestAtlas(t *testing.T) {
	largest, err := SizePool(EncodingSHL2, 32, 1<<40)
	require.NoError(t, err)
	assert.Equal(t, PoolSize{Width: MaxPoolSize, Height: MaxPoolSize, Layers: 65, VisibilityResolution: 32}, largest)

	for _, n := range []int{math.MaxInt - 1, math.MaxInt} {
		p, err := SizePool(EncodingSHL2, 32, n)
		require.NoError(t, err)
		assert.Equal(t, largest, p, "N=%d", n)
		assert.Equal(t, 65536, p.Capacity())
	}
}

func TestParseEncoding(t *testing.T) {
	for in, want := range map[string]Encoding{"sh-l2": EncodingSHL2, "Cubemap": EncodingCubemap, " hl2 ": EncodingHL2} {
		got, err := ParseEncoding(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, got.String(), mustRoundTrip(t, got))
	}
	_, err := ParseEncoding("octahedral")
	assert.ErrorIs(t, err, ErrUnknownEncoding)
}

func mustRoundTrip(t *testing.T, e Encoding) string {
	t.Helper()
	back, err := ParseEncoding(e.String())
	require.NoError(t, err)
	return back.String()
}
