package lightcache

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/gekko3d/lightcache/lightrt/cache"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	previewEmpty = color.RGBA{16, 16, 16, 255}
	previewWorld = color.RGBA{255, 255, 255, 255}
)

// gridColor picks a stable, distinct color per grid slot.
func gridColor(slot int) color.RGBA {
	h := float64((slot * 137) % 360)
	x := uint8(255 * (1 - math.Abs(math.Mod(h/60, 2)-1)))
	switch int(h / 60) {
	case 0:
		return color.RGBA{255, x, 0, 255}
	case 1:
		return color.RGBA{x, 255, 0, 255}
	case 2:
		return color.RGBA{0, 255, x, 255}
	case 3:
		return color.RGBA{0, x, 255, 255}
	case 4:
		return color.RGBA{x, 0, 255, 255}
	}
	return color.RGBA{255, 0, x, 255}
}

// LayoutPreview draws which grid owns each tile column of the irradiance pool, one cell per
// tile and layer, layers side by side. Cells are scale pixels wide and the pool extent is
// printed at the top.
func LayoutPreview(pool cache.PoolSize, grids []cache.GridRecord, scale int) *image.RGBA {
	scale = max(1, scale)
	tilesX := pool.Width / max(1, pool.VisibilityResolution)
	tilesY := pool.Height / max(1, pool.VisibilityResolution)
	dataLayers := max(1, pool.Layers-1)

	cells := image.NewRGBA(image.Rect(0, 0, tilesX*dataLayers, tilesY))
	draw.Draw(cells, cells.Bounds(), image.NewUniform(previewEmpty), image.Point{}, draw.Src)

	owner := func(sample int) (color.RGBA, bool) {
		for slot, g := range grids {
			if sample >= int(g.Offset) && sample < int(g.Offset)+g.Samples() {
				if slot == 0 {
					return previewWorld, true
				}
				return gridColor(slot), true
			}
		}
		return color.RGBA{}, false
	}
	for sample := range pool.Capacity() {
		c, ok := owner(sample)
		if !ok {
			continue
		}
		x, y, layer, _ := pool.Locate(sample)
		cells.SetRGBA((layer-1)*tilesX+x, y, c)
	}

	const header = 16
	out := image.NewRGBA(image.Rect(0, 0, max(cells.Rect.Dx()*scale, 7*24), cells.Rect.Dy()*scale+header))
	draw.Draw(out, out.Bounds(), image.Black, image.Point{}, draw.Src)
	draw.NearestNeighbor.Scale(out, image.Rect(0, header, cells.Rect.Dx()*scale, header+cells.Rect.Dy()*scale),
		cells, cells.Bounds(), draw.Src, nil)

	d := font.Drawer{
		Dst:  out,
		Src:  image.White,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(2, 12),
	}
	d.DrawString(fmt.Sprintf("pool %s", pool))
	return out
}

// WritePreviewBMP encodes a layout preview as BMP.
func WritePreviewBMP(w io.Writer, img image.Image) error {
	if err := bmp.Encode(w, img); err != nil {
		return fmt.Errorf("failed to encode layout preview: %w", err)
	}
	return nil
}
