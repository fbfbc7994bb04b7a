package camera

import (
	"encoding/binary"
	"image"
)

// SunScene renders the solar disk as a bright band of sunWidthPx
// columns on a dark frame.  The band center follows the axis position
// returned by pos (degrees), scaled by pxPerDeg, so a simulated mount
// slewing across the disk produces the same limb transitions a real
// spectroheliograph sees.
func SunScene(width, height, sunWidthPx int, pxPerDeg float64, bright uint16, pos func() float64) SceneFunc {
	return func() *image.Gray16 {
		img := image.NewGray16(image.Rect(0, 0, width, height))
		center := width/2 + int(pos()*pxPerDeg)
		lo := center - sunWidthPx/2
		hi := center + sunWidthPx/2
		if lo < 0 {
			lo = 0
		}
		if hi > width {
			hi = width
		}
		if lo >= hi {
			return img
		}
		var px [2]byte
		binary.BigEndian.PutUint16(px[:], bright)
		for y := 0; y < height; y++ {
			row := img.Pix[y*img.Stride:]
			for x := lo; x < hi; x++ {
				row[2*x] = px[0]
				row[2*x+1] = px[1]
			}
		}
		return img
	}
}
