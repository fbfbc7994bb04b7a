package scan

import (
	"image"
	"io"

	"github.com/astrogo/fitsio"
)

// WriteFits streams a 16-bit mono frame to w as a FITS file
func WriteFits(w io.Writer, img *image.Gray16) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	im := fitsio.NewImage(16, []int{width, height})
	defer im.Close()
	err = im.Header().Append(
		fitsio.Card{Name: "BZERO", Value: 32768},
		fitsio.Card{Name: "BSCALE", Value: 1.0})
	if err != nil {
		return err
	}

	// FITS 16-bit images are signed; shift the unsigned pixels down
	ints := make([]int16, width*height)
	idx := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			ints[idx] = int16(int(img.Gray16At(x, y).Y) - 32768)
			idx++
		}
	}
	if err := im.Write(ints); err != nil {
		return err
	}
	return fits.Write(im)
}
