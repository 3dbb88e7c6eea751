package vision

import (
	"image"
)

// padValue is the grey used for letterbox borders (114/255), as in YOLOv8 training.
const padValue = float32(114) / 255

// letterbox records how a source frame was fitted into the square model input.
type letterbox struct {
	scale      float32
	padX, padY float32
	srcW, srcH int
	minX, minY int
}

// toSource maps a point in model input space back to source pixel coordinates.
func (lb letterbox) toSource(x, y float32) (float32, float32) {
	sx := (x-lb.padX)/lb.scale + float32(lb.minX)
	sy := (y-lb.padY)/lb.scale + float32(lb.minY)
	sx = clampF(sx, float32(lb.minX), float32(lb.minX+lb.srcW))
	sy = clampF(sy, float32(lb.minY), float32(lb.minY+lb.srcH))
	return sx, sy
}

func newLetterbox(bounds image.Rectangle, size int) letterbox {
	srcW, srcH := bounds.Dx(), bounds.Dy()
	scale := float32(size) / float32(srcW)
	if s := float32(size) / float32(srcH); s < scale {
		scale = s
	}
	newW := int(float32(srcW)*scale + 0.5)
	newH := int(float32(srcH)*scale + 0.5)
	return letterbox{
		scale: scale,
		padX:  float32((size - newW) / 2),
		padY:  float32((size - newH) / 2),
		srcW:  srcW,
		srcH:  srcH,
		minX:  bounds.Min.X,
		minY:  bounds.Min.Y,
	}
}

// letterboxInto writes img into dst as CHW float32 RGB in [0,1], resized with
// nearest-neighbour sampling and padded to size x size.
func letterboxInto(dst []float32, img image.Image, size int) letterbox {
	lb := newLetterbox(img.Bounds(), size)
	plane := size * size

	for i := range dst[:3*plane] {
		dst[i] = padValue
	}

	newW := int(float32(lb.srcW)*lb.scale + 0.5)
	newH := int(float32(lb.srcH)*lb.scale + 0.5)
	offX, offY := int(lb.padX), int(lb.padY)

	rgba, fast := img.(*image.RGBA)

	for y := 0; y < newH; y++ {
		srcY := lb.minY + y*lb.srcH/newH
		for x := 0; x < newW; x++ {
			srcX := lb.minX + x*lb.srcW/newW

			var r, g, b uint8
			if fast {
				off := rgba.PixOffset(srcX, srcY)
				r, g, b = rgba.Pix[off], rgba.Pix[off+1], rgba.Pix[off+2]
			} else {
				cr, cg, cb, _ := img.At(srcX, srcY).RGBA()
				r, g, b = uint8(cr>>8), uint8(cg>>8), uint8(cb>>8)
			}

			idx := (y+offY)*size + (x + offX)
			dst[0*plane+idx] = float32(r) / 255
			dst[1*plane+idx] = float32(g) / 255
			dst[2*plane+idx] = float32(b) / 255
		}
	}

	return lb
}
