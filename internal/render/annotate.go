package render

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Annotate draws text in the top-left corner of img, white with a black
// outline so it stays readable over both air and bone.
func Annotate(img *image.RGBA, text string) {
	if text == "" {
		return
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	// Render text at base size
	face := basicfont.Face7x13
	baseTextWidth := font.MeasureString(face, text).Ceil()
	baseTextHeight := face.Metrics().Height.Ceil()
	if baseTextWidth <= 0 || baseTextHeight <= 0 {
		return
	}

	textImg := image.NewRGBA(image.Rect(0, 0, baseTextWidth, baseTextHeight))
	drawer := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.Point26_6{Y: face.Metrics().Ascent},
	}
	drawer.DrawString(text)

	// Scale to 15% of the page width, never below native size
	scaleFactor := float64(width) * 0.15 / float64(baseTextWidth)
	if scaleFactor < 1 {
		scaleFactor = 1
	}
	scaledWidth := int(float64(baseTextWidth) * scaleFactor)
	scaledHeight := int(float64(baseTextHeight) * scaleFactor)

	scaledTextImg := image.NewRGBA(image.Rect(0, 0, scaledWidth, scaledHeight))
	xdraw.BiLinear.Scale(scaledTextImg, scaledTextImg.Bounds(), textImg, textImg.Bounds(), xdraw.Over, nil)

	padding := max(1, int(float64(height)*0.03))
	posX, posY := bounds.Min.X+padding, bounds.Min.Y+padding

	outline := max(1, scaledHeight/10)
	inside := func(x, y int) bool {
		return image.Pt(x, y).In(bounds)
	}

	for sy := 0; sy < scaledHeight; sy++ {
		for sx := 0; sx < scaledWidth; sx++ {
			if scaledTextImg.RGBAAt(sx, sy).A == 0 {
				continue
			}
			for dy := -outline; dy <= outline; dy++ {
				for dx := -outline; dx <= outline; dx++ {
					if dx*dx+dy*dy > outline*outline {
						continue
					}
					if x, y := posX+sx+dx, posY+sy+dy; inside(x, y) {
						img.SetRGBA(x, y, color.RGBA{0, 0, 0, 255})
					}
				}
			}
		}
	}

	for sy := 0; sy < scaledHeight; sy++ {
		for sx := 0; sx < scaledWidth; sx++ {
			p := scaledTextImg.RGBAAt(sx, sy)
			if p.A == 0 {
				continue
			}
			if x, y := posX+sx, posY+sy; inside(x, y) {
				img.SetRGBA(x, y, color.RGBA{p.R, p.G, p.B, 255})
			}
		}
	}
}
