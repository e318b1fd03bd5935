package source

import (
	"image"
	"image/draw"
)

// frameToImage 将Vidio的RGBA帧缓冲区复制为图像（Vidio会复用缓冲区）
func frameToImage(frameBuffer []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, frameBuffer)
	return img
}

// imageToFrame 将图像转换为 width*height*4 的RGBA帧缓冲区
func imageToFrame(img image.Image) []byte {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) &&
		rgba.Stride == rgba.Rect.Dx()*4 {
		return rgba.Pix
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba.Pix
}
