// Package pixel provides the color types used by ILI9341 and ILI9488 TFT
// controllers.
//
// Colors are kept as three 8-bit channels. On the wire a color is sent either
// as two bytes in 5-6-5 layout (16-bit mode) or as three bytes, one per
// channel (18-bit mode, where the controller keeps the 6 most significant
// bits of each channel).
//
// Wire layout in 16-bit mode for Color{R: 0xEC, G: 0xA8, B: 0x74}:
//
//	R (5 bits)  G (6 bits)  B (5 bits)
//	11101       101010      01110
//	Bytes: 0xED 0x4E
//
// Reading display memory always returns three bytes per pixel, whatever the
// write mode is, so Depth.Unpack and Depth.Truncate work at read resolution.
//
// This package provides:
//
// - Color: an RGB color implementing color.Color
// - Model: a color model converting standard Go colors to Color
// - Depth: the wire encodings (Depth16, Depth18)
// - Gray: the luminance conversion used by the grayscale mode
// - Image: an image.Image backed by a []Color slice, ready to push
//
// Example usage:
//
//	img := pixel.NewImage(image.Rect(0, 0, 320, 240))
//	img.SetColor(10, 20, pixel.Color{R: 0xFF})
//	buf := make([]byte, 0, 3)
//	buf = pixel.Depth18.Append(buf, img.ColorAt(10, 20))
package pixel
