package sim

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"time"
)

// Camera defaults.
const (
	DefaultWidth       = 640
	DefaultHeight      = 480
	DefaultJPEGQuality = 80
	// FieldOfView is the horizontal view angle in degrees.
	FieldOfView = 60.0
)

var (
	backgroundColor = color.RGBA{R: 0x5a, G: 0x5a, B: 0x5a, A: 0xff}
	targetColor     = color.RGBA{R: 0xd0, G: 0x20, B: 0x20, A: 0xff}
	distractorColor = color.RGBA{R: 0x30, G: 0x60, B: 0xc0, A: 0xff}
	toppledColor    = color.RGBA{R: 0x28, G: 0x28, B: 0x28, A: 0xff}
)

// CameraConfig sizes the rendered frame.
type CameraConfig struct {
	Width   int
	Height  int
	Quality int
	// Latency simulates render time per frame.
	Latency time.Duration
}

// Camera renders the scene from the barrel's point of view.
type Camera struct {
	cfg    CameraConfig
	turret *Turret
	scene  *Scene
}

// NewCamera creates a camera. Zero config fields take the defaults.
func NewCamera(cfg CameraConfig, turret *Turret, scene *Scene) *Camera {
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultJPEGQuality
	}
	return &Camera{cfg: cfg, turret: turret, scene: scene}
}

// Grab renders and encodes one frame. It implements capture.Grabber.
func (c *Camera) Grab(ctx context.Context) ([]byte, error) {
	if c.cfg.Latency > 0 {
		timer := time.NewTimer(c.cfg.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	img := c.render(c.turret.Aim(), c.scene.Objects())
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.cfg.Quality}); err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Camera) render(aim Aim, objects []Object) *image.RGBA {
	w, h := c.cfg.Width, c.cfg.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = backgroundColor.R
		img.Pix[i+1] = backgroundColor.G
		img.Pix[i+2] = backgroundColor.B
		img.Pix[i+3] = backgroundColor.A
	}

	ppd := float64(w) / FieldOfView
	for _, o := range objects {
		cx := float64(w)/2 + wrapDegrees(o.Azimuth-aim.Azimuth)*ppd
		cy := float64(h)/2 - (o.Elevation-aim.Elevation)*ppd
		r := o.Radius * ppd

		col := distractorColor
		switch {
		case !o.Upright:
			col = toppledColor
		case o.IsTarget:
			col = targetColor
		}
		fillDisc(img, cx, cy, r, col)
	}
	return img
}

func fillDisc(img *image.RGBA, cx, cy, r float64, col color.RGBA) {
	b := img.Bounds()
	x0, x1 := max(b.Min.X, int(cx-r)), min(b.Max.X, int(cx+r)+1)
	y0, y1 := max(b.Min.Y, int(cy-r)), min(b.Max.Y, int(cy+r)+1)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			if dx*dx+dy*dy <= r*r {
				img.SetRGBA(x, y, col)
			}
		}
	}
}
