package captcha

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// minHeight is the glyph height below which images are upscaled before OCR
const minHeight = 100

// TesseractSolver runs tesseract locally through gosseract
type TesseractSolver struct {
	// PSM is the tesseract page segmentation mode
	PSM int
	// Whitelist restricts the recognised characters
	Whitelist string
	// Languages passed to tesseract, eng when empty
	Languages []string
	// Delay waits after recognising so answers do not arrive inhumanly fast
	Delay time.Duration
	// TessdataDir overrides where tesseract looks for traineddata and configs
	TessdataDir string

	clientFactory func() *gosseract.Client
}

// NewTesseractSolver returns a solver with single-block segmentation and the
// uppercase whitelist
func NewTesseractSolver(psm int, delay time.Duration) *TesseractSolver {
	return &TesseractSolver{
		PSM:           psm,
		Whitelist:     UppercaseWhitelist,
		Delay:         delay,
		clientFactory: gosseract.NewClient,
	}
}

// Solve recognises the characters in img
func (s *TesseractSolver) Solve(ctx context.Context, img []byte) (string, error) {
	text, err := s.Recognize(img)
	if err != nil {
		return "", err
	}
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return text, nil
}

// Recognize is Solve without the delay
func (s *TesseractSolver) Recognize(img []byte) (string, error) {
	prepared, err := Preprocess(img)
	if err != nil {
		return "", err
	}

	factory := s.clientFactory
	if factory == nil {
		factory = gosseract.NewClient
	}
	c := factory()
	defer c.Close()

	if s.TessdataDir != "" {
		if err := c.SetTessdataPrefix(s.TessdataDir); err != nil {
			return "", fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := c.SetImageFromBytes(prepared); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	if len(s.Languages) > 0 {
		if err := c.SetLanguage(s.Languages...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetPageSegMode(gosseract.PageSegMode(s.PSM)); err != nil {
		return "", fmt.Errorf("set page segmentation mode: %w", err)
	}
	if s.Whitelist != "" {
		if err := c.SetWhitelist(s.Whitelist); err != nil {
			return "", fmt.Errorf("set whitelist: %w", err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return normalize(text), nil
}

// Preprocess converts img to a high contrast grayscale PNG, upscaling small
// captchas so tesseract has enough pixels per glyph.
func Preprocess(img []byte) ([]byte, error) {
	decoded, err := DecodeImage(img)
	if err != nil {
		return nil, err
	}
	out := imaging.Grayscale(decoded)
	out = imaging.AdjustContrast(out, 30)
	if h := out.Bounds().Dy(); h > 0 && h < minHeight {
		scale := (minHeight + h - 1) / h
		out = imaging.Resize(out, out.Bounds().Dx()*scale, h*scale, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode preprocessed image: %w", err)
	}
	return buf.Bytes(), nil
}
