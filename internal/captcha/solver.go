// Package captcha turns captcha images into text, either locally with
// tesseract or through the anti-captcha.com service.
package captcha

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

// ErrInvalidImage is returned for empty input or bytes that are not an image
var ErrInvalidImage = errors.New("invalid image binary")

// Solver recognises the characters contained in a captcha image
type Solver interface {
	Solve(ctx context.Context, img []byte) (string, error)
}

// SolverFunc adapts a function to Solver
type SolverFunc func(ctx context.Context, img []byte) (string, error)

func (f SolverFunc) Solve(ctx context.Context, img []byte) (string, error) { return f(ctx, img) }

// DecodeImage sniffs and decodes img, rejecting anything that is not an
// image.
func DecodeImage(img []byte) (image.Image, error) {
	if len(img) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidImage)
	}
	mtype := mimetype.Detect(img)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrInvalidImage, mtype.String())
	}
	decoded, err := imaging.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return decoded, nil
}

// normalize drops whitespace tesseract puts between and around glyphs
func normalize(text string) string {
	return strings.Join(strings.Fields(text), "")
}
