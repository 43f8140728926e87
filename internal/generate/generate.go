// Package generate defines the external collaborators the pipeline calls.
// Composition, font rendering, and caption wording live behind these
// interfaces; the service only cares that they are slow and fallible.
package generate

import "context"

// Image is an encoded raster plus the trait metadata the composer chose.
type Image struct {
	PNG    []byte
	Traits map[string]string
}

// Composer produces the layered base character image for a persona/theme
// pair.
type Composer interface {
	Compose(ctx context.Context, persona, theme string) (Image, error)
}

// Overlayer burns caption text onto a composed image.
type Overlayer interface {
	Overlay(ctx context.Context, img Image, caption string) (Image, error)
}

// Captioner generates caption text. Implementations are expected to take
// seconds and to fail; the worker wraps them in RetryingCaptioner.
type Captioner interface {
	Caption(ctx context.Context, persona, theme string, charLimit int, allowEmojis bool) (string, error)
}

// Uploader pushes the final image to the remote image host and returns its
// public URL.
type Uploader interface {
	Upload(ctx context.Context, png []byte) (string, error)
}
