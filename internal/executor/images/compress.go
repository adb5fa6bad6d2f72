package images

import (
	"bytes"
	"context"
	"image/png"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/svg"

	"github.com/kination/assetflow/internal/toolchain"
)

// Compressor shrinks the encoded bytes of one image format.
type Compressor interface {
	Compress(ctx context.Context, data []byte) ([]byte, error)
}

// pngCompressor re-encodes losslessly at the highest compression level.
type pngCompressor struct{}

func (pngCompressor) Compress(_ context.Context, data []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type svgCompressor struct {
	m *minify.M
}

func newSVGCompressor() svgCompressor {
	m := minify.New()
	m.AddFunc("image/svg+xml", svg.Minify)
	return svgCompressor{m: m}
}

func (c svgCompressor) Compress(_ context.Context, data []byte) ([]byte, error) {
	return c.m.Bytes("image/svg+xml", data)
}

// jpegCompressor pipes the image through jpegtran.
type jpegCompressor struct {
	tools *toolchain.Registry
	dir   string
}

func (c *jpegCompressor) Compress(ctx context.Context, data []byte) ([]byte, error) {
	out, err := c.tools.Invoke(ctx, toolchain.Invocation{
		Tool:  toolchain.ToolJpegtran,
		Dir:   c.dir,
		Stdin: data,
	})
	if err != nil {
		return nil, err
	}
	return out.Stdout, nil
}
