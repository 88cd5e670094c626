package transform

import (
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"golang.org/x/image/bmp"
	"golang.org/x/image/webp"

	"pdfile/internal/fileutil"
	"pdfile/internal/formats"
	"pdfile/internal/services"
)

// decoders re-encode image formats pdfcpu cannot import directly.
var decoders = map[string]func(io.Reader) (image.Image, error){
	"gif":  gif.Decode,
	"bmp":  bmp.Decode,
	"webp": webp.Decode,
}

// images lays out every image on its own page, in upload order.
func (e *Engine) images(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	work, err := os.MkdirTemp(req.OutputDir, "images-")
	if err != nil {
		return "", services.Wrap(services.ErrTransformFailed, component, "images", "workspace", err)
	}
	defer os.RemoveAll(work)

	inputs := make([]string, len(req.Files))
	for i, f := range req.Files {
		path, err := importable(f.Path, work, i)
		if err != nil {
			return "", services.Wrap(services.ErrTransformFailed, component, "images", f.Name, err)
		}
		inputs[i] = path
	}

	out := filepath.Join(req.OutputDir, imagesName)
	if err := api.ImportImagesFile(inputs, out, pdfcpu.DefaultImportConfig(), pdfConfig()); err != nil {
		return "", services.Wrap(services.ErrTransformFailed, component, "images", "", err)
	}
	return out, nil
}

// importable returns a path pdfcpu accepts for src: the file itself, a copy
// with a lowercase extension, or a PNG re-encoding.
func importable(src, work string, idx int) (string, error) {
	ext := formats.Extension(src)
	if decode, ok := decoders[ext]; ok {
		return reencodePNG(src, filepath.Join(work, fmt.Sprintf("%03d.png", idx)), decode)
	}
	if filepath.Ext(src) == "."+ext {
		return src, nil
	}
	dst := filepath.Join(work, fmt.Sprintf("%03d.%s", idx, ext))
	if err := fileutil.CopyFile(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func reencodePNG(src, dst string, decode func(io.Reader) (image.Image, error)) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	img, err := decode(in)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", filepath.Base(src), err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		return "", fmt.Errorf("encode png: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return dst, nil
}
