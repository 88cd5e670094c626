// Package transform turns staged uploads into the artifact a user receives.
//
// PDF work runs in-process through pdfcpu. PowerPoint and Word documents are
// converted by a headless LibreOffice. Operations that produce one file per
// input bundle the results into a zip archive.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"pdfile/internal/config"
	"pdfile/internal/fileutil"
	"pdfile/internal/formats"
	"pdfile/internal/logging"
	"pdfile/internal/services"
	"pdfile/internal/session"
	"pdfile/internal/textutil"
)

const component = "transform"

// Output names shared with users.
const (
	mergedName         = "document_merged.pdf"
	compressedZipName  = "documents_compressed.zip"
	imagesName         = "document_fromImages.pdf"
	officeZipName      = "documents_one-by-one.zip"
	compressedSuffix   = "_compressed.pdf"
	splitPagesInfix    = "-pages_"
	splitPageInfix     = "-page_"
	deleteWithoutInfix = "-without_"
)

// Request describes one dispatch.
type Request struct {
	Operation  formats.Operation
	Files      []session.StagedFile
	Pages      []int
	RangeLabel string
	SplitMode  session.SplitMode
	OutputDir  string
}

// Transformer produces artifacts and inspects PDFs.
type Transformer interface {
	Transform(ctx context.Context, req Request) (string, error)
	PageCount(ctx context.Context, path string) (int, error)
}

// Engine is the production Transformer.
type Engine struct {
	workers int
	office  *Office
	logger  *slog.Logger
}

var disableConfigDir sync.Once

// New builds an engine from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	disableConfigDir.Do(api.DisableConfigDir)
	logger = logging.NewComponentLogger(logger, component)
	return &Engine{
		workers: max(cfg.Limits.TransformWorkers, 1),
		office:  NewOffice(cfg, logger),
		logger:  logger,
	}
}

// pdfConfig returns a fresh pdfcpu configuration. Uploaded PDFs come from
// arbitrary producers, so validation is relaxed.
func pdfConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount returns the number of pages in the PDF at path.
func (e *Engine) PageCount(ctx context.Context, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, services.Wrap(services.ErrTransformFailed, component, "page count", filepath.Base(path), err)
	}
	return n, nil
}

// Transform runs req and returns the path of the artifact inside req.OutputDir.
func (e *Engine) Transform(ctx context.Context, req Request) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}
	logger := logging.WithContext(ctx, e.logger)
	logger.Debug("transform started",
		logging.String(logging.FieldOperation, string(req.Operation)),
		logging.Int("files", len(req.Files)),
		logging.Int("pages", len(req.Pages)),
	)

	var (
		out string
		err error
	)
	switch req.Operation {
	case formats.OpCompress:
		out, err = e.compress(ctx, req)
	case formats.OpMerge:
		out, err = e.merge(ctx, req)
	case formats.OpSplit:
		out, err = e.split(ctx, req)
	case formats.OpDelete:
		out, err = e.deletePages(ctx, req)
	case formats.OpConvertImg:
		out, err = e.images(ctx, req)
	case formats.OpConvertPPT, formats.OpConvertDoc:
		out, err = e.officeDocs(ctx, req)
	default:
		err = services.Wrap(services.ErrTransformFailed, component, "transform",
			fmt.Sprintf("unsupported operation %q", req.Operation), nil)
	}
	if err != nil {
		return "", err
	}
	if !fileutil.NonEmpty(out) {
		return "", services.Wrap(services.ErrTransformFailed, component, string(req.Operation),
			"empty artifact "+filepath.Base(out), nil)
	}
	logger.Debug("transform finished",
		logging.String(logging.FieldOperation, string(req.Operation)),
		logging.String("artifact", filepath.Base(out)),
	)
	return out, nil
}

func validate(req Request) error {
	if strings.TrimSpace(req.OutputDir) == "" {
		return services.Wrap(services.ErrTransformFailed, component, "validate", "output directory missing", nil)
	}
	if len(req.Files) < req.Operation.MinFiles() {
		return services.Wrap(services.ErrTransformFailed, component, "validate",
			fmt.Sprintf("%s needs %d file(s), got %d", req.Operation, req.Operation.MinFiles(), len(req.Files)), nil)
	}
	if req.Operation.SingleFile() {
		if len(req.Files) != 1 {
			return services.Wrap(services.ErrTransformFailed, component, "validate",
				fmt.Sprintf("%s needs exactly one file, got %d", req.Operation, len(req.Files)), nil)
		}
		if len(req.Pages) == 0 {
			return services.Wrap(services.ErrTransformFailed, component, "validate", "no pages selected", nil)
		}
	}
	return nil
}

// stem returns the staged file's base name without extension, the prefix of
// every derived output name.
func stem(f session.StagedFile) string {
	return textutil.Stem(filepath.Base(f.Path))
}

// rangeName renders a range label for use inside a file name.
func rangeName(req Request) string {
	label := textutil.SanitizeFileName(strings.ReplaceAll(req.RangeLabel, " ", ""))
	if label == "" {
		label = pagesLabel(req.Pages)
	}
	return label
}

func pagesLabel(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

func pageSelection(pages []int) []string {
	sel := make([]string, len(pages))
	for i, p := range pages {
		sel[i] = strconv.Itoa(p)
	}
	return sel
}

// bundle zips files under their base names and removes the loose copies.
func bundle(dst string, paths []string) (string, error) {
	entries := make([]fileutil.ZipEntry, len(paths))
	for i, p := range paths {
		entries[i] = fileutil.ZipEntry{Path: p, Name: filepath.Base(p)}
	}
	if err := fileutil.WriteZip(dst, entries); err != nil {
		return "", services.Wrap(services.ErrTransformFailed, component, "bundle", filepath.Base(dst), err)
	}
	for _, p := range paths {
		_ = os.Remove(p)
	}
	return dst, nil
}
