package transform

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"

	"pdfile/internal/services"
	"pdfile/internal/session"
)

// compress optimizes every file. One input yields one PDF; several yield a zip.
func (e *Engine) compress(ctx context.Context, req Request) (string, error) {
	outputs := make([]string, len(req.Files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, f := range req.Files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out := filepath.Join(req.OutputDir, stem(f)+compressedSuffix)
			if err := api.OptimizeFile(f.Path, out, pdfConfig()); err != nil {
				return services.Wrap(services.ErrTransformFailed, component, "compress", f.Name, err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	if len(outputs) == 1 {
		return outputs[0], nil
	}
	return bundle(filepath.Join(req.OutputDir, compressedZipName), outputs)
}

// merge concatenates files in upload order.
func (e *Engine) merge(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	out := filepath.Join(req.OutputDir, mergedName)
	paths := make([]string, len(req.Files))
	for i, f := range req.Files {
		paths[i] = f.Path
	}
	if err := api.MergeCreateFile(paths, out, false, pdfConfig()); err != nil {
		return "", services.Wrap(services.ErrTransformFailed, component, "merge", "", err)
	}
	return out, nil
}

// split extracts the selected pages in request order, duplicates included,
// either into one PDF or one PDF per page bundled as a zip.
func (e *Engine) split(ctx context.Context, req Request) (string, error) {
	src := req.Files[0]
	base := stem(src) + splitPagesInfix + rangeName(req)
	if req.SplitMode != session.SplitMany {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		out := filepath.Join(req.OutputDir, base+".pdf")
		if err := api.CollectFile(src.Path, out, pageSelection(req.Pages), pdfConfig()); err != nil {
			return "", services.Wrap(services.ErrTransformFailed, component, "split", src.Name, err)
		}
		return out, nil
	}

	outputs := make([]string, len(req.Pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, page := range req.Pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// Repeated pages get their own entry.
			name := stem(src) + splitPageInfix + strconv.Itoa(page)
			if i > 0 && containsBefore(req.Pages, i, page) {
				name += "-" + strconv.Itoa(i+1)
			}
			out := filepath.Join(req.OutputDir, name+".pdf")
			if err := api.CollectFile(src.Path, out, []string{strconv.Itoa(page)}, pdfConfig()); err != nil {
				return services.Wrap(services.ErrTransformFailed, component, "split", src.Name, err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return bundle(filepath.Join(req.OutputDir, base+".zip"), outputs)
}

// deletePages writes a copy of the file without the selected pages.
func (e *Engine) deletePages(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src := req.Files[0]
	out := filepath.Join(req.OutputDir, stem(src)+deleteWithoutInfix+rangeName(req)+".pdf")
	if err := api.RemovePagesFile(src.Path, out, pageSelection(unique(req.Pages)), pdfConfig()); err != nil {
		return "", services.Wrap(services.ErrTransformFailed, component, "delete", src.Name, err)
	}
	return out, nil
}

func containsBefore(pages []int, idx, page int) bool {
	for _, p := range pages[:idx] {
		if p == page {
			return true
		}
	}
	return false
}

func unique(pages []int) []int {
	seen := make(map[int]struct{}, len(pages))
	out := make([]int, 0, len(pages))
	for _, p := range pages {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
