package transform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pdfile/internal/config"
	"pdfile/internal/deps"
	"pdfile/internal/formats"
	"pdfile/internal/logging"
	"pdfile/internal/preflight"
	"pdfile/internal/services"
	"pdfile/internal/textutil"
)

// commandRunner executes an external command; tests swap it out.
type commandRunner func(ctx context.Context, name string, args ...string) error

// Office converts PowerPoint and Word documents with headless LibreOffice.
type Office struct {
	requirement deps.Requirement
	timeout     time.Duration
	run         commandRunner
	logger      *slog.Logger
}

// NewOffice builds a converter for the configured LibreOffice binary.
func NewOffice(cfg *config.Config, logger *slog.Logger) *Office {
	return &Office{
		requirement: preflight.LibreOffice(cfg),
		timeout:     cfg.ConverterTimeout(),
		run:         defaultCommandRunner,
		logger:      logger,
	}
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stderr strings.Builder
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// exportFilter picks the LibreOffice PDF export filter for op.
func exportFilter(op formats.Operation) string {
	if op == formats.OpConvertPPT {
		return "pdf:impress_pdf_Export"
	}
	return "pdf:writer_pdf_Export"
}

// Convert turns src into a PDF inside outDir and returns its path.
// Every call gets a private LibreOffice profile so conversions can run in
// parallel.
func (o *Office) Convert(ctx context.Context, op formats.Operation, src, outDir string) (string, error) {
	binary, err := deps.Resolve(o.requirement)
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, component, "convert", "libreoffice unavailable", err)
	}
	profile, err := os.MkdirTemp(outDir, "lo-profile-")
	if err != nil {
		return "", services.Wrap(services.ErrTransformFailed, component, "convert", "profile dir", err)
	}
	defer os.RemoveAll(profile)
	profileAbs, err := filepath.Abs(profile)
	if err != nil {
		return "", services.Wrap(services.ErrTransformFailed, component, "convert", "profile dir", err)
	}

	runCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	args := []string{
		"-env:UserInstallation=file://" + filepath.ToSlash(profileAbs),
		"--headless",
		"--norestore",
		"--nolockcheck",
		"--convert-to", exportFilter(op),
		"--outdir", outDir,
		src,
	}
	started := time.Now()
	if err := o.run(runCtx, binary, args...); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", services.Wrap(services.ErrTimeout, component, "convert",
				fmt.Sprintf("%s after %s", filepath.Base(src), o.timeout), err)
		}
		return "", services.Wrap(services.ErrExternalTool, component, "convert", filepath.Base(src), err)
	}

	out := filepath.Join(outDir, textutil.Stem(src)+".pdf")
	if _, err := os.Stat(out); err != nil {
		return "", services.Wrap(services.ErrExternalTool, component, "convert",
			"libreoffice produced no pdf for "+filepath.Base(src), err)
	}
	if o.logger != nil {
		o.logger.Debug("office document converted",
			logging.String("file", filepath.Base(src)),
			logging.Duration("elapsed", time.Since(started)),
		)
	}
	return out, nil
}

// officeDocs converts each input. One input yields its PDF; several are
// bundled one-by-one into a zip.
func (e *Engine) officeDocs(ctx context.Context, req Request) (string, error) {
	outputs := make([]string, len(req.Files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, f := range req.Files {
		g.Go(func() error {
			// Separate directories keep a.doc and a.docx from both landing on a.pdf.
			dir := filepath.Join(req.OutputDir, "convert-"+strconv.Itoa(i))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return services.Wrap(services.ErrTransformFailed, component, "convert", "output dir", err)
			}
			out, err := e.office.Convert(gctx, req.Operation, f.Path, dir)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	if len(outputs) == 1 {
		final := filepath.Join(req.OutputDir, filepath.Base(outputs[0]))
		if err := os.Rename(outputs[0], final); err != nil {
			return "", services.Wrap(services.ErrTransformFailed, component, "convert", "move output", err)
		}
		return final, nil
	}
	return bundle(filepath.Join(req.OutputDir, officeZipName), outputs)
}
