package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"pdfile/internal/config"
	"pdfile/internal/fileutil"
	"pdfile/internal/formats"
	"pdfile/internal/logging"
	"pdfile/internal/preflight"
	"pdfile/internal/prompts"
	"pdfile/internal/services"
	"pdfile/internal/session"
	"pdfile/internal/textutil"
)

const (
	userDirPrefix = "user-"
	jobDirPrefix  = "job-"
	component     = "staging"
)

// FileRef identifies an upload on its transport before it is staged.
type FileRef struct {
	Name string
	MIME string

	// Channel selects the Downloader registered for the transport.
	Channel string

	// ID is the transport's file identifier, or a local path on the local channel.
	ID string

	// Size is the size announced by the transport; 0 when unknown.
	Size int64
}

// Stager downloads uploads into per-user staging directories.
type Stager struct {
	root     string
	maxBytes int64
	minFree  int64
	logger   *slog.Logger

	mu          sync.RWMutex
	downloaders map[string]Downloader

	freeBytes func(string) (uint64, error)
}

// NewStager builds a stager rooted at the configured staging directory.
func NewStager(cfg *config.Config, logger *slog.Logger) *Stager {
	return &Stager{
		root:        cfg.Paths.StagingDir,
		maxBytes:    cfg.Limits.MaxUploadBytes,
		minFree:     cfg.Limits.MinFreeBytes,
		logger:      logging.NewComponentLogger(logger, component),
		downloaders: map[string]Downloader{LocalChannel: LocalDownloader{}},
		freeBytes:   preflight.FreeBytes,
	}
}

// Register installs the downloader used for refs on channel.
func (s *Stager) Register(channel string, d Downloader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloaders[channel] = d
}

func (s *Stager) downloader(channel string) (Downloader, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.downloaders[channel]
	return d, ok
}

// Root returns the staging root directory.
func (s *Stager) Root() string { return s.root }

// Precheck rejects an upload by announced size and extension before any
// bytes are fetched.
func (s *Stager) Precheck(ref FileRef, op formats.Operation) error {
	if s.maxBytes > 0 && ref.Size > s.maxBytes {
		err := services.Wrap(services.ErrInputRejected, component, "precheck",
			fmt.Sprintf("%s is %d bytes", ref.Name, ref.Size), fileutil.ErrTooLarge)
		return services.WithPrompt(err, prompts.KeyBigFile, s.limitArgs())
	}
	ok, accepted := formats.Allowed(ref.Name, op)
	if !ok {
		err := services.Wrap(services.ErrInputRejected, component, "precheck",
			fmt.Sprintf("%q not accepted for %s", ref.Name, op), nil)
		return services.WithPrompt(err, prompts.KeyBadFormat, map[string]string{
			"name":    ref.Name,
			"formats": strings.Join(accepted, ", "),
		})
	}
	return nil
}

// Stage downloads ref into the user's staging directory. The staged name is
// a transliterated, sanitized version of the original that never overwrites
// an earlier upload.
func (s *Stager) Stage(ctx context.Context, userID string, ref FileRef) (session.StagedFile, error) {
	if err := s.checkSpace(); err != nil {
		return session.StagedFile{}, err
	}

	d, ok := s.downloader(ref.Channel)
	if !ok {
		err := services.Wrap(services.ErrStagingFailed, component, "stage",
			fmt.Sprintf("no downloader for channel %q", ref.Channel), nil)
		return session.StagedFile{}, services.WithPrompt(err, prompts.KeyDownloadError, nil)
	}

	dir := s.UserDir(userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		err = services.Wrap(services.ErrStagingFailed, component, "stage", "create user directory", err)
		return session.StagedFile{}, services.WithPrompt(err, prompts.KeyNoSpace, nil)
	}

	src, err := d.Open(ctx, ref)
	if err != nil {
		err = services.Wrap(services.ErrStagingFailed, component, "download", ref.Name, err)
		return session.StagedFile{}, services.WithPrompt(err, prompts.KeyDownloadError, nil)
	}
	defer src.Close()

	fallback := "upload"
	if ext := formats.Extension(ref.Name); ext != "" {
		fallback += "." + ext
	}
	out, err := fileutil.CreateUnique(dir, textutil.SafeFileName(ref.Name, fallback))
	if err != nil {
		err = services.Wrap(services.ErrStagingFailed, component, "stage", "create staged file", err)
		return session.StagedFile{}, services.WithPrompt(err, prompts.KeyNoSpace, nil)
	}
	path := out.Name()

	written, copyErr := fileutil.CopyLimited(out, src, s.maxBytes)
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(path)
		if errors.Is(copyErr, fileutil.ErrTooLarge) {
			err := services.Wrap(services.ErrInputRejected, component, "stage", ref.Name, copyErr)
			return session.StagedFile{}, services.WithPrompt(err, prompts.KeyBigFile, s.limitArgs())
		}
		err := services.Wrap(services.ErrStagingFailed, component, "download", ref.Name, copyErr)
		return session.StagedFile{}, services.WithPrompt(err, prompts.KeyDownloadError, nil)
	}

	name := strings.TrimSpace(ref.Name)
	if name == "" {
		name = filepath.Base(path)
	}
	s.logger.Debug("file staged",
		logging.String(logging.FieldUserID, userID),
		logging.String("file", name),
		logging.String("path", path),
		logging.Int64("bytes", written),
		logging.String(logging.FieldEventType, "file_staged"),
	)
	return session.StagedFile{Path: path, Name: name, Size: written}, nil
}

func (s *Stager) checkSpace() error {
	if s.minFree <= 0 || s.freeBytes == nil {
		return nil
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		err = services.Wrap(services.ErrStagingFailed, component, "stage", "create staging root", err)
		return services.WithPrompt(err, prompts.KeyNoSpace, nil)
	}
	free, err := s.freeBytes(s.root)
	if err != nil {
		err = services.Wrap(services.ErrStagingFailed, component, "stage", "free space", err)
		return services.WithPrompt(err, prompts.KeyNoSpace, nil)
	}
	if free < uint64(s.minFree) {
		err := services.Wrap(services.ErrStagingFailed, component, "stage",
			fmt.Sprintf("%s free, need %s", preflight.FormatBytes(free), preflight.FormatBytes(uint64(s.minFree))), nil)
		return services.WithPrompt(err, prompts.KeyNoSpace, nil)
	}
	return nil
}

func (s *Stager) limitArgs() map[string]string {
	return map[string]string{"limit": preflight.FormatBytes(uint64(max(s.maxBytes, 0)))}
}

// UserDir returns the staging directory that holds userID's uploads.
func (s *Stager) UserDir(userID string) string {
	return filepath.Join(s.root, UserDirName(userID))
}

// OutputDir creates a fresh directory for the artifacts of one dispatch.
// Each generation gets its own directory so a late result never collides
// with a newer run.
func (s *Stager) OutputDir(userID string, generation uint64) (string, error) {
	dir := filepath.Join(s.UserDir(userID), jobDirPrefix+strconv.FormatUint(generation, 10))
	if err := os.RemoveAll(dir); err != nil {
		return "", services.Wrap(services.ErrStagingFailed, component, "output dir", "reset", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrStagingFailed, component, "output dir", "create", err)
	}
	return dir, nil
}

// Cleanup removes everything staged for userID. It is safe to call when
// nothing was staged.
func (s *Stager) Cleanup(userID string) error {
	dir := s.UserDir(userID)
	if err := os.RemoveAll(dir); err != nil {
		return services.Wrap(services.ErrStagingFailed, component, "cleanup", dir, err)
	}
	return nil
}

// UserDirName maps a user id onto a directory name under the staging root.
func UserDirName(userID string) string {
	name := textutil.SanitizeFileName(userID)
	name = strings.Trim(name, ". ")
	if name == "" {
		name = "anonymous"
	}
	return userDirPrefix + name
}

// ActiveSet converts user ids into the directory-name set CleanStale skips.
func ActiveSet(userIDs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		set[UserDirName(id)] = struct{}{}
	}
	return set
}
