// Package internal implements the drop-folder loader: files placed in the
// source directory are submitted as documents once they stop changing.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shubhambtra/chatapp-api-sub000/config"
	"github.com/shubhambtra/chatapp-api-sub000/loader/source"
	"github.com/shubhambtra/chatapp-api-sub000/types"
)

type Submitter interface {
	SubmitFile(ctx context.Context, tenantID string, params types.SubmitFileParams) (types.SubmitResponse, error)
}

type fileState struct {
	firstSeen time.Time
	size      int64
	modTime   time.Time
}

type Watcher struct {
	cfg       config.LoaderConfig
	submitter Submitter
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time

	mu         sync.Mutex
	seen       map[string]fileState
	processing map[string]bool
	// done holds handled files that could not be moved out of the source
	// directory. They are skipped until their size or modtime changes.
	done map[string]fileState
}

func NewWatcher(cfg config.LoaderConfig, submitter Submitter, logger *slog.Logger) (*Watcher, error) {
	if cfg.TenantID == "" {
		return nil, errors.New("loader tenant id is not set")
	}
	if err := createDirectories(cfg.SourceDir, cfg.ArchiveDir, cfg.BadDir); err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:        cfg,
		submitter:  submitter,
		logger:     logger,
		interval:   time.Second,
		now:        time.Now,
		seen:       make(map[string]fileState),
		processing: make(map[string]bool),
		done:       make(map[string]fileState),
	}, nil
}

// Run watches the source directory until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fileChan := make(chan string, 10)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(fileChan)
		w.WatchFile(ctx, fileChan)
		return nil
	})
	g.Go(func() error {
		w.ProcessFile(ctx, fileChan)
		return nil
	})
	return g.Wait()
}

func (w *Watcher) WatchFile(ctx context.Context, fileChan chan<- string) {
	w.logger.Info("start monitoring folder", "dir", w.cfg.SourceDir, "tenant_id", w.cfg.TenantID)
	defer w.logger.Info("file watcher stopped")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, path := range w.Scan() {
				select {
				case fileChan <- path:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Scan lists the source directory once and returns the files that have not
// changed for the monitoring period. Returned files are marked in progress
// until Submit finishes with them.
func (w *Watcher) Scan() []string {
	entries, err := os.ReadDir(w.cfg.SourceDir)
	if err != nil {
		w.logger.Error("error reading source directory", "dir", w.cfg.SourceDir, "error", err)
		return nil
	}

	now := w.now()
	current := make(map[string]bool, len(entries))
	var ready []string

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(w.cfg.SourceDir, entry.Name())
		current[path] = true
		if w.processing[path] {
			continue
		}
		if d, ok := w.done[path]; ok {
			if d.size == info.Size() && d.modTime.Equal(info.ModTime()) {
				continue
			}
			delete(w.done, path)
		}

		st, ok := w.seen[path]
		if !ok || st.size != info.Size() || !st.modTime.Equal(info.ModTime()) {
			if !ok {
				w.logger.Info("new file detected", "path", path)
			}
			w.seen[path] = fileState{firstSeen: now, size: info.Size(), modTime: info.ModTime()}
			continue
		}
		if now.Sub(st.firstSeen) < w.cfg.MonitoringTime {
			continue
		}
		w.processing[path] = true
		ready = append(ready, path)
	}

	for path := range w.seen {
		if !current[path] {
			delete(w.seen, path)
			delete(w.processing, path)
		}
	}
	for path := range w.done {
		if !current[path] {
			delete(w.done, path)
		}
	}
	return ready
}

func (w *Watcher) ProcessFile(ctx context.Context, fileChan <-chan string) {
	defer w.logger.Info("file processor stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-fileChan:
			if !ok {
				return
			}
			if err := w.Submit(ctx, path); err != nil && ctx.Err() == nil {
				w.logger.Error("error processing file", "path", path, "error", err)
			}
		}
	}
}

// Submit hands one file to the submitter, then moves it to the archive, or
// to the bad directory if it was rejected.
func (w *Watcher) Submit(ctx context.Context, path string) error {
	defer w.forget(path)

	name := filepath.Base(path)
	docType, ok := source.TypeFromName(name)
	if !ok {
		w.finish(path, true)
		return fmt.Errorf("%w: %s", types.ErrUnsupportedFormat, name)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	res, err := w.submitter.SubmitFile(ctx, w.cfg.TenantID, types.SubmitFileParams{
		Title:    source.TitleFromName(name),
		Type:     docType,
		FileName: name,
		MimeType: source.MimeFromType(docType),
		Data:     data,
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		w.finish(path, true)
		return err
	}

	w.logger.Info("file submitted", "path", path, "document_id", res.ID, "tenant_id", w.cfg.TenantID)
	w.finish(path, false)
	return nil
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.processing, path)
	delete(w.seen, path)
	w.mu.Unlock()
}

// finish moves a handled file out of the source directory. A file that
// cannot be moved is remembered as done so later scans do not submit it again.
func (w *Watcher) finish(path string, bad bool) {
	info, statErr := os.Stat(path)
	dest, err := w.MoveToArchive(path, bad)
	if err != nil {
		w.logger.Error("error moving file", "path", path, "error", err)
		if statErr == nil {
			w.mu.Lock()
			w.done[path] = fileState{size: info.Size(), modTime: info.ModTime()}
			w.mu.Unlock()
		}
		return
	}
	w.logger.Info("file moved", "path", path, "dest", dest, "bad", bad)
}

// MoveToArchive moves the file into a dated subdirectory of the archive (or
// bad) directory, suffixing the name on conflicts.
func (w *Watcher) MoveToArchive(filePath string, bad bool) (string, error) {
	base := w.cfg.ArchiveDir
	if bad {
		base = w.cfg.BadDir
	}
	destDir := filepath.Join(base, w.now().Format("2006-01-02"))
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("error creating directory: %w", err)
	}

	destPath := filepath.Join(destDir, filepath.Base(filePath))
	ext := filepath.Ext(destPath)
	baseName := strings.TrimSuffix(filepath.Base(destPath), ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(destPath); errors.Is(err, os.ErrNotExist) {
			break
		}
		destPath = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", baseName, counter, ext))
	}

	if err := os.Rename(filePath, destPath); err == nil {
		return destPath, nil
	}
	// Rename fails across filesystems.
	if err := copyFile(filePath, destPath); err != nil {
		return "", err
	}
	return destPath, os.Remove(filePath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func createDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			return errors.New("loader directories must be set")
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
