package catalog

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/domain/scoring"
	"fleetinspect/internal/errs"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher keeps a scoring catalog in step with its TOML file. A file that
// fails to parse is logged and the previous templates stay in use.
type Watcher struct {
	path     string
	catalog  *scoring.Catalog
	debounce time.Duration
}

func NewWatcher(path string, catalog *scoring.Catalog) *Watcher {
	return &Watcher{
		path:     filepath.Clean(strings.TrimSpace(path)),
		catalog:  catalog,
		debounce: defaultDebounce,
	}
}

// Load reads the file once and swaps the catalog contents.
func (w *Watcher) Load(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if w.catalog == nil {
		return errors.New("checklist catalog is required")
	}
	templates, err := scoring.LoadCatalogFile(w.path)
	if err != nil {
		return err
	}
	w.catalog.Replace(templates)

	logging.Info(ctx, "checklist catalog loaded",
		slog.String("component", "infrastructure.catalog"),
		slog.String("path", w.path),
		slog.Int("templates", len(templates)),
	)
	return nil
}

// Run watches the file's directory so editors that save by rename are
// picked up, and reloads after writes settle. It returns when ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	logCtx := logging.WithAttrs(ctx, slog.String("component", "infrastructure.catalog"), slog.String("path", w.path))

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(err, "create catalog watcher")
	}
	defer fsw.Close()
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return errs.Wrapf(err, "watch %q", filepath.Dir(w.path))
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.Warn(logCtx, "catalog watcher error", slog.Any("err", errs.Loggable(err)))
		case <-timer.C:
			if err := w.Load(ctx); err != nil {
				logging.Warn(logCtx, "catalog reload rejected, keeping previous templates", slog.Any("err", errs.Loggable(err)))
			}
		}
	}
}
