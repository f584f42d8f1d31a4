// Package watch triggers a catalog refresh when a local source file changes.
package watch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// DefaultDebounce collapses the burst of events an editor or exporter
// produces for one save.
const DefaultDebounce = 250 * time.Millisecond

// Watcher watches a fixed set of files.
type Watcher struct {
	fs       *fsnotify.Watcher
	files    map[string]struct{}
	onChange func()
	debounce time.Duration
	lg       *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before onChange runs.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(w *Watcher) { w.lg = lg }
}

// New watches paths. Their parent directories are watched instead of the
// files so that atomic replace-by-rename saves are seen.
func New(paths []string, onChange func(), opts ...Option) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, errors.New("no paths to watch")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create watcher")
	}

	w := &Watcher{
		fs:       fsw,
		files:    make(map[string]struct{}, len(paths)),
		onChange: onChange,
		debounce: DefaultDebounce,
		lg:       zap.NewNop(),
	}
	for _, o := range opts {
		o(w)
	}

	dirs := map[string]struct{}{}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fsw.Close()
			return nil, errors.Wrapf(err, "resolve %q", p)
		}
		w.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, errors.Wrapf(err, "watch %q", dir)
		}
	}
	return w, nil
}

// Run delivers debounced change notifications until ctx is done, then
// releases the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fs.Close() }()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.lg.Debug("Source file changed", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.onChange()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.lg.Warn("Watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	_, ok := w.files[filepath.Clean(ev.Name)]
	return ok
}
