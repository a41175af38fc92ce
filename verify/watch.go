package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gnoswap-labs/tverify/internal/types"
	"go.uber.org/zap"
)

// DefaultDebounce groups bursts of writes to the same program into one run.
const DefaultDebounce = 100 * time.Millisecond

// ReportFunc receives the outcome of every re-verification.
type ReportFunc func(path string, diags []types.Diagnostic, err error)

// Watcher re-verifies programs when they or their positions file change.
type Watcher struct {
	v        Verifier
	logger   *zap.Logger
	report   ReportFunc
	watcher  *fsnotify.Watcher
	debounce time.Duration

	files map[string]bool
	roots []string
}

func NewWatcher(v Verifier, logger *zap.Logger, report ReportFunc) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		v:        v,
		logger:   logger,
		report:   report,
		watcher:  fw,
		debounce: DefaultDebounce,
		files:    make(map[string]bool),
	}, nil
}

// SetDebounce changes the quiet period before a changed program is verified.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Add watches a program file or every program under a directory.
func (w *Watcher) Add(path string) error {
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", path, err)
	}
	if !info.IsDir() {
		w.files[path] = true
		return w.watcher.Add(filepath.Dir(path))
	}

	w.roots = append(w.roots, path)
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error adding directory to watcher: %w", err)
	}
	return nil
}

// Run handles file events until ctx is done, then releases the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	pending := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			program, ok := w.program(event)
			if !ok {
				continue
			}
			pending[program] = true
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", zap.Error(err))
		case <-timer.C:
			w.flush(ctx, pending)
			pending = make(map[string]bool)
		}
	}
}

// program maps an event to the program it affects.
func (w *Watcher) program(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return "", false
	}
	name := filepath.Clean(strings.TrimSuffix(event.Name, PositionsSuffix))
	if !hasDesiredExtension(name) {
		return "", false
	}
	if w.files[name] {
		return name, true
	}
	for _, root := range w.roots {
		if name == root || strings.HasPrefix(name, root+string(filepath.Separator)) {
			return name, true
		}
	}
	return "", false
}

func (w *Watcher) flush(ctx context.Context, pending map[string]bool) {
	programs := make([]string, 0, len(pending))
	for p := range pending {
		programs = append(programs, p)
	}
	sort.Strings(programs)

	for _, p := range programs {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		diags, err := w.v.Verify(ctx, p)
		if err != nil {
			w.logger.Error("Error verifying program", zap.String("program", p), zap.Error(err))
		} else {
			w.logger.Info("Program verified", zap.String("program", p), zap.Int("diagnostics", len(diags)))
		}
		if w.report != nil {
			w.report(p, diags, err)
		}
	}
}
