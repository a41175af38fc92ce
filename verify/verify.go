package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/gnoswap-labs/tverify/internal/backend"
	"github.com/gnoswap-labs/tverify/internal/cache"
	"github.com/gnoswap-labs/tverify/internal/diag"
	"github.com/gnoswap-labs/tverify/internal/dispatch"
	"github.com/gnoswap-labs/tverify/internal/types"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PositionsSuffix is appended to a program path to find the positions
// snapshot written alongside it by the encoder.
const PositionsSuffix = ".positions.yaml"

type Verifier interface {
	Verify(ctx context.Context, path string) ([]types.Diagnostic, error)
}

// Session verifies program files through a dispatcher and translates the
// failures back into diagnostics.
type Session struct {
	dispatcher *dispatch.Dispatcher
	backend    string
	logger     *zap.Logger
}

// New creates a session for config. Extra dispatcher options are applied
// after the ones derived from config.
func New(config Config, logger *zap.Logger, opts ...dispatch.Option) (*Session, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := []dispatch.Option{dispatch.WithLogger(logger)}
	if config.CacheDir != "" {
		c, err := cache.New(config.CacheDir, logger)
		if err != nil {
			return nil, err
		}
		base = append(base, dispatch.WithCache(c))
	}

	d, err := dispatch.New(config.Backends, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Session{
		dispatcher: d,
		backend:    config.Backends[0].Name,
		logger:     logger,
	}, nil
}

// UseBackend selects the backend later programs are submitted to.
func (s *Session) UseBackend(name string) error {
	for _, b := range s.dispatcher.Backends() {
		if b == name {
			s.backend = name
			return nil
		}
	}
	return fmt.Errorf("%w: %q", dispatch.ErrUnknownBackend, name)
}

func (s *Session) Backend() string { return s.backend }

// Verify submits the program at path and waits for its diagnostics.
func (s *Session) Verify(ctx context.Context, path string) ([]types.Diagnostic, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program: %w", err)
	}
	registry, err := s.positions(path)
	if err != nil {
		return nil, err
	}

	h, err := s.dispatcher.Submit(s.backend, backend.Program{Name: path, Text: string(text)})
	if err != nil {
		return nil, err
	}
	res, err := h.Wait(ctx)
	if err != nil {
		return nil, err
	}

	diags := make([]types.Diagnostic, 0, len(res.Failures))
	for _, f := range res.Failures {
		diags = append(diags, registry.Translate(f))
	}
	return diags, nil
}

func (s *Session) positions(path string) (*diag.Registry, error) {
	sidecar := path + PositionsSuffix
	registry, err := diag.LoadFile(sidecar, s.logger)
	if err == nil {
		return registry, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("no positions file, failures will not be attributed", zap.String("program", path))
		return diag.NewRegistry(s.logger), nil
	}
	return nil, err
}

// Close drains the pending jobs and stops the backends.
func (s *Session) Close(ctx context.Context) error {
	return s.dispatcher.Shutdown(ctx)
}

func ProcessFiles(
	ctx context.Context,
	logger *zap.Logger,
	v Verifier,
	paths []string,
	processor func(context.Context, Verifier, string) ([]types.Diagnostic, error),
) ([]types.Diagnostic, error) {
	var all []types.Diagnostic
	for _, path := range paths {
		diags, err := ProcessPath(ctx, logger, v, path, processor)
		if err != nil {
			if logger != nil {
				logger.Error("Error processing path", zap.String("path", path), zap.Error(err))
			}
			return nil, err
		}
		all = append(all, diags...)
	}
	return all, nil
}

func ProcessPath(
	ctx context.Context,
	logger *zap.Logger,
	v Verifier,
	path string,
	processor func(context.Context, Verifier, string) ([]types.Diagnostic, error),
) ([]types.Diagnostic, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error accessing %s: %w", path, err)
	}

	if !info.IsDir() {
		if !hasDesiredExtension(path) {
			return nil, nil
		}
		return processor(ctx, v, path)
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && hasDesiredExtension(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking %s: %w", path, err)
	}
	sort.Strings(files)

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription(path),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))

	// results keep file order regardless of completion order
	results := make([][]types.Diagnostic, len(files))
	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, fp := range files {
		g.Go(func() error {
			diags, err := processor(gCtx, v, fp)
			if err != nil {
				if logger != nil {
					logger.Error("Error processing file", zap.String("file", fp), zap.Error(err))
				}
				return fmt.Errorf("%s: %w", fp, err)
			}
			mu.Lock()
			results[i] = diags
			mu.Unlock()
			_ = bar.Add(1)
			return nil
		})
	}
	err = g.Wait()
	_ = bar.Finish()

	var diags []types.Diagnostic
	for _, r := range results {
		diags = append(diags, r...)
	}
	return diags, err
}

func ProcessFile(ctx context.Context, v Verifier, path string) ([]types.Diagnostic, error) {
	return v.Verify(ctx, path)
}

var desiredExtensions = map[string]bool{
	".vpr": true,
}

func hasDesiredExtension(path string) bool {
	return desiredExtensions[filepath.Ext(path)]
}
