package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

type execOutput struct {
	Failures []Failure `json:"failures"`
}

// ExecSession runs an external verifier once per program. The program text
// is written to a temporary file whose path is appended to the arguments, and
// the verifier is expected to print its failures as JSON on stdout.
type ExecSession struct {
	cfg Config
}

// NewExec is a Factory for external verifier processes.
func NewExec(_ context.Context, cfg Config) (Session, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("backend %q: no command configured", cfg.Name)
	}
	if _, err := exec.LookPath(cfg.Command); err != nil {
		return nil, fmt.Errorf("backend %q: %w", cfg.Name, err)
	}
	return &ExecSession{cfg: cfg}, nil
}

func (s *ExecSession) Verify(ctx context.Context, prog Program) (Result, error) {
	tmp, err := os.CreateTemp("", "tverify-*.vpr")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create program file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(prog.Text); err != nil {
		tmp.Close()
		return Result{}, fmt.Errorf("failed to write program file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to write program file: %w", err)
	}

	args := append(append([]string{}, s.cfg.Args...), tmp.Name())
	cmd := exec.CommandContext(ctx, s.cfg.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return Result{}, fmt.Errorf("backend %q: failed to run %s: %w", s.cfg.Name, s.cfg.Command, runErr)
	}

	// verifiers exit non-zero when they find failures, so the exit status
	// alone is not an error as long as the report is readable.
	var out execOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		if runErr != nil {
			return Result{}, fmt.Errorf("backend %q: %w: %s", s.cfg.Name, runErr, bytes.TrimSpace(stderr.Bytes()))
		}
		return Result{}, fmt.Errorf("backend %q: malformed output: %w", s.cfg.Name, err)
	}

	return Result{
		Program:  prog.Name,
		Backend:  s.cfg.Name,
		Failures: out.Failures,
	}, nil
}

func (s *ExecSession) Close() error { return nil }
