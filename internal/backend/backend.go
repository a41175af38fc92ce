package backend

import (
	"context"
	"crypto/md5"
	"fmt"
)

// Program is an encoded verification program handed to a backend.
type Program struct {
	Name string
	Text string
}

// Hash returns a content hash used to key cached results.
func (p Program) Hash() string {
	return fmt.Sprintf("%x", md5.Sum([]byte(p.Text)))
}

// Failure is a single verification failure as reported by a backend.
// PosID is the position identifier the failing obligation was tagged with,
// or empty when the backend could not attribute the failure.
type Failure struct {
	Kind    string `json:"kind" yaml:"kind"`
	Message string `json:"message" yaml:"message"`
	PosID   string `json:"pos_id" yaml:"pos_id"`
}

// Result is the outcome of verifying one program.
type Result struct {
	Program  string    `json:"program"`
	Backend  string    `json:"backend"`
	Failures []Failure `json:"failures"`
}

// Verified reports whether the backend proved every obligation.
func (r Result) Verified() bool {
	return len(r.Failures) == 0
}

// Session is a live connection to a verification backend. A session is used
// by one goroutine at a time.
type Session interface {
	Verify(ctx context.Context, prog Program) (Result, error)
	Close() error
}

// Config describes how to start a backend.
type Config struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

// Key identifies the configuration. Two configs with the same key share a worker.
func (c Config) Key() string {
	return c.Name
}

// Factory opens a session for a configuration.
type Factory func(ctx context.Context, cfg Config) (Session, error)

// FuncSession adapts a function to the Session interface.
type FuncSession func(ctx context.Context, prog Program) (Result, error)

func (f FuncSession) Verify(ctx context.Context, prog Program) (Result, error) {
	return f(ctx, prog)
}

func (FuncSession) Close() error { return nil }
