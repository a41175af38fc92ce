package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gnoswap-labs/tverify/internal/loops"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	loopHead  int
	dotFormat bool
	dotOutput string
)

var invariantCmd = &cobra.Command{
	Use:   "invariant <loops.yaml>",
	Short: "Compute the permission part of loop invariants",
	Long: `Reads a loop description and prints the permission forest of every loop head,
or renders it as a GraphViz file.
Example) tverify invariant --head 3 --dot -o loop.dot loops.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return runInvariant(ctx, cmd.OutOrStdout(), args[0], loopHead, dotFormat, dotOutput)
	},
}

func init() {
	invariantCmd.Flags().IntVar(&loopHead, "head", -1, "Only compute the invariant of this loop head")
	invariantCmd.Flags().BoolVar(&dotFormat, "dot", false, "Render forests in GraphViz format")
	invariantCmd.Flags().StringVarP(&dotOutput, "output", "o", "", "Output path for the rendered GraphViz file")
}

// runInvariant stops between loop heads once ctx is done.
func runInvariant(ctx context.Context, w io.Writer, path string, head int, dot bool, output string) error {
	provider, err := loops.LoadStaticProvider(path)
	if err != nil {
		logger.Error("Failed to load loop description", zap.String("path", path), zap.Error(err))
		return err
	}
	enc := loops.NewEncoder(provider, provider, provider)

	heads := provider.Heads()
	if head >= 0 {
		if !enc.IsLoopHead(loops.BasicBlock(head)) {
			return fmt.Errorf("basic block %d is not a loop head", head)
		}
		heads = []loops.BasicBlock{loops.BasicBlock(head)}
	}

	var buf strings.Builder
	for _, h := range heads {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("computing invariant of bb%d: %w", h, err)
		}
		forest := enc.ComputeLoopInvariant(h)
		if dot {
			if err := forest.PrintDot(&buf, fmt.Sprintf("loop_bb%d", h)); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(&buf, "bb%d (depth %d): %s\n", h, enc.LoopDepth(h), forest.DebugString())
	}

	if output != "" {
		if err := os.WriteFile(output, []byte(buf.String()), 0o644); err != nil {
			logger.Error("Failed to write output", zap.String("path", output), zap.Error(err))
			return err
		}
		fmt.Fprintf(w, "Invariants written to %s\n", output)
		return nil
	}
	_, err = io.WriteString(w, buf.String())
	return err
}
