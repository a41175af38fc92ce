package formatter

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/gnoswap-labs/tverify/internal/types"
)

// SourceCode stores the content of a source code file.
type SourceCode struct {
	Lines []string
}

// ReadSourceCode reads the content of a file and returns it as a `SourceCode` struct.
func ReadSourceCode(filename string) (*SourceCode, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return &SourceCode{Lines: strings.Split(string(content), "\n")}, nil
}

// SourceLoader returns the source of a file named by a diagnostic span.
type SourceLoader func(filename string) (*SourceCode, error)

// Render writes diagnostics grouped by source file. Diagnostics without a
// span come first; a file that cannot be read is rendered without snippets.
func Render(w io.Writer, diags []types.Diagnostic, load SourceLoader) error {
	if load == nil {
		load = ReadSourceCode
	}

	byFile := make(map[string][]types.Diagnostic)
	for _, d := range diags {
		file := ""
		if d.HasSpan() {
			file = d.Span.Start.Filename
		}
		byFile[file] = append(byFile[file], d)
	}

	files := make([]string, 0, len(byFile))
	for file := range byFile {
		files = append(files, file)
	}
	sort.Strings(files)

	for _, file := range files {
		group := byFile[file]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Span.Start.Line < group[j].Span.Start.Line
		})

		var source *SourceCode
		if file != "" {
			// a missing file only costs the snippet
			source, _ = load(file)
		}
		if _, err := fmt.Fprint(w, GenerateFormattedDiagnostics(group, source)); err != nil {
			return err
		}
	}
	return nil
}
