package loops

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/gnoswap-labs/tverify/internal/place"
	"gopkg.in/yaml.v3"
)

// LoopDescription is the static description of one loop.
type LoopDescription struct {
	Head        BasicBlock    `yaml:"head"`
	Depth       int           `yaml:"depth"`
	Blocks      []BasicBlock  `yaml:"blocks"`
	Defined     []place.Place `yaml:"defined"`
	Accesses    []Access      `yaml:"accesses"`
	Unreachable []place.Place `yaml:"unreachable"`
}

// Description is a whole procedure's worth of loop facts.
type Description struct {
	Loops []LoopDescription `yaml:"loops"`
	// Fields maps a place to its immediate fields, in declaration order.
	Fields map[string][]string `yaml:"fields"`
}

// StaticProvider serves collaborator queries from a Description. It
// implements Structure, Initialization and forest.Expander.
type StaticProvider struct {
	desc   Description
	heads  map[BasicBlock]*LoopDescription
	fields map[string][]string
}

// NewStaticProvider indexes desc. Duplicate heads are rejected.
func NewStaticProvider(desc Description) (*StaticProvider, error) {
	sp := &StaticProvider{
		desc:   desc,
		heads:  make(map[BasicBlock]*LoopDescription, len(desc.Loops)),
		fields: make(map[string][]string, len(desc.Fields)),
	}
	for i := range sp.desc.Loops {
		loop := &sp.desc.Loops[i]
		if _, dup := sp.heads[loop.Head]; dup {
			return nil, fmt.Errorf("duplicate loop head %d", loop.Head)
		}
		sp.heads[loop.Head] = loop
	}
	for key, names := range desc.Fields {
		p, err := place.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("fields: %w", err)
		}
		sp.fields[p.Key()] = names
	}
	return sp, nil
}

// ParseDescription decodes a YAML loop description.
func ParseDescription(r io.Reader) (Description, error) {
	var desc Description
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&desc); err != nil && err != io.EOF {
		return desc, fmt.Errorf("failed to decode loop description: %w", err)
	}
	return desc, nil
}

// LoadStaticProvider reads a YAML loop description from path.
func LoadStaticProvider(path string) (*StaticProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	desc, err := ParseDescription(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewStaticProvider(desc)
}

// Heads returns every loop head in ascending order.
func (sp *StaticProvider) Heads() []BasicBlock {
	heads := make([]BasicBlock, 0, len(sp.heads))
	for h := range sp.heads {
		heads = append(heads, h)
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i] < heads[j] })
	return heads
}

func (sp *StaticProvider) IsLoopHead(bb BasicBlock) bool {
	_, ok := sp.heads[bb]
	return ok
}

func (sp *StaticProvider) LoopHeadOf(bb BasicBlock) (BasicBlock, bool) {
	var (
		best  BasicBlock
		depth = -1
	)
	for i := range sp.desc.Loops {
		loop := &sp.desc.Loops[i]
		if loop.Head != bb && !containsBlock(loop.Blocks, bb) {
			continue
		}
		if loop.Depth > depth {
			best, depth = loop.Head, loop.Depth
		}
	}
	return best, depth >= 0
}

func (sp *StaticProvider) LoopDepth(head BasicBlock) int {
	return sp.mustLoop(head).Depth
}

func (sp *StaticProvider) AccessedPaths(head BasicBlock) []Access {
	return sp.mustLoop(head).Accesses
}

func (sp *StaticProvider) Unreachable(head BasicBlock) []place.Place {
	return sp.mustLoop(head).Unreachable
}

func (sp *StaticProvider) DefinedBefore(head BasicBlock) []place.Place {
	return sp.mustLoop(head).Defined
}

// Expand returns the fields declared for p.
func (sp *StaticProvider) Expand(p place.Place) []place.Place {
	names := sp.fields[p.Key()]
	out := make([]place.Place, 0, len(names))
	for _, name := range names {
		if name == "*" {
			out = append(out, p.Deref())
			continue
		}
		out = append(out, p.Field(name))
	}
	return out
}

func (sp *StaticProvider) mustLoop(head BasicBlock) *LoopDescription {
	loop, ok := sp.heads[head]
	if !ok {
		panic(fmt.Sprintf("loops: basic block %d is not a loop head", head))
	}
	return loop
}

func containsBlock(blocks []BasicBlock, bb BasicBlock) bool {
	for _, b := range blocks {
		if b == bb {
			return true
		}
	}
	return false
}
