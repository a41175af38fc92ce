package loops

import (
	"fmt"

	"github.com/gnoswap-labs/tverify/internal/forest"
	"github.com/gnoswap-labs/tverify/internal/place"
)

// Encoder answers loop queries for one procedure and computes the
// permission part of its loop invariants.
type Encoder struct {
	loops  Structure
	init   Initialization
	fields forest.Expander
}

// NewEncoder creates an encoder over the given collaborators. fields may be
// nil when no loop needs unfolding around an unreachable path.
func NewEncoder(loops Structure, init Initialization, fields forest.Expander) *Encoder {
	return &Encoder{
		loops:  loops,
		init:   init,
		fields: fields,
	}
}

// IsLoopHead reports whether bb is a loop head.
func (e *Encoder) IsLoopHead(bb BasicBlock) bool {
	return e.loops.IsLoopHead(bb)
}

// LoopHeadOf returns the head of the innermost loop containing bb.
// Note: a loop head is loop head of itself.
func (e *Encoder) LoopHeadOf(bb BasicBlock) (BasicBlock, bool) {
	return e.loops.LoopHeadOf(bb)
}

// LoopDepth returns the nesting depth of a loop head.
func (e *Encoder) LoopDepth(head BasicBlock) int {
	e.mustBeLoopHead(head)
	return e.loops.LoopDepth(head)
}

// ComputeLoopInvariant builds the permission forest the invariant of the
// loop headed by head must assert.
//
//  1. Collect the places accessed in the loop body.
//  2. Keep the accesses whose root is defined before the loop.
//  3. Drop accesses subsumed by other accesses (Classify).
//  4. Build the forest, carving out places unreachable at the head.
func (e *Encoder) ComputeLoopInvariant(head BasicBlock) *forest.Forest {
	e.mustBeLoopHead(head)

	defined := e.init.DefinedBefore(head)
	if defined == nil {
		defined = []place.Place{}
	}
	roots := make(map[string]struct{}, len(defined))
	for _, d := range defined {
		roots[d.Root()] = struct{}{}
	}

	var accesses []Access
	for _, a := range e.loops.AccessedPaths(head) {
		if _, ok := roots[a.Place.Root()]; ok {
			accesses = append(accesses, a)
		}
	}

	leaves := Classify(accesses)
	return forest.Build(forest.Input{
		WriteLeaves: leaves.WriteLeaves,
		ReadLeaves:  leaves.ReadLeaves,
		Unreachable: e.loops.Unreachable(head),
		Defined:     defined,
	}, e.fields)
}

func (e *Encoder) mustBeLoopHead(bb BasicBlock) {
	if !e.loops.IsLoopHead(bb) {
		panic(fmt.Sprintf("loops: basic block %d is not a loop head", bb))
	}
}
