package loops

import "github.com/gnoswap-labs/tverify/internal/place"

// BasicBlock identifies a basic block of the procedure body.
type BasicBlock int

// Structure is the loop-structure collaborator.
type Structure interface {
	IsLoopHead(bb BasicBlock) bool
	// LoopHeadOf returns the head of the innermost loop containing bb.
	// A loop head is its own head.
	LoopHeadOf(bb BasicBlock) (BasicBlock, bool)
	// LoopDepth is defined only for loop heads.
	LoopDepth(head BasicBlock) int
	// AccessedPaths lists every place accessed inside the loop body.
	AccessedPaths(head BasicBlock) []Access
	// Unreachable lists places moved out or exclusively borrowed at the head.
	Unreachable(head BasicBlock) []place.Place
}

// Initialization is the definite-initialization collaborator.
type Initialization interface {
	// DefinedBefore lists places guaranteed initialized on entry to the loop.
	DefinedBefore(head BasicBlock) []place.Place
}
