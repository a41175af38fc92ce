package loops

import (
	"github.com/gnoswap-labs/tverify/internal/place"
)

// Classification is the reduced set of places a loop invariant must claim.
type Classification struct {
	// WriteLeaves need write permission, in first-seen order.
	WriteLeaves []place.Place
	// ReadLeaves need read permission, in first-seen order.
	ReadLeaves []place.Place
}

// Classify reduces the accesses of a loop body to write and read leaves.
//
// A shorter path subsumes its extensions: permission on x.f covers x.f.g.
//
//   - A write-class access (write or move) is a write leaf unless another
//     write-class access is a strict prefix of it.
//   - A read access is a read leaf unless any other access is a strict
//     prefix of it, or the same place is already a write leaf.
//
// Duplicates collapse to their first occurrence. Classify is total and
// deterministic: the same input always yields the same output, order
// included.
func Classify(accesses []Access) Classification {
	var out Classification

	for _, a := range accesses {
		if !a.Kind.IsWriteAccess() {
			continue
		}
		subsumed := false
		for _, other := range accesses {
			if other.Kind.IsWriteAccess() && other.Place.IsStrictPrefixOf(a.Place) {
				subsumed = true
				break
			}
		}
		if !subsumed && !containsPlace(out.WriteLeaves, a.Place) {
			out.WriteLeaves = append(out.WriteLeaves, a.Place)
		}
	}

	for _, a := range accesses {
		if a.Kind.IsWriteAccess() {
			continue
		}
		subsumed := false
		for _, other := range accesses {
			if other.Place.IsStrictPrefixOf(a.Place) {
				subsumed = true
				break
			}
		}
		if subsumed || containsPlace(out.WriteLeaves, a.Place) || containsPlace(out.ReadLeaves, a.Place) {
			continue
		}
		out.ReadLeaves = append(out.ReadLeaves, a.Place)
	}

	return out
}

func containsPlace(ps []place.Place, p place.Place) bool {
	for _, q := range ps {
		if q.Equal(p) {
			return true
		}
	}
	return false
}
