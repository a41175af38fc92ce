package loops

import (
	"fmt"

	"github.com/gnoswap-labs/tverify/internal/place"
	"gopkg.in/yaml.v3"
)

// AccessKind describes how a loop body touches a place.
type AccessKind int

const (
	Read AccessKind = iota
	// DestructiveRead moves the value out of the place.
	DestructiveRead
	Write
)

var accessKindNames = map[AccessKind]string{
	Read:            "read",
	DestructiveRead: "move",
	Write:           "write",
}

func (k AccessKind) String() string {
	if name, ok := accessKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("AccessKind(%d)", int(k))
}

// IsWriteAccess reports whether the access needs write permission.
func (k AccessKind) IsWriteAccess() bool {
	return k == Write || k == DestructiveRead
}

// ParseAccessKind converts a textual access kind. "destructive-read" is
// accepted as an alias of "move".
func ParseAccessKind(s string) (AccessKind, error) {
	switch s {
	case "read":
		return Read, nil
	case "move", "destructive-read":
		return DestructiveRead, nil
	case "write":
		return Write, nil
	default:
		return 0, fmt.Errorf("unknown access kind %q", s)
	}
}

func (k AccessKind) MarshalYAML() (any, error) {
	return k.String(), nil
}

func (k *AccessKind) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseAccessKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Access is one place touched inside a loop body.
type Access struct {
	Place place.Place `yaml:"place"`
	Kind  AccessKind  `yaml:"kind"`
}

func (a Access) String() string {
	return fmt.Sprintf("%s(%s)", a.Kind, a.Place)
}
