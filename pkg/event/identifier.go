package event

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// KindEvent is the identifier kind tag for event records.
const KindEvent = "evt"

// Identifier is the self-describing record identifier: a kind tag, the
// identity of the originating shard, and that shard's monotonically
// increasing sequence number. Together they are globally unique and
// decodable back to their origin without consulting the registry.
//
// Wire form: "kind.shard-uuid.sequence", e.g.
// "evt.1c0e8400-e29b-41d4-a716-446655440000.17".
type Identifier struct {
	Kind     string
	Shard    string
	Sequence uint64
}

// NewIdentifier builds an event identifier for a shard and sequence.
func NewIdentifier(kind, shard string, sequence uint64) Identifier {
	return Identifier{Kind: kind, Shard: shard, Sequence: sequence}
}

// String encodes the identifier to its wire form.
func (id Identifier) String() string {
	return fmt.Sprintf("%s.%s.%d", id.Kind, id.Shard, id.Sequence)
}

// Validate checks the identifier's components.
func (id Identifier) Validate() error {
	if id.Kind == "" || strings.Contains(id.Kind, ".") {
		return fmt.Errorf("invalid identifier kind: %q", id.Kind)
	}
	if _, err := uuid.Parse(id.Shard); err != nil {
		return fmt.Errorf("invalid shard identity in identifier: %q", id.Shard)
	}
	return nil
}

// ParseIdentifier decodes a wire-form identifier, validating each part.
func ParseIdentifier(s string) (Identifier, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return Identifier{}, fmt.Errorf("malformed identifier: %q", s)
	}

	sequence, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return Identifier{}, fmt.Errorf("malformed identifier sequence in %q: %w", s, err)
	}

	id := Identifier{Kind: parts[0], Shard: parts[1], Sequence: sequence}
	if err := id.Validate(); err != nil {
		return Identifier{}, err
	}
	return id, nil
}
