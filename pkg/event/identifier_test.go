package event

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifierRoundTrip(t *testing.T) {
	shard := uuid.New().String()
	id := NewIdentifier(KindEvent, shard, 17)

	parsed, err := ParseIdentifier(id.String())
	require.NoError(t, err)
	assert.Equal(t, KindEvent, parsed.Kind)
	assert.Equal(t, shard, parsed.Shard)
	assert.Equal(t, uint64(17), parsed.Sequence)
}

func TestParseIdentifierRejectsMalformedInput(t *testing.T) {
	shard := uuid.New().String()

	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"too few parts", "evt." + shard},
		{"non-numeric sequence", "evt." + shard + ".abc"},
		{"non-uuid shard", "evt.not-a-uuid.3"},
		{"empty kind", "." + shard + ".3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseIdentifier(tc.input)
			assert.Error(t, err)
		})
	}
}

func TestIdentifierValidate(t *testing.T) {
	shard := uuid.New().String()
	assert.NoError(t, Identifier{Kind: "evt", Shard: shard, Sequence: 1}.Validate())
	assert.Error(t, Identifier{Kind: "", Shard: shard}.Validate())
	assert.Error(t, Identifier{Kind: "ev.t", Shard: shard}.Validate())
	assert.Error(t, Identifier{Kind: "evt", Shard: "nope"}.Validate())
}
