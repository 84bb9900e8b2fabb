package chunk

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreyhq/drey/pkg/apierr"
)

func TestSplitSingleChunk(t *testing.T) {
	data, rng, err := Split([]string{"a", "b"}, 0, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, Range{Index: 0, Last: 0}, rng)

	var out []string
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, []string{"a", "b"}, out)
}

func TestSplitMultiChunk(t *testing.T) {
	// A payload whose JSON form is comfortably larger than the chunk size.
	payload := strings.Repeat("x", 100)
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	maxBytes := 40
	wantLast := len(raw) / maxBytes

	var chunks [][]byte
	first, rng, err := Split(payload, 0, maxBytes)
	require.NoError(t, err)
	require.Equal(t, wantLast, rng.Last)
	assert.Len(t, first, maxBytes)
	chunks = append(chunks, first)

	for i := 1; i <= rng.Last; i++ {
		data, r, err := Split(payload, i, maxBytes)
		require.NoError(t, err)
		assert.Equal(t, i, r.Index)
		assert.Equal(t, wantLast, r.Last)
		chunks = append(chunks, data)
	}

	var out string
	require.NoError(t, Join(chunks, &out))
	assert.Equal(t, payload, out)
}

func TestSplitExactMultipleYieldsEmptyFinalChunk(t *testing.T) {
	// "xx" marshals to 4 bytes; with maxBytes 2 the last index is 2 and
	// chunk 2 is empty.
	data, rng, err := Split("xx", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, Range{Index: 2, Last: 2}, rng)
	assert.Empty(t, data)
}

func TestSplitOutOfRange(t *testing.T) {
	_, _, err := Split("payload", 99, 4)
	assert.True(t, apierr.Is(err, apierr.KindBadRequest))

	_, _, err = Split("p", 1, 1<<20)
	assert.True(t, apierr.Is(err, apierr.KindBadRequest))

	_, _, err = Split("p", -1, 1<<20)
	assert.True(t, apierr.Is(err, apierr.KindBadRequest))

	_, _, err = Split("p", 0, 0)
	assert.True(t, apierr.Is(err, apierr.KindBadRequest))
}

func TestJoinRejectsGarbage(t *testing.T) {
	var out string
	err := Join([][]byte{[]byte(`"ok`), []byte(``)}, &out)
	assert.Error(t, err)
}
