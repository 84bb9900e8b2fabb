// Package chunk implements the bounded-size transfer codec used to move a
// large serialized collection across a transport with a per-call payload
// ceiling. Split and Join are stateless pure functions: the collection is
// serialized afresh on every Split call, so the result is only coherent
// across chunks if no mutation happens between the first and last fetch of
// one logical read. That obligation sits with the caller; the aggregation
// protocol fetches chunk 0 first specifically to learn the last index
// before requesting the rest.
package chunk

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dreyhq/drey/pkg/apierr"
)

// Range identifies one chunk within a logical read: the index served and
// the last index available. A Range of (0,0) means the whole payload fit
// in a single chunk.
type Range struct {
	Index int `json:"index"`
	Last  int `json:"last"`
}

// Split serializes v and returns the byte range for the requested chunk.
//
// When the serialized size is below maxBytes the whole payload is returned
// as chunk (0,0). Otherwise the last index is floor(size/maxBytes) and
// chunk i covers [i*maxBytes, min((i+1)*maxBytes, size)); the final chunk
// may be empty when size is an exact multiple of maxBytes.
func Split(v any, chunkIndex, maxBytes int) ([]byte, Range, error) {
	if maxBytes < 1 {
		return nil, Range{}, apierr.BadRequest("BAD_CHUNK_SIZE", fmt.Sprintf("max bytes per chunk must be >= 1, got %d", maxBytes))
	}
	if chunkIndex < 0 {
		return nil, Range{}, apierr.BadRequest("BAD_CHUNK_INDEX", fmt.Sprintf("chunk index must be >= 0, got %d", chunkIndex))
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return nil, Range{}, fmt.Errorf("failed to serialize collection: %w", err)
	}

	if len(payload) < maxBytes {
		if chunkIndex != 0 {
			return nil, Range{}, apierr.BadRequest("BAD_CHUNK_INDEX", fmt.Sprintf("chunk %d out of range, payload is a single chunk", chunkIndex))
		}
		return payload, Range{Index: 0, Last: 0}, nil
	}

	last := len(payload) / maxBytes
	if chunkIndex > last {
		return nil, Range{}, apierr.BadRequest("BAD_CHUNK_INDEX", fmt.Sprintf("chunk %d out of range, last chunk is %d", chunkIndex, last))
	}

	start := chunkIndex * maxBytes
	end := start + maxBytes
	if end > len(payload) {
		end = len(payload)
	}
	if start > len(payload) {
		start = len(payload)
	}

	return payload[start:end], Range{Index: chunkIndex, Last: last}, nil
}

// Join concatenates the chunks of one logical read in order and
// deserializes the result into out.
func Join(chunks [][]byte, out any) error {
	payload := bytes.Join(chunks, nil)
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to deserialize joined chunks: %w", err)
	}
	return nil
}
