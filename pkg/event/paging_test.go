package event

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func numbered(n int) []*Entry {
	entries := make([]*Entry, n)
	for i := range entries {
		entries[i] = &Entry{Identifier: fmt.Sprintf("evt.a.%d", i+1)}
	}
	return entries
}

func TestPaginate(t *testing.T) {
	items := numbered(25)

	t.Run("full middle page", func(t *testing.T) {
		page := Paginate(items, 10, 1)
		assert.Equal(t, 25, page.Total)
		assert.Equal(t, 3, page.TotalPages)
		assert.Len(t, page.Data, 10)
		assert.Equal(t, "evt.a.11", page.Data[0].Identifier)
	})

	t.Run("short last page", func(t *testing.T) {
		page := Paginate(items, 10, 2)
		assert.Len(t, page.Data, 5)
		assert.Equal(t, "evt.a.21", page.Data[0].Identifier)
	})

	t.Run("page beyond the end is empty, not an error", func(t *testing.T) {
		page := Paginate(items, 10, 7)
		assert.Empty(t, page.Data)
		assert.Equal(t, 25, page.Total)
		assert.Equal(t, 3, page.TotalPages)
	})

	t.Run("limit below one yields no data but reports total", func(t *testing.T) {
		page := Paginate(items, 0, 0)
		assert.Empty(t, page.Data)
		assert.Equal(t, 25, page.Total)
	})

	t.Run("negative page is empty", func(t *testing.T) {
		page := Paginate(items, 10, -1)
		assert.Empty(t, page.Data)
	})

	t.Run("exact multiple has no phantom page", func(t *testing.T) {
		page := Paginate(numbered(20), 10, 1)
		assert.Equal(t, 2, page.TotalPages)
		assert.Len(t, page.Data, 10)
	})
}

func TestOrder(t *testing.T) {
	entries := []*Entry{
		{Identifier: "evt.a.1", CreatedAt: 30, AttendeeCount: 5},
		{Identifier: "evt.a.2", CreatedAt: 10, AttendeeCount: 9},
		{Identifier: "evt.a.3", CreatedAt: 20, AttendeeCount: 5},
	}

	Order(entries, Sort{Field: SortCreatedAt, Direction: SortAsc})
	assert.Equal(t, "evt.a.2", entries[0].Identifier)
	assert.Equal(t, "evt.a.1", entries[2].Identifier)

	Order(entries, Sort{Field: SortAttendeeCount, Direction: SortDesc})
	assert.Equal(t, "evt.a.2", entries[0].Identifier)
	// Stable: the two count-5 entries keep their prior relative order.
	assert.Equal(t, "evt.a.3", entries[1].Identifier)
	assert.Equal(t, "evt.a.1", entries[2].Identifier)
}

func TestToEntrySumsAttendeeCounts(t *testing.T) {
	e := &Event{
		Name:          "summed",
		AttendeeCount: map[string]int{"src-1": 3, "src-2": 4},
	}
	entry := e.ToEntry("evt.a.9")
	assert.Equal(t, 7, entry.AttendeeCount)
	assert.Equal(t, "evt.a.9", entry.Identifier)
	assert.NotNil(t, entry.Tags)
}
