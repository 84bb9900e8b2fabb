package event

// Paged is one zero-indexed page of an ordered result set, together with
// the totals a caller needs to request the rest.
type Paged[T any] struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
	Data       []T `json:"data"`
}

// Paginate slices the zero-indexed page of size limit out of items. A page
// beyond the end yields an empty slice, not an error. A limit below one
// yields no data but still reports the total.
func Paginate[T any](items []T, limit, page int) Paged[T] {
	total := len(items)

	if limit < 1 {
		return Paged[T]{Page: page, Limit: limit, Total: total, Data: []T{}}
	}

	totalPages := (total + limit - 1) / limit

	start := page * limit
	if page < 0 || start >= total {
		return Paged[T]{Page: page, Limit: limit, Total: total, TotalPages: totalPages, Data: []T{}}
	}

	end := start + limit
	if end > total {
		end = total
	}

	data := make([]T, end-start)
	copy(data, items[start:end])

	return Paged[T]{Page: page, Limit: limit, Total: total, TotalPages: totalPages, Data: data}
}
