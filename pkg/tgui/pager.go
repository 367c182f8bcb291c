package tgui

import "fmt"

// Page is one window of a paginated listing. Index is 0-based.
type Page[T any] struct {
	Items   []T
	Index   int
	Pages   int
	From    int // 0-based, inclusive
	To      int // exclusive
	Total   int
	HasPrev bool
	HasNext bool
}

// Paginate returns page index of items. Out-of-range indexes are clamped.
func Paginate[T any](items []T, index, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	pages := (total + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	index = max(0, min(index, pages-1))
	from := min(index*size, total)
	to := min(from+size, total)
	return Page[T]{
		Items:   items[from:to],
		Index:   index,
		Pages:   pages,
		From:    from,
		To:      to,
		Total:   total,
		HasPrev: index > 0,
		HasNext: to < total,
	}
}

// Label is a compact, human-friendly pagination label.
func (p Page[T]) Label() string {
	if p.Total == 0 {
		return "page 1/1"
	}
	return fmt.Sprintf("page %d/%d • %d–%d of %d", p.Index+1, p.Pages, p.From+1, p.To, p.Total)
}
