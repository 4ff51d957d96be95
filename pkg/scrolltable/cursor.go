package scrolltable

// PageCursor tracks the current page, the total page count once known and
// the page size.
type PageCursor struct {
	// Current is the last page requested. 0 before the first load.
	Current int
	// Total is the number of pages. Only meaningful when Resolved is true.
	Total int
	// Size is the number of records per page.
	Size int

	resolved bool
}

// Resolved reports whether Total has been computed from a response count.
func (c PageCursor) Resolved() bool {
	return c.resolved
}

// HasPage reports whether page may still be requested.
func (c PageCursor) HasPage(page int) bool {
	return !c.resolved || page <= c.Total
}

// Exhausted reports whether the current page is the last one.
func (c PageCursor) Exhausted() bool {
	return c.resolved && c.Current >= c.Total
}

// resolve sets Total from a response count. Later calls in the same cycle
// are ignored.
func (c *PageCursor) resolve(count int) {
	if c.resolved {
		return
	}

	c.Total = TotalPages(count, c.Size)
	c.resolved = true
}

func (c *PageCursor) reset() {
	c.Current = 0
	c.Total = 0
	c.resolved = false
}

// TotalPages returns ceil(count / size). Negative counts are treated as 0.
func TotalPages(count, size int) int {
	if count <= 0 || size <= 0 {
		return 0
	}

	return (count + size - 1) / size
}
