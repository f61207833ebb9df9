package pagination

// Plan returns the page offsets needed to read totalRows rows in pages of
// pageSize: 0, pageSize, 2*pageSize, ... with ceil(totalRows/pageSize) entries.
// It returns nil when there is nothing to read.
func Plan(totalRows, pageSize int) []int {
	if totalRows <= 0 || pageSize <= 0 {
		return nil
	}

	pages := (totalRows + pageSize - 1) / pageSize
	offsets := make([]int, pages)
	for i := range offsets {
		offsets[i] = i * pageSize
	}
	return offsets
}
