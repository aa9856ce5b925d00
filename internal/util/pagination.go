package util

const (
	DefaultPerPage = 10
	MaxPerPage     = 100
)

// Calculate turns a 1-based page and page size into an offset and limit.
func Calculate(page, size int) (from, limit int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > MaxPerPage {
		size = DefaultPerPage
	}
	from = (page - 1) * size
	return from, size
}

// TotalPages rounds up; zero items still yields zero pages.
func TotalPages(total int64, size int) int {
	if size <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}
