package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		page, size  int
		from, limit int
	}{
		{name: "first page", page: 1, size: 10, from: 0, limit: 10},
		{name: "third page", page: 3, size: 20, from: 40, limit: 20},
		{name: "page below one", page: 0, size: 5, from: 0, limit: 5},
		{name: "size zero", page: 2, size: 0, from: 10, limit: 10},
		{name: "size over max", page: 1, size: 500, from: 0, limit: 10},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			from, limit := Calculate(tt.page, tt.size)
			assert.Equal(t, tt.from, from)
			assert.Equal(t, tt.limit, limit)
		})
	}
}

func TestTotalPages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, TotalPages(0, 10))
	assert.Equal(t, 1, TotalPages(10, 10))
	assert.Equal(t, 2, TotalPages(11, 10))
	assert.Equal(t, 0, TotalPages(11, 0))
}
