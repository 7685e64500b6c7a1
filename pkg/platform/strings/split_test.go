package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   []string
	}{
		{name: "no values", values: nil, want: nil},
		{name: "blank only", values: []string{" ", ",,"}, want: nil},
		{name: "single csv", values: []string{"a, b ,c"}, want: []string{"a", "b", "c"}},
		{name: "duplicates across values", values: []string{"mint,transfer", "mint", " transfer "}, want: []string{"mint", "transfer"}},
		{name: "case sensitive", values: []string{"Mint,mint"}, want: []string{"Mint", "mint"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitList(tt.values...))
		})
	}
}
