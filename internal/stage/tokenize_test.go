package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"  ...  ", nil},
		{"I can't believe they're gone", []string{"i", "can't", "believe", "they're", "gone"}},
		{"I CAN’T believe it!", []string{"i", "can't", "believe", "it"}},
		{"'quoted' words", []string{"quoted", "words"}},
		{"我好难过", []string{"我", "好", "难", "过"}},
		{"miss 你 so much", []string{"miss", "你", "so", "much"}},
		{"day 3 without you", []string{"day", "3", "without", "you"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Tokenize(tt.in), "Tokenize(%q)", tt.in)
	}
}

func TestKeywordSetCountsOverlapOnce(t *testing.T) {
	set := compileKeywords(map[Stage][]string{
		Denial: {"can't believe", "believe"},
	})[Denial.Index()]

	assert.Equal(t, 2, set.matched(Tokenize("can't believe")))
	assert.Equal(t, 0, set.matched(nil))
}
