package location

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartialRatioSubstring(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 100, PartialRatio("科技馆", "上海科技馆"))
	assert.Equal(t, 100, PartialRatio("上海科技馆", "科技馆"), "order must not matter")
}

func TestPartialRatioNoOverlap(t *testing.T) {
	t.Parallel()

	score := PartialRatio("长城", "上海科技馆")
	assert.LessOrEqual(t, score, matchThreshold)
}

func TestPartialRatioExactMatch(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 100, PartialRatio("世纪公园", "世纪公园"))
}

func TestPartialRatioEmptyQuery(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, PartialRatio("", "世纪公园"))
	assert.Equal(t, 0, PartialRatio("", ""))
}

func TestPartialRatioWidthAndCaseFolding(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 100, PartialRatio("ＤＩＳＮＥＹ", "disney resort"))
}

func TestPartialRatioNearMiss(t *testing.T) {
	t.Parallel()

	// One of four runes differs: 75, under the threshold.
	score := PartialRatio("世纪公圆", "世纪公园")
	assert.Equal(t, 75, score)
}
