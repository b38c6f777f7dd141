package colorutil

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForIndex(t *testing.T) {
	assert.Equal(t, Cyan, ForIndex(0))
	assert.Equal(t, Magenta, ForIndex(1))
	assert.Equal(t, Cyan, ForIndex(2))
	assert.Equal(t, Magenta, ForIndex(-1))
}

func TestWithAlpha(t *testing.T) {
	assert.Equal(t, color.RGBA{R: 0, G: 127, B: 127, A: 127}, WithAlpha(Cyan, 127))
	assert.Equal(t, Magenta, WithAlpha(Magenta, 255))
}
