package color

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColors(t *testing.T) {
	assert.Equal(t, "\033[31mfail\033[0m", Red("fail"))
	assert.Equal(t, "\033[32mok\033[0m", Green("ok"))
	assert.Equal(t, "\033[33mslow\033[0m", Yellow("slow"))
	assert.Equal(t, "\033[90m-\033[0m", Gray("-"))
}

func TestEnabled(t *testing.T) {
	assert.Equal(t, "x", Red.Enabled(false)("x"))
	assert.Equal(t, Red("x"), Red.Enabled(true)("x"))
}

func TestEqualWidthCodes(t *testing.T) {
	// Colored table cells stay aligned only if every code has the same width.
	for _, c := range []Color{Gray, Green, Yellow, Red} {
		assert.Len(t, c(""), len(Red("")))
	}
}
