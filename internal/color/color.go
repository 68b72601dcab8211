// Package color wraps text in ANSI escape sequences for terminal output.
//
//nolint:revive // package name conflicts with standard library
package color

// ANSI color codes
const (
	resetCode  = "\033[0m"
	grayCode   = "\033[90m"
	greenCode  = "\033[32m"
	yellowCode = "\033[33m"
	redCode    = "\033[31m"
)

// Color wraps text with an ANSI escape sequence.
type Color func(text string) string

// NewColor creates a color function with the specified ANSI code.
func NewColor(ansiCode string) Color {
	return func(text string) string {
		return ansiCode + text + resetCode
	}
}

// Predefined color functions
var (
	Gray   = NewColor(grayCode)
	Green  = NewColor(greenCode)
	Yellow = NewColor(yellowCode)
	Red    = NewColor(redCode)
)

// Plain returns text unchanged.
func Plain(text string) string { return text }

// Enabled returns c when enabled is true and Plain otherwise.
func (c Color) Enabled(enabled bool) Color {
	if !enabled {
		return Plain
	}
	return c
}
