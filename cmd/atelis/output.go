package main

import (
	"fmt"
	"os"
)

// ANSI styles for operator feedback. Everything here writes to stderr so
// stdout stays reserved for machine-readable output like `config show`.
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

func stylize(style, s string) string {
	if noColor {
		return s
	}
	return style + s + ansiReset
}

func notef(style, mark, format string, args ...any) {
	fmt.Fprintln(os.Stderr, stylize(style, mark+" "+fmt.Sprintf(format, args...)))
}

func printStep(format string, args ...any)    { notef(ansiCyan, "→", format, args...) }
func printSuccess(format string, args ...any) { notef(ansiGreen, "✓", format, args...) }
func printWarning(format string, args ...any) { notef(ansiYellow, "!", format, args...) }
func printError(format string, args ...any)   { notef(ansiRed, "✗", format, args...) }

// printStatus renders one line of the `atelis status` block. Labels are
// padded so the values line up.
func printStatus(label, format string, args ...any) {
	padded := fmt.Sprintf("%-9s", label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", stylize(ansiBold, padded), fmt.Sprintf(format, args...))
}
