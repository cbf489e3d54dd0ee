// Package ui holds the console printers and the operator prompt.
package ui

import (
	"fmt"
	"os"

	"github.com/gookit/color"
	"golang.org/x/term"
)

// Debug enables Debugf output.
var Debug bool

// color helpers
var (
	Info    = color.Info
	Warn    = color.Warn
	Error   = color.Error
	Success = color.HEX("#1976D2")
	Arrow   = color.HEX("#FFEB3B")
	Note    = color.Tag("notice")
)

// Printer is satisfied by *color.Theme, color.Style, color.RGBColor and color.Tag.
type Printer interface {
	Printf(format string, a ...any)
	Println(a ...any)
}

// Printf prints with a colored style or falls back to fmt.Printf when nil
func Printf(p Printer, format string, a ...any) {
	if p == nil {
		fmt.Printf(format, a...)
		return
	}
	p.Printf(format, a...)
}

// Println prints a line with the given style or falls back to fmt.Println when nil
func Println(p Printer, a ...any) {
	if p == nil {
		fmt.Println(a...)
		return
	}
	p.Println(a...)
}

// Stepf prints an arrow-prefixed progress line.
func Stepf(format string, a ...any) {
	Arrow.Print("-> ")
	Success.Printf(format+"\n", a...)
}

// Debugf prints debug messages when Debug is true
func Debugf(format string, a ...any) {
	if Debug {
		fmt.Printf(format, a...)
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// DisableColor turns off escape codes, e.g. when stdout is redirected.
func DisableColor() {
	color.Disable()
}
