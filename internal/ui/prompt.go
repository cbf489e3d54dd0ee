package ui

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
)

// ErrNoAnswer is returned when the input ends before a valid choice was read.
var ErrNoAnswer = errors.New("no answer on input")

// interactiveMu ensures only one prompt reads the input at a time.
var interactiveMu sync.Mutex

// Choose prints prompt and reads lines from in until one of choices is typed.
// Matching is case-insensitive; the returned value is the choice as given.
func Choose(in *bufio.Reader, p Printer, prompt string, choices ...string) (string, error) {
	interactiveMu.Lock()
	defer interactiveMu.Unlock()

	for {
		Printf(p, "%s", prompt)
		line, err := in.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		for _, c := range choices {
			if answer == strings.ToLower(c) {
				return c, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				Println(nil)
				return "", ErrNoAnswer
			}
			return "", err
		}
		Println(Warn, "Invalid input.")
	}
}
