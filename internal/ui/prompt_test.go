package ui

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChooseRepromptsUntilValid(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("x\n\nC\n"))
	got, err := Choose(in, nil, "(a)bort or (c)ontinue: ", "a", "c")
	require.NoError(t, err)
	assert.Equal(t, "c", got)
}

func TestChooseLastLineWithoutNewline(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("a"))
	got, err := Choose(in, nil, "? ", "a", "c")
	require.NoError(t, err)
	assert.Equal(t, "a", got)
}

func TestChooseEOF(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("maybe\n"))
	_, err := Choose(in, nil, "? ", "a", "c")
	assert.ErrorIs(t, err, ErrNoAnswer)
}
