//go:build unix

package graph

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nativedeps/internal/runner"
)

func TestRunParallelPromptBlocksOtherSubtrees(t *testing.T) {
	in, answer := io.Pipe()
	defer answer.Close()
	r := runner.New(runner.Options{Policy: runner.AskOperator, Input: in, Quiet: true})
	dir := t.TempDir()
	failed := filepath.Join(dir, "failed")

	var stepAt time.Time
	g := &Graph{Subtrees: []Subtree{
		{Library: "hdf", Tasks: []Task{{Name: "buildhdf", Run: func(ctx context.Context) ([]string, error) {
			return nil, r.Shell(ctx, dir, nil, "touch failed; exit 2")
		}}}},
		{Library: "json", Tasks: []Task{{Name: "installjsoncpp", Run: func(ctx context.Context) ([]string, error) {
			for {
				if _, err := os.Stat(failed); err == nil {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
			// let the failing command reach its prompt
			time.Sleep(200 * time.Millisecond)
			return nil, r.Step(ctx, "install jsoncpp", func() error {
				stepAt = time.Now()
				return nil
			})
		}}}},
	}}

	done := make(chan error, 1)
	go func() {
		_, err := Run(context.Background(), g, 2)
		done <- err
	}()

	time.Sleep(time.Second)
	answeredAt := time.Now()
	_, err := answer.Write([]byte("c\n"))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}
	assert.True(t, stepAt.After(answeredAt), "step ran before the operator answered")
	assert.Len(t, r.Failures(), 1)
}
