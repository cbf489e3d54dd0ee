package graph

import (
	"context"
	"os"

	"nativedeps/internal/staging"
)

// NewHousekeeping returns the directory setup and cleanup tasks for l.
func NewHousekeeping(l staging.Layout) Housekeeping {
	mkdir := func(dir string) func(context.Context) ([]string, error) {
		return func(context.Context) ([]string, error) {
			return []string{dir}, os.MkdirAll(dir, 0o755)
		}
	}
	clean := func(context.Context) ([]string, error) {
		return l.Clean()
	}
	return Housekeeping{
		Pre: []Task{
			{Name: "mkinstalldir", Detail: l.Root, Run: mkdir(l.Root)},
			{Name: "mkbuilddir", Detail: l.BuildRoot(), Run: func(context.Context) ([]string, error) {
				return []string{l.BuildRoot()}, l.Prepare()
			}},
			{Name: "cleanbeforebuilddir", Detail: l.Root, Run: clean},
		},
		Post: []Task{
			{Name: "cleanafterbuilddir", Detail: l.Root, Run: clean},
		},
	}
}
