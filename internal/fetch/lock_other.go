//go:build !unix

package fetch

// lockPath is a no-op where flock is unavailable; the in-process mutex
// still serializes downloads within one run.
func lockPath(string) (func(), error) {
	return func() {}, nil
}
