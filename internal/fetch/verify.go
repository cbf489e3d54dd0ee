package fetch

import (
	"encoding/hex"
	"io"
	"os"
	"strings"

	"lukechampine.com/blake3"
)

// SidecarExt is appended to an archive path to name its checksum file.
const SidecarExt = ".b3"

// Checksum returns the hex BLAKE3-256 digest of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sidecarMatches reports whether path has a sidecar agreeing with its content.
func sidecarMatches(path string) bool {
	want, err := os.ReadFile(path + SidecarExt)
	if err != nil {
		return false
	}
	got, err := Checksum(path)
	if err != nil {
		return false
	}
	fields := strings.Fields(string(want))
	return len(fields) > 0 && fields[0] == got
}

func writeSidecar(path, sum string) error {
	return os.WriteFile(path+SidecarExt, []byte(sum+"\n"), 0o644)
}
