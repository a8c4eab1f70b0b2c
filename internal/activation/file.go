// Package activation persists the activated package set and talks to the
// kernel package filesystem about activation changes.
package activation

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkgfs-project/pkgfsd/pkg/fsutil"
)

// DefaultMaxFileSize bounds the activation file accepted on read.
const DefaultMaxFileSize = 4 << 20

// ReadFile returns the package file names listed in the activation file at
// path. Errors satisfy os.IsNotExist when the file does not exist.
func ReadFile(path string, maxSize int64) ([]string, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read activation file: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("activation file %s exceeds %d bytes", path, maxSize)
	}
	return Decode(data), nil
}

// Decode splits activation file content into names, skipping empty lines.
// Names are kept verbatim apart from a trailing carriage return.
func Decode(data []byte) []string {
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line != "" {
			names = append(names, line)
		}
	}
	return names
}

// Encode renders names as activation file content.
func Encode(names []string) []byte {
	var buf bytes.Buffer
	for _, n := range names {
		buf.WriteString(n)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// WriteTemp writes names to path and syncs it, without renaming.
func WriteTemp(path string, names []string) error {
	return fsutil.WriteSynced(path, Encode(names), 0644)
}

// Write atomically replaces the activation file at path.
func Write(path string, names []string) error {
	return fsutil.AtomicWrite(path, Encode(names), 0644)
}
