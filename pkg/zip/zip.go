// Package zip builds flat archives from in-memory artifacts.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// Entry is one file to place in the archive.
type Entry struct {
	Filename string
	Data     []byte
}

// Archive writes all entries into a single zip. Entries with no data are
// skipped; the skipped count is returned so callers can log partial bundles.
func Archive(entries []Entry) ([]byte, int, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	skipped := 0
	for _, entry := range entries {
		if len(entry.Data) == 0 || entry.Filename == "" {
			skipped++
			continue
		}
		w, err := zw.Create(entry.Filename)
		if err != nil {
			return nil, skipped, fmt.Errorf("zip: create entry %s: %w", entry.Filename, err)
		}
		if _, err := w.Write(entry.Data); err != nil {
			return nil, skipped, fmt.Errorf("zip: write entry %s: %w", entry.Filename, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, skipped, fmt.Errorf("zip: close archive: %w", err)
	}
	return buf.Bytes(), skipped, nil
}
