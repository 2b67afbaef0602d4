// Package jsonfile persists the memory stores as human-editable JSON files.
//
// Long-term memory is written as a pretty-printed array of strings (indent
// 4), core memory as an array of entry objects (indent 2), both UTF-8 with
// HTML escaping disabled. Files are rewritten whole on every mutation, so a
// persist, load, persist cycle produces identical bytes.
//
// Persistence failures are logged and the in-memory value retained; the next
// mutation rewrites the whole file, covering anything a failed write missed.
package jsonfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
)

func writeJSON(path, indent string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// readJSON loads path into v. found is false when the file does not exist.
func readJSON(path string, v any) (found bool, err error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return true, err
	}
	return true, json.Unmarshal(b, v)
}
