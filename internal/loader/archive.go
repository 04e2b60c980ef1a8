package loader

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// MainEntry is the file an archive bundle starts from.
const MainEntry = "main.js"

// maxArchiveBytes caps the decompressed size of a bundle.
const maxArchiveBytes = 64 << 20

var (
	ErrNotArchive    = errors.New("loader: not an archive")
	ErrEntryNotFound = errors.New("loader: entry not found")
	ErrTooLarge      = errors.New("loader: archive too large")
)

// Archive is a script bundle held in memory: a tar file, optionally
// compressed with gzip or zstd.
type Archive struct {
	Path    string
	entries map[string][]byte
	names   []string
}

// OpenArchive reads and unpacks the bundle at p.
func OpenArchive(p string) (*Archive, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	return ReadArchive(p, data)
}

// ReadArchive unpacks a bundle from memory. p names it in diagnostics and
// keys its shared exports.
func ReadArchive(p string, data []byte) (*Archive, error) {
	raw, err := decompress(data)
	if err != nil {
		return nil, err
	}
	if !mimetype.Detect(raw).Is("application/x-tar") {
		return nil, fmt.Errorf("%w: %s", ErrNotArchive, p)
	}

	a := &Archive{Path: p, entries: make(map[string][]byte)}
	tr := tar.NewReader(bytes.NewReader(raw))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive %s: %w", p, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s from %s: %w", hdr.Name, p, err)
		}
		name := clean(hdr.Name)
		if _, dup := a.entries[name]; !dup {
			a.names = append(a.names, name)
		}
		a.entries[name] = content
	}
	sort.Strings(a.names)
	return a, nil
}

// IsArchive reports whether data looks like a bundle.
func IsArchive(data []byte) bool {
	raw, err := decompress(data)
	if err != nil {
		return false
	}
	return mimetype.Detect(raw).Is("application/x-tar")
}

func decompress(data []byte) ([]byte, error) {
	var r io.Reader
	switch mt := mimetype.Detect(data); {
	case mt.Is("application/gzip"):
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	case mt.Is("application/zstd"):
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		defer dec.Close()
		r = dec
	default:
		return data, nil
	}

	out, err := io.ReadAll(io.LimitReader(r, maxArchiveBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	if len(out) > maxArchiveBytes {
		return nil, ErrTooLarge
	}
	return out, nil
}

func clean(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

// Names lists the regular files in the bundle.
func (a *Archive) Names() []string {
	return append([]string(nil), a.names...)
}

// Extract returns the content of an entry. A leading '~' searches for the
// first entry whose path ends in the rest of the name.
func (a *Archive) Extract(name string) ([]byte, string, error) {
	if suffix, ok := strings.CutPrefix(name, "~"); ok {
		return a.search(suffix)
	}
	name = clean(name)
	content, ok := a.entries[name]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s in %s", ErrEntryNotFound, name, a.Path)
	}
	return content, name, nil
}

func (a *Archive) search(suffix string) ([]byte, string, error) {
	suffix = clean(suffix)
	for _, name := range a.names {
		if name == suffix || strings.HasSuffix(name, "/"+suffix) {
			return a.entries[name], name, nil
		}
	}
	return nil, "", fmt.Errorf("%w: ~%s in %s", ErrEntryNotFound, suffix, a.Path)
}
