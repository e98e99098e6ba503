// Package fileutil opens inputs and writes outputs for the command line tools.
//
// The path "-" stands for stdin or stdout. Paths ending in ".xz" are
// transparently decompressed on read and compressed on write.
package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// Stdio is the path that selects stdin or stdout.
const Stdio = "-"

// Injectable functions for testing error paths.
var (
	xzNewReader = xz.NewReader
	xzNewWriter = xz.NewWriter
	osRename    = os.Rename
	stdin       io.Reader = os.Stdin
	stdout      io.Writer = os.Stdout
)

// IsCompressed reports whether path names an xz file.
func IsCompressed(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".xz")
}

// BaseName strips the directory, the ".xz" suffix and the format extension.
func BaseName(path string) string {
	name := filepath.Base(path)
	if IsCompressed(name) {
		name = name[:len(name)-len(".xz")]
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error { return r.close() }

// Open opens path for reading.
func Open(path string) (io.ReadCloser, error) {
	if path == Stdio {
		return readCloser{Reader: stdin, close: func() error { return nil }}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !IsCompressed(path) {
		return f, nil
	}
	zr, err := xzNewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open xz stream %s: %w", path, err)
	}
	return readCloser{Reader: zr, close: f.Close}, nil
}

// ReadFile reads the whole of path.
func ReadFile(path string) ([]byte, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// WriteAtomic calls write with a writer for path. Files are written to a temp file
// in the target directory and renamed into place only when write succeeds, so a
// failed conversion never leaves a partial output.
func WriteAtomic(path string, write func(io.Writer) error) error {
	if path == Stdio {
		return write(stdout)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tempFile, err := os.CreateTemp(dir, ".annotsv-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	fail := func(err error) error {
		tempFile.Close()
		os.Remove(tempPath)
		return err
	}
	if err := tempFile.Chmod(0644); err != nil {
		return fail(fmt.Errorf("failed to set permissions: %w", err))
	}

	var w io.Writer = tempFile
	var zw *xz.Writer
	if IsCompressed(path) {
		if zw, err = xzNewWriter(tempFile); err != nil {
			return fail(fmt.Errorf("failed to create xz writer: %w", err))
		}
		w = zw
	}
	if err := write(w); err != nil {
		return fail(err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fail(fmt.Errorf("failed to finish xz stream: %w", err))
		}
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Rename to final path (atomic on POSIX)
	if err := osRename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename output: %w", err)
	}
	return nil
}

// WriteFile writes data to path atomically.
func WriteFile(path string, data []byte) error {
	return WriteAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
