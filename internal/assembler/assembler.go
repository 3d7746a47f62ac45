// Package assembler merges range part files into a single output file.
//
// Parts are named by model.PartPath and written into the model.WorkingPath
// file at their offset. Each part is deleted as soon as its bytes are synced
// into the working file, so an interrupted assembly continues from the
// working file's size on the next call. When every byte is present the
// working file replaces the output atomically.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/exp/mmap"

	"github.com/handiism/mediadl/internal/model"
)

// ErrMissingPart is returned when the part file for the next offset does not exist.
var ErrMissingPart = errors.New("missing part file")

// MissingPartError reports the offset at which assembly stopped.
type MissingPartError struct {
	Path   string
	Offset int64
}

func (e *MissingPartError) Error() string {
	return fmt.Sprintf("%s: %s at offset %d", ErrMissingPart, e.Path, e.Offset)
}

func (e *MissingPartError) Unwrap() error { return ErrMissingPart }

// Assemble merges the part files of output covering [0, totalSize) and
// renames the result to output, replacing any file already there. It
// returns the number of bytes assembled.
//
// Assemble never waits for parts: if the part for the next offset is
// missing it stops with a *MissingPartError and leaves the working file in
// place so a later call can continue. ctx is checked before each part and
// before the rename; a cancelled assembly also keeps the working file and
// returns ctx.Err().
func Assemble(ctx context.Context, output string, totalSize int64) (int64, error) {
	working := model.WorkingPath(output)
	f, err := os.OpenFile(working, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open working file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, err
	}
	offset := info.Size()

	for offset < totalSize {
		if err := ctx.Err(); err != nil {
			f.Close()
			return offset, err
		}
		part := model.PartPath(output, offset)
		n, err := appendPart(f, part, offset)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			f.Close()
			return offset, fmt.Errorf("append %s: %w", filepath.Base(part), err)
		}
		if err != nil || n == 0 {
			f.Close()
			if offset == 0 {
				os.Remove(working)
			}
			return offset, &MissingPartError{Path: part, Offset: offset}
		}
		offset += n
	}

	if err := f.Close(); err != nil {
		return offset, err
	}
	if err := ctx.Err(); err != nil {
		return offset, err
	}
	if err := replace(working, output); err != nil {
		return offset, err
	}
	removeStaleParts(output, offset)
	return offset, nil
}

// appendPart copies one memory-mapped part into f at offset, syncs f and
// deletes the part. Empty parts are deleted and reported as zero bytes.
func appendPart(f *os.File, part string, offset int64) (int64, error) {
	r, err := mmap.Open(part)
	if err != nil {
		return 0, err
	}
	size := int64(r.Len())
	if size == 0 {
		r.Close()
		return 0, os.Remove(part)
	}

	_, err = io.Copy(io.NewOffsetWriter(f, offset), io.NewSectionReader(r, 0, size))
	r.Close()
	if err != nil {
		return 0, err
	}
	if err := f.Sync(); err != nil {
		return 0, err
	}
	if err := os.Remove(part); err != nil {
		return 0, err
	}
	return size, nil
}

func replace(src, dst string) error {
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(src, dst)
}

// removeStaleParts deletes parts below offset left behind by an assembly
// that was interrupted between writing a part and deleting it.
func removeStaleParts(output string, offset int64) {
	for _, p := range Parts(output) {
		if p.Offset < offset {
			os.Remove(p.Path)
		}
	}
}

// Part is one part file found on disk.
type Part struct {
	Path   string
	Offset int64
	Size   int64
}

// Parts lists the part files of output in directory order.
func Parts(output string) []Part {
	entries, err := os.ReadDir(filepath.Dir(output))
	if err != nil {
		return nil
	}
	var parts []Part
	for _, e := range entries {
		path := filepath.Join(filepath.Dir(output), e.Name())
		owner, offset, ok := model.ParsePartPath(path)
		if !ok || owner != output {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		parts = append(parts, Part{Path: path, Offset: offset, Size: info.Size()})
	}
	return parts
}

// Coverage returns how many leading bytes of output are available on disk:
// the working file followed by every contiguous part after it. An existing
// output file is not counted.
func Coverage(output string) int64 {
	var offset int64
	if info, err := os.Stat(model.WorkingPath(output)); err == nil {
		offset = info.Size()
	}
	sizes := make(map[int64]int64)
	for _, p := range Parts(output) {
		sizes[p.Offset] = p.Size
	}
	for {
		n, ok := sizes[offset]
		if !ok || n == 0 {
			return offset
		}
		offset += n
	}
}
