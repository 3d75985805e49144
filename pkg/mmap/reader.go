// Package mmap memory-maps local files for read-only access. Columnar
// readers work straight off the mapped bytes, so only the pages a scan
// actually touches are faulted in.
package mmap

import (
	"os"

	"github.com/tesseradata/tessera/pkg/errors"
)

// Region is a read-only memory-mapped file.
type Region struct {
	file *os.File
	data []byte
}

// Open maps the file at path. Empty files cannot be mapped and report an
// I/O error.
func Open(path string) (*Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "opening dataset file")
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "inspecting dataset file")
	}
	if st.Size() == 0 {
		f.Close()
		return nil, errors.Newf(errors.ErrorTypeIO, "dataset file %s is empty", path)
	}
	data, err := mmap(int(f.Fd()), 0, int(st.Size()), protRead, mapShared)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "mapping dataset file")
	}
	// Datasets are read front to back.
	_ = madvise(data, madvSequential)
	return &Region{file: f, data: data}, nil
}

// Bytes returns the mapped contents. The slice is valid until Close.
func (r *Region) Bytes() []byte { return r.data }

// Len returns the mapped length in bytes.
func (r *Region) Len() int { return len(r.data) }

// Close unmaps the region and closes the underlying file. The slice returned
// by Bytes must not be used afterwards.
func (r *Region) Close() error {
	var err error
	if r.data != nil {
		err = munmap(r.data)
		r.data = nil
	}
	if r.file != nil {
		if cerr := r.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
		r.file = nil
	}
	return err
}
