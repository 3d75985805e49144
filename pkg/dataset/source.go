package dataset

import (
	"bytes"
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/tesseradata/tessera/pkg/compression"
	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/mmap"
	"github.com/tesseradata/tessera/pkg/scan"
)

// fileMagic opens the random-access file format; bare streams start with an
// encapsulated message instead.
var fileMagic = []byte("ARROW1")

// source is a rewindable batch source owning the bytes it decodes from.
type source interface {
	scan.BatchSource
	io.Closer
}

// sourceFromBytes wires a batch source over a fully buffered payload,
// picking the format by the leading magic. closer, when non-nil, is released
// together with the source.
func sourceFromBytes(data []byte, closer io.Closer) (source, error) {
	if bytes.HasPrefix(data, fileMagic) {
		return newFileSource(bytes.NewReader(data), closer)
	}
	return newStreamSource(data, closer)
}

// openLocal maps the file and serves batches straight out of the mapping.
// Compressed payloads are inflated into memory and the mapping is released
// right away.
func openLocal(path string, alg compression.Algorithm) (source, error) {
	region, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	if alg == compression.None {
		return sourceFromBytes(region.Bytes(), region)
	}
	data, err := decompress(region.Bytes(), alg)
	if cerr := region.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return sourceFromBytes(data, nil)
}

// decompress inflates a compressed payload fully into memory.
func decompress(data []byte, alg compression.Algorithm) ([]byte, error) {
	rc, err := compression.NewReader(bytes.NewReader(data), alg)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	out, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "decompressing dataset payload")
	}
	return out, nil
}

// fileSource decodes random-access format batches on demand. Rewinding is a
// matter of resetting the batch index, the footer stays parsed.
type fileSource struct {
	fr    *ipc.FileReader
	under io.Closer
	idx   int
}

func newFileSource(r ipc.ReadAtSeeker, under io.Closer) (*fileSource, error) {
	fr, err := ipc.NewFileReader(r, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		if under != nil {
			under.Close()
		}
		return nil, errors.Wrap(err, errors.ErrorTypeData, "reading ipc file footer")
	}
	return &fileSource{fr: fr, under: under}, nil
}

func (s *fileSource) Schema() *arrow.Schema { return s.fr.Schema() }

func (s *fileSource) Next(ctx context.Context) (arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.idx >= s.fr.NumRecords() {
		return nil, io.EOF
	}
	rec, err := s.fr.RecordAt(s.idx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "decoding ipc file batch")
	}
	s.idx++
	return rec, nil
}

func (s *fileSource) Reset() error {
	s.idx = 0
	return nil
}

func (s *fileSource) Close() error {
	err := s.fr.Close()
	if s.under != nil {
		if cerr := s.under.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.under = nil
	}
	return err
}

// streamSource decodes the stream format out of a buffered payload.
// Rewinding re-reads the stream from the top.
type streamSource struct {
	open  func() (*ipc.Reader, error)
	rr    *ipc.Reader
	under io.Closer
}

func newStreamSource(data []byte, under io.Closer) (*streamSource, error) {
	open := func() (*ipc.Reader, error) {
		rr, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(memory.DefaultAllocator))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "reading ipc stream schema")
		}
		return rr, nil
	}
	rr, err := open()
	if err != nil {
		if under != nil {
			under.Close()
		}
		return nil, err
	}
	return &streamSource{open: open, rr: rr, under: under}, nil
}

func (s *streamSource) Schema() *arrow.Schema { return s.rr.Schema() }

func (s *streamSource) Next(ctx context.Context) (arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.rr.Next() {
		if err := s.rr.Err(); err != nil && err != io.EOF {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "decoding ipc stream batch")
		}
		return nil, io.EOF
	}
	rec := s.rr.Record()
	rec.Retain()
	return rec, nil
}

func (s *streamSource) Reset() error {
	rr, err := s.open()
	if err != nil {
		return err
	}
	s.rr.Release()
	s.rr = rr
	return nil
}

func (s *streamSource) Close() error {
	s.rr.Release()
	if s.under != nil {
		err := s.under.Close()
		s.under = nil
		return err
	}
	return nil
}
