package domain

import "io"

// Compressor wraps artifact streams in-line; dumps are compressed as
// they are written, never re-read from a temporary file.
type Compressor interface {
	WrapWriter(w io.Writer) (io.WriteCloser, error)
	WrapReader(r io.Reader) (io.ReadCloser, error)
	Ext() string
}
