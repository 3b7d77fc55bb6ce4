package compressor

import (
	"compress/gzip"
	"fmt"
	"io"
)

// Gzip compresses artifact streams in-line. Dumps flow through the
// wrapped writer straight into storage; nothing is staged on disk or
// buffered whole in memory.
type Gzip struct {
	level int
}

func NewGzip() *Gzip {
	return &Gzip{level: gzip.BestCompression}
}

func (g *Gzip) WrapWriter(w io.Writer) (io.WriteCloser, error) {
	zw, err := gzip.NewWriterLevel(w, g.level)
	if err != nil {
		return nil, fmt.Errorf("create gzip writer: %w", err)
	}
	return zw, nil
}

func (g *Gzip) WrapReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	return zr, nil
}

func (g *Gzip) Ext() string {
	return ".gz"
}
