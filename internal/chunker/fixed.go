package chunker

import "io"

// FixedSizeChunker emits chunks of exactly Size bytes, except possibly the
// last chunk of a stream.
type FixedSizeChunker struct {
	Size uint64
}

var _ Chunker = FixedSizeChunker{}

// NewFixedSizeChunker constructs a FixedSizeChunker with the given chunk size.
func NewFixedSizeChunker(size uint64) FixedSizeChunker {
	return FixedSizeChunker{Size: size}
}

// ChunkMaxSize implements Chunker.
func (c FixedSizeChunker) ChunkMaxSize() (uint64, bool) {
	return c.Size, true
}

// Chunk implements Chunker.
func (c FixedSizeChunker) Chunk(r io.Reader) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)

		buf := make([]byte, c.Size)
		for {
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				out <- Chunk{Data: data}
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return
			}
			if err != nil {
				out <- Chunk{Err: err}
				return
			}
		}
	}()
	return out
}
