// Package chunker splits a byte stream into chunks at either fixed offsets
// or content-defined boundaries, as the first stage of the chunk -> DAG ->
// bytes pipeline.
package chunker

import "io"

// Chunk is a single emitted chunk with no further structure: identity is
// the hash of Data, computed by the caller.
type Chunk struct {
	Data []byte
	Err  error
}

// Chunker splits a reader into a sequence of chunks.
//
// Chunk is implemented as a channel-returning call rather than Go's iter.Seq
// so callers can consume chunks concurrently with the store writes that
// follow each one, mirroring the suspend-at-every-read behavior the spec
// requires of this layer.
type Chunker interface {
	// Chunk streams chunks of r on the returned channel, closing it when r
	// is exhausted or an error occurs. At most one Chunk with a non-nil Err
	// is ever sent, and it is always the last value on the channel.
	Chunk(r io.Reader) <-chan Chunk

	// ChunkMaxSize reports the maximum size of an emitted chunk, if the
	// chunker produces a fixed maximum (ok == true), or false for
	// variable-size chunkers.
	ChunkMaxSize() (size uint64, ok bool)
}

// readBufferSize is the minimum read buffer size mandated by the spec for
// streaming chunkers.
const readBufferSize = 8192
