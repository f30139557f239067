package blockio

// Chunk is one step of a Walk.
type Chunk struct {
	Index  int
	Offset int64
	Length int
}

// End returns the first offset past the chunk.
func (c Chunk) End() int64 { return c.Offset + int64(c.Length) }

// ChunkSize rounds requested down to a multiple of the logical block size.
// Zero selects DefaultChunkSize.
func ChunkSize(requested, logical int) (int, error) {
	if logical <= 0 {
		logical = 512
	}
	if requested == 0 {
		requested = DefaultChunkSize
	}
	if requested < logical {
		return 0, ErrChunkSize
	}
	return requested - requested%logical, nil
}

// BufferSize is the largest buffer a Walk over total bytes will need.
func BufferSize(total int64, chunk int) int {
	if total < int64(chunk) {
		return int(total)
	}
	return chunk
}

// Walk visits [0,total) in chunk steps, shortening the tail chunk, so every
// offset is visited exactly once. Before each chunk it consults stop and
// returns ErrCancelled if set. An error from fn ends the walk.
func Walk(total int64, chunk int, stop func() bool, fn func(Chunk) error) error {
	if chunk <= 0 {
		return ErrChunkSize
	}
	idx := 0
	for off := int64(0); off < total; off += int64(chunk) {
		if stop != nil && stop() {
			return ErrCancelled
		}
		n := chunk
		if rem := total - off; rem < int64(n) {
			n = int(rem)
		}
		if err := fn(Chunk{Index: idx, Offset: off, Length: n}); err != nil {
			return err
		}
		idx++
	}
	return nil
}
