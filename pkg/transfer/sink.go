package transfer

import "io"

// Sink is the minimal destination a Downloader writes to: sequential
// mode only needs to write bytes in order.
type Sink interface {
	io.Writer
}

// RandomAccessSink is a Sink that also supports writing at an arbitrary
// offset and truncating to a final size — required for parallel and
// resumed downloads, where blocks complete out of order.
type RandomAccessSink interface {
	Sink
	io.WriterAt
	Truncate(size int64) error
}

// ByteRange is an inclusive byte range requested from an object, as in
// a Range: bytes=Start-End header.
type ByteRange struct {
	Start int64
	End   int64
}

// blockRange returns the inclusive byte range of block index b under
// blockSize, clipped to totalSize. Matches spec §4.6's arithmetic:
// start = b*blocksize, end = min(start+blocksize, total)-1.
func blockRange(b int, blockSize, totalSize int64) ByteRange {
	start := int64(b) * blockSize
	end := start + blockSize
	if end > totalSize {
		end = totalSize
	}
	return ByteRange{Start: start, End: end - 1}
}
