package blockhash

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/apyrgio/kamaki/pkg/kamakierr"
)

// NumBlocks returns the number of blocks a stream of the given size
// splits into under policy.BlockSize. An empty stream is pinned to
// exactly one (zero-length) hashed block, per spec; the naive
// ceil-division formula degenerates for size==0 and must not be used
// directly.
func NumBlocks(size int64, blockSize int64) int64 {
	if size == 0 {
		return 1
	}
	return (size + blockSize - 1) / blockSize
}

// HashStream reads r sequentially in chunks of exactly policy.BlockSize
// bytes (the final chunk may be short) and returns the ordered block
// digests plus the offset/length index needed to re-read any block for
// upload.
//
// For each block, the digest is computed over the chunk with trailing
// NUL bytes stripped; the index records the untrimmed (offset, length)
// so a re-upload of that block sends the original bytes, NULs included.
//
// onBlock, if non-nil, is invoked once per block after it is hashed —
// callers drive progress reporting from it. HashStream itself never
// fails because of onBlock.
func HashStream(r io.Reader, size int64, policy ContainerPolicy, onBlock func()) ([]string, map[string]BlockSpan, error) {
	if err := policy.Validate(); err != nil {
		return nil, nil, err
	}
	if size < 0 {
		return nil, nil, kamakierr.New("hash", "", fmt.Errorf("%w: negative size", kamakierr.ErrPrecondition))
	}

	nblocks := NumBlocks(size, policy.BlockSize)
	digests := make([]string, 0, nblocks)
	index := make(map[string]BlockSpan, nblocks)

	buf := make([]byte, policy.BlockSize)
	var offset int64

	for i := int64(0); i < nblocks; i++ {
		toRead := size - offset
		if toRead > policy.BlockSize {
			toRead = policy.BlockSize
		}

		chunk := buf[:toRead]
		n, err := io.ReadFull(r, chunk)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, nil, kamakierr.NewBlock("hash", "", int(i), fmt.Errorf("%w: short read before EOF: %v", kamakierr.ErrNetwork, err))
		}
		if int64(n) != toRead {
			return nil, nil, kamakierr.NewBlock("hash", "", int(i), fmt.Errorf("%w: short read before EOF", kamakierr.ErrNetwork))
		}

		digest, err := digestBlock(chunk, policy.BlockHash)
		if err != nil {
			return nil, nil, kamakierr.NewBlock("hash", "", int(i), err)
		}

		digests = append(digests, digest)
		index[digest] = BlockSpan{Offset: offset, Length: int64(n)}

		offset += int64(n)

		if onBlock != nil {
			onBlock()
		}
	}

	return digests, index, nil
}

// RehashFile re-derives the block digests of an existing local file by
// reading through it sequentially, exactly like HashStream. Used by the
// downloader's resume path to decide which remote blocks are already
// present locally.
func RehashFile(f *os.File, policy ContainerPolicy) ([]string, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, kamakierr.New("rehash", f.Name(), fmt.Errorf("%w: %v", kamakierr.ErrNetwork, err))
	}
	digests, _, err := HashStream(f, info.Size(), policy, nil)
	return digests, err
}

// digestBlock hashes chunk with trailing NUL bytes stripped first.
func digestBlock(chunk []byte, algorithm string) (string, error) {
	trimmed := rstripNUL(chunk)
	h, err := newHasher(algorithm)
	if err != nil {
		return "", err
	}
	h.Write(trimmed)
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// rstripNUL strips trailing NUL (0x00) bytes from b, returning a
// subslice — it does not copy.
func rstripNUL(b []byte) []byte {
	return bytes.TrimRight(b, "\x00")
}
