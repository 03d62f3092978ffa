package blockhash

// BlockSpan records the untrimmed byte extent of one block within the
// source stream: the offset the block started at and the number of
// bytes actually read for it (which may include trailing NULs stripped
// before hashing). Re-upload of a block always sends this original,
// untrimmed extent so the server receives exactly what was hashed.
type BlockSpan struct {
	Offset int64
	Length int64
}

// HashMap is the local, in-memory representation of an object's
// content-addressed layout: an ordered list of block digests, paired
// with an index from digest to the local byte span that produced it.
//
// Invariants (spec §3): digests are in block-index order; offsets are
// strictly monotonic and contiguous except that the final block's
// recorded length may be short; the sum of lengths equals the object
// size.
type HashMap struct {
	Digests []string
	Index   map[string]BlockSpan
}

// Bytes returns the total object size the hashmap describes, i.e. the
// sum of all recorded block spans.
func (hm HashMap) Bytes() int64 {
	var total int64
	for _, d := range hm.Digests {
		total += hm.Index[d].Length
	}
	return total
}
