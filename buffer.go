package mpi

// Datatype describes the unit element of a buffer: Size is the number of
// meaningful bytes per element and Extent the stride between consecutive
// elements. The collective algorithms treat elements as opaque; non-contiguous
// types are expected to be packed by the layer above, so the built-in types
// all have Extent == Size.
type Datatype struct {
	Size   int
	Extent int
}

// Built-in datatypes.
var (
	Byte    = Datatype{Size: 1, Extent: 1}
	Int32   = Datatype{Size: 4, Extent: 4}
	Int64   = Datatype{Size: 8, Extent: 8}
	Float64 = Datatype{Size: 8, Extent: 8}
)

// Buffer is a typed memory region: Count elements of type Type stored in
// Data. For a receive buffer of an all-gather, Count is the per-process
// element count and Data must hold one block per contributing rank.
type Buffer struct {
	Data  []byte
	Count int
	Type  Datatype
}

// InPlace is the sentinel send buffer indicating that the local contribution
// already resides at the caller's own block of the receive buffer. Valid only
// on intra-groups.
var InPlace = &Buffer{}

func (b *Buffer) inPlace() bool { return b == InPlace }

// bytes returns the region holding the buffer's Count elements.
func (b *Buffer) bytes() []byte {
	return b.Data[:b.Count*b.Type.Extent]
}

// block returns block i of a gather buffer, i.e. the region holding the
// contribution of rank i.
func (b *Buffer) block(i int) []byte {
	return b.blocks(i, 1)
}

// blocks returns the contiguous region spanning blocks [i, i+n).
func (b *Buffer) blocks(i, n int) []byte {
	blk := b.Count * b.Type.Extent
	return b.Data[i*blk : (i+n)*blk]
}
