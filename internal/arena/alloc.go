package arena

// Block layout: 16 byte header {size u64, next u64} followed by the payload.
// size is the payload capacity. next links the free list and is zero while
// the block is allocated.

const (
	blockHeaderSize = 16
	minSplitPayload = 32
)

func align8(n uint64) uint64 { return (n + 7) &^ 7 }

// Alloc reserves a block with at least n payload bytes and returns the
// payload offset. Fails with ERR_CAPACITY without any observable change.
func (a *Arena) Alloc(n uint64) (uint64, error) {
	if n == 0 {
		n = 8
	}
	n = align8(n)

	// first fit on the free list
	prev := uint64(offFreeHead)
	blk := a.readU64(offFreeHead)
	for blk != 0 {
		size := a.readU64(blk)
		next := a.readU64(blk + 8)
		if size >= n {
			if size >= n+blockHeaderSize+minSplitPayload {
				// split the tail into its own free block
				rest := blk + blockHeaderSize + n
				a.writeU64(rest, size-n-blockHeaderSize)
				a.writeU64(rest+8, next)
				next = rest
				a.writeU64(blk, n)
			}
			a.writeU64(prev, next)
			a.writeU64(blk+8, 0)
			return blk + blockHeaderSize, nil
		}
		prev = blk + 8
		blk = next
	}

	// extend the heap
	brk := a.readU64(offBrk)
	end := brk + blockHeaderSize + n
	if end > a.Size() {
		return 0, ERR_CAPACITY
	}
	a.writeU64(brk, n)
	a.writeU64(brk+8, 0)
	a.writeU64(offBrk, end)
	return brk + blockHeaderSize, nil
}

// Free returns the block whose payload starts at off to the free list.
func (a *Arena) Free(off uint64) {
	blk := off - blockHeaderSize
	a.writeU64(blk+8, a.readU64(offFreeHead))
	a.writeU64(offFreeHead, blk)
}

// Cap reports the payload capacity of the block at payload offset off.
func (a *Arena) Cap(off uint64) uint64 {
	return a.readU64(off - blockHeaderSize)
}

// Bytes returns the full payload of the block at payload offset off.
func (a *Arena) Bytes(off uint64) []byte {
	return a.Slice(off, a.Cap(off))
}
