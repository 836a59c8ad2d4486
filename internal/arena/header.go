package arena

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

const (
	arenaMagic   = uint64(0x314553424e484331) // "1CHNBSE1"
	arenaVersion = uint32(1)

	offMagic    = 0
	offVersion  = 8
	offSize     = 16
	offRegionID = 24
	offFreeHead = 40
	offBrk      = 48
	offRevision = 56
	offRootsLen = 64
	offRoots    = 72

	maxIndexRoots = 64
	rootEntrySize = 16 // tag u32, pad u32, root u64

	headerSize = offRoots + maxIndexRoots*rootEntrySize
)

func (a *Arena) initHeader(size uint64) {
	a.writeU64(offMagic, arenaMagic)
	binary.LittleEndian.PutUint32(a.data[offVersion:], arenaVersion)
	a.writeU64(offSize, size)
	id := uuid.New()
	copy(a.data[offRegionID:offRegionID+16], id[:])
	a.writeU64(offFreeHead, 0)
	a.writeU64(offBrk, headerSize)
	a.SetRevision(0)
	a.writeU64(offRootsLen, 0)
}

func (a *Arena) checkHeader() error {
	if uint64(len(a.data)) < headerSize {
		return fmt.Errorf("%w: region is smaller than the header", ERR_CORRUPT_HEADER)
	}
	if a.readU64(offMagic) != arenaMagic {
		return fmt.Errorf("%w: bad magic", ERR_CORRUPT_HEADER)
	}
	if v := binary.LittleEndian.Uint32(a.data[offVersion:]); v != arenaVersion {
		return fmt.Errorf("%w: version %d, want %d", ERR_CORRUPT_HEADER, v, arenaVersion)
	}
	if a.readU64(offSize) != uint64(len(a.data)) {
		return fmt.Errorf("%w: recorded size does not match the mapping", ERR_CORRUPT_HEADER)
	}
	return nil
}

// IndexRoot looks up the root offset registered for a type tag.
func (a *Arena) IndexRoot(tag uint32) (uint64, bool) {
	n := a.readU64(offRootsLen)
	for i := uint64(0); i < n; i++ {
		entry := offRoots + i*rootEntrySize
		if binary.LittleEndian.Uint32(a.data[entry:]) == tag {
			return a.readU64(entry + 8), true
		}
	}
	return 0, false
}

// SetIndexRoot registers or updates the root offset for a type tag.
func (a *Arena) SetIndexRoot(tag uint32, root uint64) error {
	n := a.readU64(offRootsLen)
	for i := uint64(0); i < n; i++ {
		entry := offRoots + i*rootEntrySize
		if binary.LittleEndian.Uint32(a.data[entry:]) == tag {
			a.writeU64(entry+8, root)
			return nil
		}
	}
	if n == maxIndexRoots {
		return ERR_INDEX_TABLE
	}
	entry := offRoots + n*rootEntrySize
	binary.LittleEndian.PutUint32(a.data[entry:], tag)
	a.writeU64(entry+8, root)
	a.writeU64(offRootsLen, n+1)
	return nil
}
