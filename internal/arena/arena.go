package arena

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/arhag/chainbase/pkg"
)

type Mode int

const (
	ReadWrite Mode = iota
	ReadOnly
)

const RegionFileName = "shared_memory.bin"

var (
	ERR_CAPACITY       = errors.New("arena capacity exhausted")
	ERR_CORRUPT_HEADER = errors.New("invalid arena header")
	ERR_INDEX_TABLE    = errors.New("arena index root table is full")

	// a size mismatch is a capacity failure: the region cannot be
	// grown or shrunk by reopening it
	ERR_SIZE_MISMATCH = fmt.Errorf("%w: region size mismatch", ERR_CAPACITY)
)

// Arena is a fixed-size file-backed region with a suballocator.
// All addresses handed out are byte offsets from the region base so the
// file may be mapped at a different base address in another process.
type Arena struct {
	data     []byte
	dir      string
	readonly bool
}

// Open maps the region file under dir, creating it in ReadWrite mode.
// ReadOnly mode requires both the directory and the file to already exist.
func Open(dir string, mode Mode, size uint64) (*Arena, error) {
	file := path.Join(dir, RegionFileName)

	if mode == ReadOnly {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("arena dir %s: %w", dir, err)
		}
		if _, err := os.Stat(file); err != nil {
			return nil, fmt.Errorf("arena file %s: %w", file, err)
		}

		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, err
		}

		data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			return nil, fmt.Errorf("mmap %s: %w", file, err)
		}

		a := &Arena{data: data, dir: dir, readonly: true}
		if err := a.checkHeader(); err != nil {
			unix.Munmap(data)
			return nil, err
		}
		pkg.DebugLog("mapped arena read-only", dir, "region", a.RegionID())
		return a, nil
	}

	if size < headerSize+blockHeaderSize {
		return nil, fmt.Errorf("%w: region size %d is below the minimum", ERR_CAPACITY, size)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	created := false
	if _, err := os.Stat(file); os.IsNotExist(err) {
		created = true
	}

	f, err := os.OpenFile(file, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if created {
		if err := f.Truncate(int64(size)); err != nil {
			return nil, err
		}
	} else {
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		if uint64(info.Size()) != size {
			return nil, fmt.Errorf("%w: file is %d bytes, open requested %d", ERR_SIZE_MISMATCH, info.Size(), size)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", file, err)
	}

	a := &Arena{data: data, dir: dir}
	if created {
		a.initHeader(size)
		pkg.InfoLog("created arena", dir, "size", size, "region", a.RegionID())
	} else {
		if err := a.checkHeader(); err != nil {
			unix.Munmap(data)
			return nil, err
		}
		pkg.DebugLog("mapped arena read-write", dir, "region", a.RegionID())
	}
	return a, nil
}

func (a *Arena) Close() error {
	if a.data == nil {
		return nil
	}
	if !a.readonly {
		if err := unix.Msync(a.data, unix.MS_SYNC); err != nil {
			pkg.ErrorLog("arena msync", err)
		}
	}
	err := unix.Munmap(a.data)
	a.data = nil
	return err
}

func (a *Arena) IsReadOnly() bool { return a.readonly }

func (a *Arena) Size() uint64 { return a.readU64(offSize) }

func (a *Arena) RegionID() uuid.UUID {
	id, _ := uuid.FromBytes(a.data[offRegionID : offRegionID+16])
	return id
}

// Slice returns the n bytes starting at off. The returned slice aliases
// the mapping; it is valid only while the arena stays mapped.
func (a *Arena) Slice(off, n uint64) []byte {
	return a.data[off : off+n]
}

func (a *Arena) readU64(off uint64) uint64 {
	return binary.LittleEndian.Uint64(a.data[off:])
}

func (a *Arena) writeU64(off, v uint64) {
	binary.LittleEndian.PutUint64(a.data[off:], v)
}

// Revision is the database revision persisted in the region header.
func (a *Arena) Revision() int64 { return int64(a.readU64(offRevision)) }

func (a *Arena) SetRevision(r int64) { a.writeU64(offRevision, uint64(r)) }
