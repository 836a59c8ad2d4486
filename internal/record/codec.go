package record

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/arhag/chainbase/pkg"
)

// Records are stored in the region as deterministic CBOR so that two
// mappings of the same file decode identical bytes to identical values.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encOpts := cbor.EncOptions{Sort: cbor.SortCanonical}
	if encMode, err = encOpts.EncMode(); err != nil {
		pkg.FatalLog("record codec enc mode", err)
	}
	decOpts := cbor.DecOptions{}
	if decMode, err = decOpts.DecMode(); err != nil {
		pkg.FatalLog("record codec dec mode", err)
	}
}

func Marshal(r Record) ([]byte, error) {
	return encMode.Marshal(r)
}

func Unmarshal(data []byte, r Record) error {
	return decMode.Unmarshal(data, r)
}

// Clone deep-copies a record through the codec.
func Clone(s *Schema, r Record) (Record, error) {
	data, err := Marshal(r)
	if err != nil {
		return nil, err
	}
	out := s.New()
	if err := Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}
