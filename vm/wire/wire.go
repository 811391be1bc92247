// Package wire serializes compiled units with canonical CBOR and
// memoizes link results in a content-addressed sqlite store. Because
// linking is deterministic and the encoding is canonical, a unit's
// digest fully identifies it, so cached link results can be reused
// across processes and builds.
package wire

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/veldt-lang/veldt/vm"
)

// Digest identifies an encoded unit or a sequence of link inputs.
type Digest [32]byte

func (d Digest) String() string {
	return fmt.Sprintf("%x", d[:])
}

// cborEncMode uses canonical mode so that encoding a unit is
// deterministic: the same unit always produces the same bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalUnit serializes a unit to canonical CBOR bytes.
func MarshalUnit(u *vm.Unit) ([]byte, error) {
	return cborEncMode.Marshal(u)
}

// UnmarshalUnit deserializes a unit from CBOR bytes.
func UnmarshalUnit(data []byte) (*vm.Unit, error) {
	var u vm.Unit
	if err := cbor.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("wire: unmarshal unit: %w", err)
	}
	return &u, nil
}

// UnitDigest returns the content digest of a unit's canonical
// encoding.
func UnitDigest(u *vm.Unit) (Digest, error) {
	data, err := MarshalUnit(u)
	if err != nil {
		return Digest{}, err
	}
	return sha256.Sum256(data), nil
}

// InputsDigest returns the digest identifying an ordered sequence of
// link inputs. It is the cache key for the linked result.
func InputsDigest(units ...*vm.Unit) (Digest, error) {
	h := sha256.New()
	for _, u := range units {
		d, err := UnitDigest(u)
		if err != nil {
			return Digest{}, err
		}
		h.Write(d[:])
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out, nil
}
