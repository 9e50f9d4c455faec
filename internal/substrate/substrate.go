/*

Substrates are the opaque 32-byte identifiers a market grants to its fuses. Most of them wrap an
address, and the type tag disambiguates address spaces that would otherwise collide (a Spoke and
an Asset can share an address in some protocols).

Layout (big-endian, byte 0 is the most significant):

	[0]      type tag
	[1..11]  zero
	[12..31] 20-byte address

*/

package substrate

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Length is the size of an encoded substrate in bytes.
const Length = 32

const (
	tagIndex     = 0
	addressStart = Length - common.AddressLength
)

var (
	ErrInvalidLength = errors.New("substrate must be 32 bytes")
	ErrInvalidHex    = errors.New("substrate is not valid hex")
)

// Type is the discriminant stored in the high-order byte of a substrate.
type Type uint8

const (
	Undefined Type = iota
	Asset
	Pool
	Spoke
	Gauge
)

// maxType is the highest defined tag. Anything above it decodes to Undefined.
const maxType = Gauge

func (t Type) String() string {
	switch t {
	case Asset:
		return "asset"
	case Pool:
		return "pool"
	case Spoke:
		return "spoke"
	case Gauge:
		return "gauge"
	default:
		return "undefined"
	}
}

// ParseType is the inverse of Type.String. Unknown names return Undefined.
func ParseType(name string) Type {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "asset":
		return Asset
	case "pool":
		return Pool
	case "spoke":
		return Spoke
	case "gauge":
		return Gauge
	default:
		return Undefined
	}
}

// Substrate is an opaque, type-tagged 32-byte value.
type Substrate [Length]byte

// Encode packs an address with its type tag.
func Encode(addr common.Address, t Type) Substrate {
	var s Substrate
	s[tagIndex] = byte(t)
	copy(s[addressStart:], addr.Bytes())
	return s
}

// Decode unpacks a substrate. It never fails: the all-zero value and any tag outside the
// defined range decode to Undefined, with the address bytes returned as-is.
func Decode(s Substrate) (common.Address, Type) {
	addr := common.BytesToAddress(s[addressStart:])
	t := Type(s[tagIndex])
	if t > maxType {
		t = Undefined
	}
	return addr, t
}

// Type returns the decoded type tag.
func (s Substrate) Type() Type {
	_, t := Decode(s)
	return t
}

// Address returns the decoded address.
func (s Substrate) Address() common.Address {
	addr, _ := Decode(s)
	return addr
}

// IsZero reports whether every byte is zero.
func (s Substrate) IsZero() bool {
	return s == Substrate{}
}

// Bytes returns a copy of the raw encoding.
func (s Substrate) Bytes() []byte {
	out := make([]byte, Length)
	copy(out, s[:])
	return out
}

// Hex returns the 0x-prefixed hex encoding.
func (s Substrate) Hex() string {
	return "0x" + hex.EncodeToString(s[:])
}

func (s Substrate) String() string {
	addr, t := Decode(s)
	return fmt.Sprintf("%s(%s)", t, addr.Hex())
}

// FromBytes builds a substrate from exactly 32 raw bytes.
func FromBytes(b []byte) (Substrate, error) {
	var s Substrate
	if len(b) != Length {
		return s, fmt.Errorf("%w: got %d", ErrInvalidLength, len(b))
	}
	copy(s[:], b)
	return s, nil
}

// FromHex parses a 0x-prefixed (or bare) 64-character hex string.
func FromHex(str string) (Substrate, error) {
	str = strings.TrimPrefix(strings.TrimPrefix(str, "0x"), "0X")
	if len(str) != Length*2 {
		return Substrate{}, fmt.Errorf("%w: expected 64 hex chars, got %d", ErrInvalidLength, len(str))
	}
	b, err := hex.DecodeString(str)
	if err != nil {
		return Substrate{}, errors.Join(ErrInvalidHex, err)
	}
	return FromBytes(b)
}

// MarshalText implements encoding.TextMarshaler so substrates render as hex in JSON and YAML.
func (s Substrate) MarshalText() ([]byte, error) {
	return []byte(s.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Substrate) UnmarshalText(text []byte) error {
	parsed, err := FromHex(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Addresses decodes a list of substrates and returns the addresses whose type matches t.
func Addresses(list []Substrate, t Type) []common.Address {
	out := make([]common.Address, 0, len(list))
	for _, s := range list {
		addr, typ := Decode(s)
		if typ == t {
			out = append(out, addr)
		}
	}
	return out
}
