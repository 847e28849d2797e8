// Package wire implements the LIE packet wire format: a fixed-layout binary
// payload (spec.md §3) optionally wrapped in an authentication envelope
// (spec.md §6), grounded on the outer security envelope framing documented
// in the original RIFT prototype's packet parser (magic bytes, packet
// number, key id, word-counted fingerprint).
package wire

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // G505: sha-1 is a configured RIFT auth algorithm, not used for security here.
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
)

// -------------------------------------------------------------------------
// Protocol Constants
// -------------------------------------------------------------------------

// envelopeMagic is the outer security envelope's fixed magic value,
// carried over from the RIFT draft's RIFT_MAGIC constant.
const envelopeMagic = 0xA1F7

// fingerprintWordSize is the unit (in bytes) the fingerprint length field
// is expressed in, matching the envelope framing in packet.rs.
const fingerprintWordSize = 4

// headerSize is the fixed portion of a LIE payload before the variable
// length name field: system id(8) + level(2) + link id(4) +
// neighbor-present(1) + neighbor system id(8) + neighbor link id(4) +
// holdtime(2) + flood port(2) + mtu(4) + flood-repeater(1) + name len(1).
const headerSize = 8 + 2 + 4 + 1 + 8 + 4 + 2 + 2 + 4 + 1 + 1

// undefinedLevelWire is the wire encoding of riftid.Undefined.
const undefinedLevelWire = -1

// -------------------------------------------------------------------------
// Errors
// -------------------------------------------------------------------------

// ErrPacketTooShort indicates the buffer is smaller than the minimum
// decodable payload.
var ErrPacketTooShort = errors.New("lie packet: buffer too short")

// ErrNameTooLong indicates the LIE name exceeds the 1-byte length prefix.
var ErrNameTooLong = errors.New("lie packet: name exceeds 255 bytes")

// ErrUnknownKeyID indicates the envelope's key id has no configured key.
var ErrUnknownKeyID = errors.New("lie packet: unknown authentication key id")

// ErrFingerprintMismatch indicates the envelope fingerprint did not verify.
var ErrFingerprintMismatch = errors.New("lie packet: fingerprint verification failed")

// ErrUnknownAlgorithm indicates an unsupported hash/HMAC algorithm name.
var ErrUnknownAlgorithm = errors.New("lie packet: unknown authentication algorithm")

// -------------------------------------------------------------------------
// LIEPacket — spec.md §3
// -------------------------------------------------------------------------

// NeighborRef is the optional reflection of the receiver carried in a LIE,
// present iff the sender has heard the receiver's LIE.
type NeighborRef struct {
	SystemId SystemId
	LinkId   LinkId
}

// SystemId and LinkId alias the plain integer types underlying
// riftid.SystemId and riftid.LinkId, so callers of wire don't need to
// import riftid solely for these fields.
type (
	SystemId = uint64
	LinkId   = uint32
)

// LIEPacket is the decoded logical content of a LIE packet (spec.md §3).
// SenderLevel uses the wire encoding (-1 for Undefined, 0-24 otherwise);
// callers translate to/from riftid.Level at the package boundary to keep
// this package independent of riftid.
type LIEPacket struct {
	SenderSystemId       SystemId
	SenderLevel          int
	LocalLinkId          LinkId
	Neighbor             *NeighborRef
	HoldTime             uint16
	FloodPort            uint16
	Name                 string
	MTU                  uint32
	YouAreFloodRepeater  bool
}

// -------------------------------------------------------------------------
// Authentication
// -------------------------------------------------------------------------

// Algorithm names the configured hash/HMAC scheme (spec.md §6).
type Algorithm string

// Algorithm values accepted by the topology file (spec.md §6).
const (
	AlgoSHA224     Algorithm = "sha-224"
	AlgoSHA256     Algorithm = "sha-256"
	AlgoSHA512     Algorithm = "sha-512"
	AlgoHMACSHA1   Algorithm = "hmac-sha-1"
	AlgoHMACSHA256 Algorithm = "hmac-sha-256"
)

// Key is a single configured authentication key (spec.md §6).
type Key struct {
	ID        uint8
	Algorithm Algorithm
	Secret    []byte
}

// KeyStore resolves key ids to keys for verification, and names the active
// key used for transmission. Implementations are expected to be immutable
// snapshots of a node's or interface's configured keys (spec.md §6:
// active_origin_authentication_key / accept_origin_authentication_keys).
type KeyStore interface {
	// Accept returns the key with the given id if it is an accepted key,
	// and whether it was found.
	Accept(id uint8) (Key, bool)
	// Active returns the key used to sign outgoing packets, if any.
	Active() (Key, bool)
}

// StaticKeyStore is a KeyStore backed by an in-memory key list, the
// natural representation once the topology file has been parsed.
type StaticKeyStore struct {
	active  *Key
	accept  map[uint8]Key
}

// NewStaticKeyStore builds a KeyStore from an active key (may be nil) and
// a set of accepted keys.
func NewStaticKeyStore(active *Key, accept []Key) *StaticKeyStore {
	m := make(map[uint8]Key, len(accept))
	for _, k := range accept {
		m[k.ID] = k
	}
	if active != nil {
		m[active.ID] = *active
	}
	return &StaticKeyStore{active: active, accept: m}
}

// Accept implements KeyStore.
func (s *StaticKeyStore) Accept(id uint8) (Key, bool) {
	k, ok := s.accept[id]
	return k, ok
}

// Active implements KeyStore.
func (s *StaticKeyStore) Active() (Key, bool) {
	if s.active == nil {
		return Key{}, false
	}
	return *s.active, true
}

func newHasher(algo Algorithm, secret []byte) (hash.Hash, error) {
	switch algo {
	case AlgoSHA224:
		return sha256.New224(), nil
	case AlgoSHA256:
		return sha256.New(), nil
	case AlgoSHA512:
		return sha512.New(), nil
	case AlgoHMACSHA1:
		return hmac.New(sha1.New, secret), nil
	case AlgoHMACSHA256:
		return hmac.New(sha256.New, secret), nil
	default:
		return nil, fmt.Errorf("algorithm %q: %w", algo, ErrUnknownAlgorithm)
	}
}

// fingerprint computes the authentication digest over payload, mixing in
// the secret for plain (non-HMAC) hash algorithms since crypto/sha256 and
// crypto/sha512 have no keyed variant.
func fingerprint(algo Algorithm, secret, payload []byte) ([]byte, error) {
	h, err := newHasher(algo, secret)
	if err != nil {
		return nil, err
	}
	switch algo {
	case AlgoHMACSHA1, AlgoHMACSHA256:
		h.Write(payload)
	default:
		h.Write(secret)
		h.Write(payload)
	}
	return h.Sum(nil), nil
}

// -------------------------------------------------------------------------
// Encode
// -------------------------------------------------------------------------

// Encode serializes pkt into its binary payload, with no envelope.
func Encode(pkt *LIEPacket) ([]byte, error) {
	if len(pkt.Name) > 255 {
		return nil, ErrNameTooLong
	}

	size := headerSize + len(pkt.Name)
	buf := make([]byte, size)

	binary.BigEndian.PutUint64(buf[0:8], pkt.SenderSystemId)
	binary.BigEndian.PutUint16(buf[8:10], uint16(int16(pkt.SenderLevel))) //nolint:gosec // G115: level is bounded [-1,24]
	binary.BigEndian.PutUint32(buf[10:14], pkt.LocalLinkId)

	off := 14
	if pkt.Neighbor != nil {
		buf[off] = 1
		binary.BigEndian.PutUint64(buf[off+1:off+9], pkt.Neighbor.SystemId)
		binary.BigEndian.PutUint32(buf[off+9:off+13], pkt.Neighbor.LinkId)
	} else {
		buf[off] = 0
	}
	off += 1 + 8 + 4

	binary.BigEndian.PutUint16(buf[off:off+2], pkt.HoldTime)
	off += 2
	binary.BigEndian.PutUint16(buf[off:off+2], pkt.FloodPort)
	off += 2
	binary.BigEndian.PutUint32(buf[off:off+4], pkt.MTU)
	off += 4

	if pkt.YouAreFloodRepeater {
		buf[off] = 1
	} else {
		buf[off] = 0
	}
	off++

	buf[off] = uint8(len(pkt.Name)) //nolint:gosec // G115: length checked above
	off++
	copy(buf[off:], pkt.Name)

	return buf, nil
}

// Decode deserializes a binary payload (produced by Encode) into a
// LIEPacket. It is the bit-exact inverse of Encode for all well-formed
// packets (spec.md §8 Round-trip law).
func Decode(buf []byte) (*LIEPacket, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrPacketTooShort, headerSize, len(buf))
	}

	pkt := &LIEPacket{}
	pkt.SenderSystemId = binary.BigEndian.Uint64(buf[0:8])
	pkt.SenderLevel = int(int16(binary.BigEndian.Uint16(buf[8:10])))
	pkt.LocalLinkId = binary.BigEndian.Uint32(buf[10:14])

	off := 14
	neighborPresent := buf[off] != 0
	if neighborPresent {
		pkt.Neighbor = &NeighborRef{
			SystemId: binary.BigEndian.Uint64(buf[off+1 : off+9]),
			LinkId:   binary.BigEndian.Uint32(buf[off+9 : off+13]),
		}
	}
	off += 1 + 8 + 4

	pkt.HoldTime = binary.BigEndian.Uint16(buf[off : off+2])
	off += 2
	pkt.FloodPort = binary.BigEndian.Uint16(buf[off : off+2])
	off += 2
	pkt.MTU = binary.BigEndian.Uint32(buf[off : off+4])
	off += 4
	pkt.YouAreFloodRepeater = buf[off] != 0
	off++

	nameLen := int(buf[off])
	off++
	if len(buf) < off+nameLen {
		return nil, fmt.Errorf("%w: name truncated", ErrPacketTooShort)
	}
	pkt.Name = string(buf[off : off+nameLen])

	return pkt, nil
}

// -------------------------------------------------------------------------
// Envelope — outer security envelope (spec.md §3, §6)
// -------------------------------------------------------------------------

// envelopeHeaderSize is magic(2) + packet number(2) + reserved(1) +
// major version(1) + key id(1) + fingerprint length(1), matching the
// OuterSecurityEnvelopeHeader framing in the original prototype.
const envelopeHeaderSize = 2 + 2 + 1 + 1 + 1 + 1

const protocolMajorVersion = 1

// EncodeEnveloped serializes pkt and, if ks has an active key, wraps it in
// the outer security envelope with a computed fingerprint. If ks is nil or
// has no active key, the bare payload is returned unauthenticated.
func EncodeEnveloped(pkt *LIEPacket, ks KeyStore, packetNumber uint16) ([]byte, error) {
	payload, err := Encode(pkt)
	if err != nil {
		return nil, fmt.Errorf("encode lie payload: %w", err)
	}

	if ks == nil {
		return payload, nil
	}
	key, ok := ks.Active()
	if !ok {
		return payload, nil
	}

	fp, err := fingerprint(key.Algorithm, key.Secret, payload)
	if err != nil {
		return nil, fmt.Errorf("compute fingerprint: %w", err)
	}
	words := (len(fp) + fingerprintWordSize - 1) / fingerprintWordSize
	padded := make([]byte, words*fingerprintWordSize)
	copy(padded, fp)

	buf := make([]byte, envelopeHeaderSize+len(padded)+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], envelopeMagic)
	binary.BigEndian.PutUint16(buf[2:4], packetNumber)
	buf[4] = 0 // reserved
	buf[5] = protocolMajorVersion
	buf[6] = key.ID
	buf[7] = uint8(words) //nolint:gosec // G115: bounded by digest sizes in use
	copy(buf[envelopeHeaderSize:], padded)
	copy(buf[envelopeHeaderSize+len(padded):], payload)

	return buf, nil
}

// DecodeEnveloped is the inverse of EncodeEnveloped. If buf does not begin
// with the envelope magic, it is decoded as a bare, unauthenticated
// payload (spec.md §8 Round-trip law: "authentication-stripped when keys
// absent"). If the envelope is present, the fingerprint is verified
// against the key named by the envelope's key id in ks; verification
// failure returns an error so the caller can silently drop the packet
// (spec.md §7: codec errors are silent drops at the call site, not here).
func DecodeEnveloped(buf []byte, ks KeyStore) (*LIEPacket, error) {
	if len(buf) < 2 || binary.BigEndian.Uint16(buf[0:2]) != envelopeMagic {
		return Decode(buf)
	}

	if len(buf) < envelopeHeaderSize {
		return nil, fmt.Errorf("%w: envelope truncated", ErrPacketTooShort)
	}

	keyID := buf[6]
	words := int(buf[7])
	fpEnd := envelopeHeaderSize + words*fingerprintWordSize
	if len(buf) < fpEnd {
		return nil, fmt.Errorf("%w: fingerprint truncated", ErrPacketTooShort)
	}
	fp := buf[envelopeHeaderSize:fpEnd]
	payload := buf[fpEnd:]

	if ks == nil {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownKeyID, keyID)
	}
	key, ok := ks.Accept(keyID)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownKeyID, keyID)
	}

	want, err := fingerprint(key.Algorithm, key.Secret, payload)
	if err != nil {
		return nil, fmt.Errorf("compute fingerprint: %w", err)
	}
	got := fp[:min(len(fp), len(want))]
	if len(fp) < len(want) || subtle.ConstantTimeCompare(got, want) != 1 {
		return nil, ErrFingerprintMismatch
	}

	return Decode(payload)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
