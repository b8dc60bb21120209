package pyth

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Wire constants of the Pyth accumulator ("PNAU") update format.
const (
	accumulatorMagic         = "PNAU"
	merkleRootMagic          = "AUWV"
	accumulatorMajorVersion  = 1
	updateTypeWormholeMerkle = 0
	priceFeedMessageType     = 0

	// HashSize is the length of a truncated keccak256 Merkle node.
	HashSize = 20

	priceMessageLen = 1 + 32 + 8 + 8 + 4 + 8 + 8 + 8 + 8
	signatureLen    = 66
)

var errTruncated = errors.New("truncated input")

// MerkleUpdate is one price message and its proof against the VAA root.
type MerkleUpdate struct {
	Message []byte
	Proof   [][HashSize]byte
}

// AccumulatorUpdate is a decoded accumulator update: a Wormhole VAA carrying
// the Merkle root plus the price messages proven against it.
type AccumulatorUpdate struct {
	MajorVersion uint8
	MinorVersion uint8
	VAA          []byte
	Updates      []MerkleUpdate
}

// GuardianSignature is a single guardian signature in a VAA.
type GuardianSignature struct {
	Index     uint8
	Signature [65]byte
}

// VAA is a parsed Wormhole verified action approval.
type VAA struct {
	Version          uint8
	GuardianSetIndex uint32
	Signatures       []GuardianSignature
	Timestamp        uint32
	Nonce            uint32
	EmitterChain     uint16
	EmitterAddress   [32]byte
	Sequence         uint64
	ConsistencyLevel uint8
	Payload          []byte
}

// MerkleRoot is the accumulator root carried in the VAA payload.
type MerkleRoot struct {
	Slot     uint64
	RingSize uint32
	Root     [HashSize]byte
}

// PriceMessage is a decoded price feed message. All fields are big-endian on
// the wire.
type PriceMessage struct {
	FeedID          [32]byte
	Price           int64
	Conf            uint64
	Expo            int32
	PublishTime     int64
	PrevPublishTime int64
	EMAPrice        int64
	EMAConf         uint64
}

type reader struct {
	b   []byte
	off int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.b) {
		return nil, fmt.Errorf("%w at offset %d (need %d bytes)", errTruncated, r.off, n)
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *reader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ParseAccumulator decodes a binary accumulator update as served by Hermes.
func ParseAccumulator(data []byte) (*AccumulatorUpdate, error) {
	r := &reader{b: data}

	magic, err := r.take(4)
	if err != nil {
		return nil, fmt.Errorf("pyth: parse accumulator: %w", err)
	}
	if string(magic) != accumulatorMagic {
		return nil, fmt.Errorf("pyth: parse accumulator: bad magic %x", magic)
	}

	out := &AccumulatorUpdate{}
	if out.MajorVersion, err = r.u8(); err != nil {
		return nil, fmt.Errorf("pyth: parse accumulator: %w", err)
	}
	if out.MajorVersion != accumulatorMajorVersion {
		return nil, fmt.Errorf("pyth: parse accumulator: unsupported major version %d", out.MajorVersion)
	}
	if out.MinorVersion, err = r.u8(); err != nil {
		return nil, fmt.Errorf("pyth: parse accumulator: %w", err)
	}

	trailing, err := r.u8()
	if err != nil {
		return nil, fmt.Errorf("pyth: parse accumulator: %w", err)
	}
	if _, err := r.take(int(trailing)); err != nil {
		return nil, fmt.Errorf("pyth: parse accumulator trailing header: %w", err)
	}

	updateType, err := r.u8()
	if err != nil {
		return nil, fmt.Errorf("pyth: parse accumulator: %w", err)
	}
	if updateType != updateTypeWormholeMerkle {
		return nil, fmt.Errorf("pyth: parse accumulator: unsupported update type %d", updateType)
	}

	vaaLen, err := r.u16()
	if err != nil {
		return nil, fmt.Errorf("pyth: parse accumulator: %w", err)
	}
	if out.VAA, err = r.take(int(vaaLen)); err != nil {
		return nil, fmt.Errorf("pyth: parse accumulator vaa: %w", err)
	}

	n, err := r.u8()
	if err != nil {
		return nil, fmt.Errorf("pyth: parse accumulator: %w", err)
	}
	out.Updates = make([]MerkleUpdate, 0, n)
	for i := 0; i < int(n); i++ {
		msgLen, err := r.u16()
		if err != nil {
			return nil, fmt.Errorf("pyth: parse update %d: %w", i, err)
		}
		msg, err := r.take(int(msgLen))
		if err != nil {
			return nil, fmt.Errorf("pyth: parse update %d message: %w", i, err)
		}
		proofLen, err := r.u8()
		if err != nil {
			return nil, fmt.Errorf("pyth: parse update %d: %w", i, err)
		}
		proof := make([][HashSize]byte, proofLen)
		for j := range proof {
			node, err := r.take(HashSize)
			if err != nil {
				return nil, fmt.Errorf("pyth: parse update %d proof: %w", i, err)
			}
			copy(proof[j][:], node)
		}
		out.Updates = append(out.Updates, MerkleUpdate{Message: msg, Proof: proof})
	}

	return out, nil
}

// ParseVAA decodes a Wormhole VAA (version 1).
func ParseVAA(data []byte) (*VAA, error) {
	r := &reader{b: data}
	v := &VAA{}
	var err error

	if v.Version, err = r.u8(); err != nil {
		return nil, fmt.Errorf("pyth: parse vaa: %w", err)
	}
	if v.GuardianSetIndex, err = r.u32(); err != nil {
		return nil, fmt.Errorf("pyth: parse vaa: %w", err)
	}
	numSigs, err := r.u8()
	if err != nil {
		return nil, fmt.Errorf("pyth: parse vaa: %w", err)
	}
	v.Signatures = make([]GuardianSignature, numSigs)
	for i := range v.Signatures {
		raw, err := r.take(signatureLen)
		if err != nil {
			return nil, fmt.Errorf("pyth: parse vaa signature %d: %w", i, err)
		}
		v.Signatures[i].Index = raw[0]
		copy(v.Signatures[i].Signature[:], raw[1:])
	}

	if v.Timestamp, err = r.u32(); err != nil {
		return nil, fmt.Errorf("pyth: parse vaa body: %w", err)
	}
	if v.Nonce, err = r.u32(); err != nil {
		return nil, fmt.Errorf("pyth: parse vaa body: %w", err)
	}
	if v.EmitterChain, err = r.u16(); err != nil {
		return nil, fmt.Errorf("pyth: parse vaa body: %w", err)
	}
	emitter, err := r.take(32)
	if err != nil {
		return nil, fmt.Errorf("pyth: parse vaa body: %w", err)
	}
	copy(v.EmitterAddress[:], emitter)
	if v.Sequence, err = r.u64(); err != nil {
		return nil, fmt.Errorf("pyth: parse vaa body: %w", err)
	}
	if v.ConsistencyLevel, err = r.u8(); err != nil {
		return nil, fmt.Errorf("pyth: parse vaa body: %w", err)
	}
	v.Payload = data[r.off:]
	return v, nil
}

// ParseMerkleRoot decodes the accumulator root from a VAA payload.
func ParseMerkleRoot(payload []byte) (MerkleRoot, error) {
	r := &reader{b: payload}
	magic, err := r.take(4)
	if err != nil {
		return MerkleRoot{}, fmt.Errorf("pyth: parse merkle root: %w", err)
	}
	if string(magic) != merkleRootMagic {
		return MerkleRoot{}, fmt.Errorf("pyth: parse merkle root: bad magic %x", magic)
	}
	typ, err := r.u8()
	if err != nil {
		return MerkleRoot{}, fmt.Errorf("pyth: parse merkle root: %w", err)
	}
	if typ != updateTypeWormholeMerkle {
		return MerkleRoot{}, fmt.Errorf("pyth: parse merkle root: unsupported type %d", typ)
	}

	var mr MerkleRoot
	if mr.Slot, err = r.u64(); err != nil {
		return MerkleRoot{}, fmt.Errorf("pyth: parse merkle root: %w", err)
	}
	if mr.RingSize, err = r.u32(); err != nil {
		return MerkleRoot{}, fmt.Errorf("pyth: parse merkle root: %w", err)
	}
	root, err := r.take(HashSize)
	if err != nil {
		return MerkleRoot{}, fmt.Errorf("pyth: parse merkle root: %w", err)
	}
	copy(mr.Root[:], root)
	return mr, nil
}

// ParsePriceMessage decodes a price feed message.
func ParsePriceMessage(msg []byte) (PriceMessage, error) {
	if len(msg) < priceMessageLen {
		return PriceMessage{}, fmt.Errorf("pyth: parse price message: %w (%d bytes)", errTruncated, len(msg))
	}
	if msg[0] != priceFeedMessageType {
		return PriceMessage{}, fmt.Errorf("pyth: parse price message: unexpected type %d", msg[0])
	}

	var pm PriceMessage
	copy(pm.FeedID[:], msg[1:33])
	b := msg[33:]
	pm.Price = int64(binary.BigEndian.Uint64(b[0:8]))
	pm.Conf = binary.BigEndian.Uint64(b[8:16])
	pm.Expo = int32(binary.BigEndian.Uint32(b[16:20]))
	pm.PublishTime = int64(binary.BigEndian.Uint64(b[20:28]))
	pm.PrevPublishTime = int64(binary.BigEndian.Uint64(b[28:36]))
	pm.EMAPrice = int64(binary.BigEndian.Uint64(b[36:44]))
	pm.EMAConf = binary.BigEndian.Uint64(b[44:52])
	return pm, nil
}

// Find returns the price message for feedID and the update carrying it.
func (a *AccumulatorUpdate) Find(feedID [32]byte) (PriceMessage, MerkleUpdate, error) {
	for _, u := range a.Updates {
		pm, err := ParsePriceMessage(u.Message)
		if err != nil {
			continue
		}
		if pm.FeedID == feedID {
			return pm, u, nil
		}
	}
	return PriceMessage{}, MerkleUpdate{}, fmt.Errorf("pyth: feed %x not in update", feedID)
}

func keccak160(parts ...[]byte) [HashSize]byte {
	var out [HashSize]byte
	copy(out[:], crypto.Keccak256(parts...)[:HashSize])
	return out
}

// LeafHash is the Merkle leaf of a message.
func LeafHash(msg []byte) [HashSize]byte {
	return keccak160([]byte{0}, msg)
}

// NodeHash combines two children; the smaller hash goes first.
func NodeHash(a, b [HashSize]byte) [HashSize]byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return keccak160([]byte{1}, a[:], b[:])
}

// VerifyProof reports whether msg is included under root.
func VerifyProof(root [HashSize]byte, msg []byte, proof [][HashSize]byte) bool {
	cur := LeafHash(msg)
	for _, node := range proof {
		cur = NodeHash(cur, node)
	}
	return cur == root
}

// Verify checks that update is proven against the root carried in the VAA.
// Guardian signatures are checked on-chain by the Wormhole program.
func (a *AccumulatorUpdate) Verify(update MerkleUpdate) error {
	vaa, err := ParseVAA(a.VAA)
	if err != nil {
		return err
	}
	root, err := ParseMerkleRoot(vaa.Payload)
	if err != nil {
		return err
	}
	if !VerifyProof(root.Root, update.Message, update.Proof) {
		return errors.New("pyth: merkle proof does not match root")
	}
	return nil
}
