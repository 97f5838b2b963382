package constraint

import (
	"encoding/binary"
	"fmt"

	"github.com/akmonengine/tendon/stream"
)

// Block names a region of a record. The optional blocks come in this order
// right after the type's payload, followed by the per-point blocks of
// contact-like records.
type Block int

const (
	BlockColliderKeys Block = iota
	BlockEntities
	BlockSurfaceVelocity
	BlockMassFactors
	BlockImpulseEvent
	BlockAngulars
	BlockContactPoints
	numBlocks
)

var blockNames = [numBlocks]string{
	"ColliderKeys", "Entities", "SurfaceVelocity", "MassFactors",
	"ImpulseEvent", "Angulars", "ContactPoints",
}

func (b Block) String() string {
	if b >= 0 && b < numBlocks {
		return blockNames[b]
	}
	return fmt.Sprintf("Block(%d)", int(b))
}

var byteOrder = binary.LittleEndian

// blockSpec is one row of the layout table: which records carry the block and
// how big one element of it is.
type blockSpec struct {
	size     int
	perPoint bool
	present  func(t Type, f Flags) bool
}

func withCollisionEvents(t Type, f Flags) bool {
	return t == TypeTrigger || (t == TypeContact && f.Has(FlagCollisionEvents))
}

// The single table every size and offset computation walks.
var blockTable = [numBlocks]blockSpec{
	BlockColliderKeys: {
		size:    binary.Size(ColliderKeyPair{}),
		present: withCollisionEvents,
	},
	BlockEntities: {
		size:    binary.Size(EntityPair{}),
		present: withCollisionEvents,
	},
	BlockSurfaceVelocity: {
		size: binary.Size(SurfaceVelocity{}),
		present: func(t Type, f Flags) bool {
			return t == TypeContact && f.Has(FlagSurfaceVelocity)
		},
	},
	BlockMassFactors: {
		size: binary.Size(MassFactors{}),
		present: func(t Type, f Flags) bool {
			return t.IsContact() && f.Has(FlagMassFactors)
		},
	},
	BlockImpulseEvent: {
		size: binary.Size(ImpulseEventData{}),
		present: func(t Type, f Flags) bool {
			return t.IsJoint() && f.Has(FlagImpulseEvents)
		},
	},
	BlockAngulars: {
		size:     binary.Size(PointJacobian{}),
		perPoint: true,
		present: func(t Type, _ Flags) bool {
			return t.IsContact()
		},
	},
	BlockContactPoints: {
		size:     binary.Size(ContactPoint{}),
		perPoint: true,
		present: func(t Type, f Flags) bool {
			return t == TypeContact && f.Has(FlagCollisionEvents)
		},
	},
}

var (
	headerSize    = binary.Size(Header{})
	payloadOffset = stream.SizePrefix + headerSize

	// Type and Flags follow the two body indices of the header.
	kindOffset = stream.SizePrefix + 2*binary.Size(int32(0))
)

// payloadSizes is indexed by Type.
var payloadSizes = [numTypes]int{
	TypeContact:              binary.Size(ContactJacobian{}),
	TypeTrigger:              binary.Size(TriggerJacobian{}),
	TypeLinearLimit:          binary.Size(LinearLimitJacobian{}),
	TypeAngularLimit1D:       binary.Size(AngularLimit1DJacobian{}),
	TypeAngularLimit2D:       binary.Size(AngularLimit2DJacobian{}),
	TypeAngularLimit3D:       binary.Size(AngularLimit3DJacobian{}),
	TypeLinearVelocityMotor:  binary.Size(LinearVelocityMotorJacobian{}),
	TypeAngularVelocityMotor: binary.Size(AngularVelocityMotorJacobian{}),
}

// Span is the byte range of one block inside a record.
type Span struct {
	Block  Block
	Offset int
	Size   int
}

// Layout lists the blocks present in a record of the given shape, in storage
// order. The first byte after the last span is CalculateSize.
func Layout(t Type, f Flags, numContacts int) []Span {
	spans := make([]Span, 0, numBlocks)
	walkLayout(t, f, numContacts, func(s Span) {
		spans = append(spans, s)
	})
	return spans
}

func walkLayout(t Type, f Flags, numContacts int, visit func(Span)) int {
	assert(t > TypeNone && t < numTypes, "unknown record type %v", t)
	assert(f.ValidFor(t), "invalid flags %08b for %v", f, t)
	assert(!t.IsContact() || numContacts > 0, "%v record without contact points", t)

	offset := payloadOffset + payloadSizes[t]
	for b := Block(0); b < numBlocks; b++ {
		spec := blockTable[b]
		if !spec.present(t, f) {
			continue
		}
		size := spec.size
		if spec.perPoint {
			size *= numContacts
		}
		if visit != nil {
			visit(Span{Block: b, Offset: offset, Size: size})
		}
		offset += size
	}
	return offset
}

// CalculateSize returns the total size of a record, size prefix included.
func CalculateSize(t Type, f Flags, numContacts int) int {
	return walkLayout(t, f, numContacts, nil)
}

// Offset returns where block b starts in a record of the given shape, or -1 if
// such a record does not carry it.
func Offset(t Type, f Flags, b Block, numContacts int) int {
	offset := -1
	walkLayout(t, f, numContacts, func(s Span) {
		if s.Block == b {
			offset = s.Offset
		}
	})
	return offset
}

// Record is a view over the bytes of one Jacobian record, size prefix
// included, as handed out by the stream.
type Record []byte

// NewRecord writes the size prefix and the header into buf, which must be
// CalculateSize bytes long, and returns the record view. numContacts is stored
// for contact-like records.
func NewRecord(buf []byte, h Header, numContacts int) Record {
	r := Record(buf)
	assert(len(buf) == CalculateSize(h.Type, h.Flags, numContacts),
		"record buffer is %d bytes, want %d", len(buf), CalculateSize(h.Type, h.Flags, numContacts))
	byteOrder.PutUint32(r, uint32(len(buf)))
	store(r, stream.SizePrefix, &h)
	if h.Type.IsContact() {
		byteOrder.PutUint32(r[payloadOffset:], uint32(numContacts))
	}
	return r
}

// Size returns the size stored in the record's prefix.
func (r Record) Size() int {
	return int(byteOrder.Uint32(r))
}

func (r Record) Header() Header {
	return load[Header](r, stream.SizePrefix)
}

// kind reads the record type and flags without decoding the whole header.
func (r Record) kind() (Type, Flags) {
	return Type(r[kindOffset]), Flags(r[kindOffset+1])
}

// NumContacts returns the number of contact points of a contact or trigger
// record; its payload starts with the base contact Jacobian.
func (r Record) NumContacts() int {
	if t, _ := r.kind(); !t.IsContact() {
		return 0
	}
	return int(int32(byteOrder.Uint32(r[payloadOffset:])))
}

// Payload decodes the type-specific Jacobian into jac, which must point to the
// struct matching the record type.
func (r Record) Payload(jac any) {
	mustDecode(r[payloadOffset:], jac)
}

// SetPayload encodes jac back into the record.
func (r Record) SetPayload(jac any) {
	mustEncode(r[payloadOffset:], jac)
}

func (r Record) offset(b Block) int {
	t, f := r.kind()
	offset := Offset(t, f, b, r.NumContacts())
	if offset < 0 {
		panic(fmt.Sprintf("constraint: %v record with flags %08b has no %v block", t, f, b))
	}
	return offset
}

// Has reports whether the record carries block b.
func (r Record) Has(b Block) bool {
	t, f := r.kind()
	return blockTable[b].present(t, f)
}

func (r Record) ColliderKeys() ColliderKeyPair {
	return load[ColliderKeyPair](r, r.offset(BlockColliderKeys))
}

func (r Record) SetColliderKeys(keys ColliderKeyPair) {
	store(r, r.offset(BlockColliderKeys), &keys)
}

func (r Record) Entities() EntityPair {
	return load[EntityPair](r, r.offset(BlockEntities))
}

func (r Record) SetEntities(entities EntityPair) {
	store(r, r.offset(BlockEntities), &entities)
}

func (r Record) SurfaceVelocity() SurfaceVelocity {
	return load[SurfaceVelocity](r, r.offset(BlockSurfaceVelocity))
}

func (r Record) SetSurfaceVelocity(velocity SurfaceVelocity) {
	store(r, r.offset(BlockSurfaceVelocity), &velocity)
}

func (r Record) MassFactors() MassFactors {
	return load[MassFactors](r, r.offset(BlockMassFactors))
}

func (r Record) SetMassFactors(factors MassFactors) {
	store(r, r.offset(BlockMassFactors), &factors)
}

func (r Record) ImpulseEventData() ImpulseEventData {
	return load[ImpulseEventData](r, r.offset(BlockImpulseEvent))
}

func (r Record) SetImpulseEventData(data ImpulseEventData) {
	store(r, r.offset(BlockImpulseEvent), &data)
}

// PointJacobian returns the angular Jacobian of contact point i.
func (r Record) PointJacobian(i int) PointJacobian {
	return load[PointJacobian](r, r.pointOffset(BlockAngulars, i))
}

func (r Record) SetPointJacobian(i int, jac PointJacobian) {
	store(r, r.pointOffset(BlockAngulars, i), &jac)
}

// PointJacobians decodes the Jacobians of every contact point at once into
// dst, growing it when needed.
func (r Record) PointJacobians(dst []PointJacobian) []PointJacobian {
	n := r.NumContacts()
	if cap(dst) < n {
		dst = make([]PointJacobian, n)
	}
	dst = dst[:n]
	if n > 0 {
		mustDecode(r[r.offset(BlockAngulars):], dst)
	}
	return dst
}

// SetPointJacobians encodes the Jacobians of every contact point at once.
func (r Record) SetPointJacobians(points []PointJacobian) {
	assert(len(points) == r.NumContacts(), "%d point jacobians for %d contacts", len(points), r.NumContacts())
	if len(points) > 0 {
		mustEncode(r[r.offset(BlockAngulars):], points)
	}
}

// ContactPoint returns the raw contact point i kept for collision events.
func (r Record) ContactPoint(i int) ContactPoint {
	return load[ContactPoint](r, r.pointOffset(BlockContactPoints, i))
}

func (r Record) SetContactPoint(i int, point ContactPoint) {
	store(r, r.pointOffset(BlockContactPoints, i), &point)
}

func (r Record) pointOffset(b Block, i int) int {
	n := r.NumContacts()
	if i < 0 || i >= n {
		panic(fmt.Sprintf("constraint: %v index %d out of range [0, %d)", b, i, n))
	}
	return r.offset(b) + i*blockTable[b].size
}

func load[T any](r Record, offset int) T {
	var v T
	mustDecode(r[offset:], &v)
	return v
}

func store[T any](r Record, offset int, v *T) {
	mustEncode(r[offset:], v)
}

func mustDecode(buf []byte, v any) {
	if _, err := binary.Decode(buf, byteOrder, v); err != nil {
		panic(fmt.Errorf("constraint: decode %T: %w", v, err))
	}
}

func mustEncode(buf []byte, v any) {
	if _, err := binary.Encode(buf, byteOrder, v); err != nil {
		panic(fmt.Errorf("constraint: encode %T: %w", v, err))
	}
}
