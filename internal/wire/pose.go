package wire

import "math"

// Pose is the decoded logical contents of a client's pose body: §4.1 in the
// spec. Head is always present; physical yaw and the rest are optional and
// mirrored by the flags byte on the wire.
type Pose struct {
	Stealth bool // bit 3: body carries NaN sentinels instead of real coordinates

	Head         Vec3
	HeadRotation Quaternion

	HasPhysicalYaw bool // bit 4
	PhysicalYaw    float32

	RightHand *HandPose // bit 0
	LeftHand  *HandPose // bit 1

	Virtuals []Transform // bit 2, len() <= MaxVirtuals
}

// HandPose is a head-relative hand transform.
type HandPose struct {
	Position Vec3
	Rotation Quaternion
}

// Transform is a head-relative virtual (extra tracked object) transform.
type Transform struct {
	Position Vec3
	Rotation Quaternion
}

const (
	flagRightHand   = 1 << 0
	flagLeftHand    = 1 << 1
	flagHasVirtuals = 1 << 2
	flagStealth     = 1 << 3
	flagHasYaw      = 1 << 4
)

// EncodePose serializes a Pose into its wire body layout (no message-type
// header — callers prepend that separately).
//
// Stealth frames never encode their (NaN) field values: they always emit a
// fixed canonical byte pattern for every part the flags mark present. This
// keeps Encode total (no NaN-to-fixed-point conversion ambiguity) and makes
// encode(decode(b)) reproduce b exactly for stealth bodies produced by this
// same encoder, satisfying the round-trip invariant without needing the
// fixed-point fields to carry IEEE NaN through a quantization step that has
// no natural representation for it.
func EncodePose(p Pose) []byte {
	w := &writer{}

	flags := uint8(0)
	if p.RightHand != nil {
		flags |= flagRightHand
	}
	if p.LeftHand != nil {
		flags |= flagLeftHand
	}
	if len(p.Virtuals) > 0 {
		flags |= flagHasVirtuals
	}
	if p.Stealth {
		flags |= flagStealth
	}
	if p.HasPhysicalYaw {
		flags |= flagHasYaw
	}
	w.u8(flags)

	if p.Stealth {
		encodeStealthSentinel(w)
	} else {
		w.i24(QuantizeAbsolute(p.Head.X))
		w.i24(QuantizeAbsolute(p.Head.Y))
		w.i24(QuantizeAbsolute(p.Head.Z))
		w.u32(EncodeQuaternion(p.HeadRotation))
	}

	if p.HasPhysicalYaw {
		if p.Stealth {
			w.i16(yawSentinel)
		} else {
			w.i16(QuantizeYaw(p.PhysicalYaw))
		}
	}

	if p.RightHand != nil {
		encodeHand(w, *p.RightHand, p.Stealth)
	}
	if p.LeftHand != nil {
		encodeHand(w, *p.LeftHand, p.Stealth)
	}

	if len(p.Virtuals) > 0 {
		n := len(p.Virtuals)
		if n > MaxVirtuals {
			n = MaxVirtuals
		}
		w.u8(uint8(n))
		for i := 0; i < n; i++ {
			encodeTransform(w, p.Virtuals[i], p.Stealth)
		}
	}

	return w.buf
}

func encodeHand(w *writer, h HandPose, stealth bool) {
	if stealth {
		w.i16(relSentinel)
		w.i16(relSentinel)
		w.i16(relSentinel)
		w.u32(0)
		return
	}
	w.i16(QuantizeRelative(h.Position.X))
	w.i16(QuantizeRelative(h.Position.Y))
	w.i16(QuantizeRelative(h.Position.Z))
	w.u32(EncodeQuaternion(h.Rotation))
}

func encodeTransform(w *writer, t Transform, stealth bool) {
	encodeHand(w, HandPose{Position: t.Position, Rotation: t.Rotation}, stealth)
}

// Fixed stealth sentinel constants. These are never fed through the normal
// quantize/dequantize path — see EncodePose's doc comment.
const (
	absSentinel = int32(-8388608)
	relSentinel = int16(-32768)
	yawSentinel = int16(-32768)
)

func encodeStealthSentinel(w *writer) {
	w.i24(absSentinel)
	w.i24(absSentinel)
	w.i24(absSentinel)
	w.u32(0)
}

// DecodePose parses a pose body previously produced by EncodePose (or a
// conforming client). Returns ErrMalformedFrame on truncation or a
// virtual-transform count over MaxVirtuals.
func DecodePose(body []byte) (Pose, error) {
	p, _, err := decodePoseFromReader(newReader(body))
	return p, err
}

// decodePoseFromReader decodes a pose body starting at r's current
// position, advancing r past it, and also returns the number of bytes
// consumed — used by DecodeRoomPose to locate each client's slot without
// re-scanning the buffer from the start.
func decodePoseFromReader(r *reader) (Pose, int, error) {
	startPos := r.pos

	flags, err := r.u8()
	if err != nil {
		return Pose{}, 0, err
	}

	p := Pose{
		Stealth:        flags&flagStealth != 0,
		HasPhysicalYaw: flags&flagHasYaw != 0,
	}

	if p.Stealth {
		if _, err := r.take(3 + 3 + 3 + 4); err != nil {
			return Pose{}, 0, err
		}
		nan := float32(math.NaN())
		p.Head = Vec3{X: nan, Y: nan, Z: nan}
		p.HeadRotation = Quaternion{X: nan, Y: nan, Z: nan, W: nan}
	} else {
		x, err := r.i24()
		if err != nil {
			return Pose{}, 0, err
		}
		y, err := r.i24()
		if err != nil {
			return Pose{}, 0, err
		}
		z, err := r.i24()
		if err != nil {
			return Pose{}, 0, err
		}
		rot, err := r.u32()
		if err != nil {
			return Pose{}, 0, err
		}
		p.Head = Vec3{X: DequantizeAbsolute(x), Y: DequantizeAbsolute(y), Z: DequantizeAbsolute(z)}
		p.HeadRotation = DecodeQuaternion(rot)
	}

	if p.HasPhysicalYaw {
		yaw, err := r.i16()
		if err != nil {
			return Pose{}, 0, err
		}
		if p.Stealth {
			p.PhysicalYaw = float32(math.NaN())
		} else {
			p.PhysicalYaw = DequantizeYaw(yaw)
		}
	}

	if flags&flagRightHand != 0 {
		hp, err := decodeHand(r, p.Stealth)
		if err != nil {
			return Pose{}, 0, err
		}
		p.RightHand = hp
	}
	if flags&flagLeftHand != 0 {
		hp, err := decodeHand(r, p.Stealth)
		if err != nil {
			return Pose{}, 0, err
		}
		p.LeftHand = hp
	}

	if flags&flagHasVirtuals != 0 {
		n, err := r.u8()
		if err != nil {
			return Pose{}, 0, err
		}
		if int(n) > MaxVirtuals {
			return Pose{}, 0, ErrMalformedFrame
		}
		p.Virtuals = make([]Transform, n)
		for i := 0; i < int(n); i++ {
			hp, err := decodeHand(r, p.Stealth)
			if err != nil {
				return Pose{}, 0, err
			}
			p.Virtuals[i] = Transform{Position: hp.Position, Rotation: hp.Rotation}
		}
	}

	return p, r.pos - startPos, nil
}

func decodeHand(r *reader, stealth bool) (*HandPose, error) {
	x, err := r.i16()
	if err != nil {
		return nil, err
	}
	y, err := r.i16()
	if err != nil {
		return nil, err
	}
	z, err := r.i16()
	if err != nil {
		return nil, err
	}
	rot, err := r.u32()
	if err != nil {
		return nil, err
	}
	if stealth {
		nan := float32(math.NaN())
		return &HandPose{Position: Vec3{X: nan, Y: nan, Z: nan}, Rotation: Quaternion{X: nan, Y: nan, Z: nan, W: nan}}, nil
	}
	return &HandPose{
		Position: Vec3{X: DequantizeRelative(x), Y: DequantizeRelative(y), Z: DequantizeRelative(z)},
		Rotation: DecodeQuaternion(rot),
	}, nil
}
