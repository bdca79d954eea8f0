package wire

// ClientPoseMsg is the decoded CLIENT_POSE message (ID 11, client -> server).
type ClientPoseMsg struct {
	DeviceID []byte
	Sequence uint32
	Body     []byte // raw pose-body bytes, cached verbatim — never re-encoded
	Pose     Pose   // decoded for validation and stealth/virtuals inspection
}

// EncodeClientPose builds a full CLIENT_POSE payload frame.
func EncodeClientPose(deviceID []byte, sequence uint32, poseBody []byte) []byte {
	w := &writer{}
	w.u8(uint8(MsgClientPose))
	w.u8(ProtocolVersion)
	w.bytesU8(deviceID)
	w.u32(sequence)
	w.bytes(poseBody)
	return w.buf
}

// DecodeClientPose parses a CLIENT_POSE payload. The returned Body is a
// subslice of payload — callers that cache it for later broadcast must copy.
func DecodeClientPose(payload []byte) (ClientPoseMsg, error) {
	r := newReader(payload)

	t, err := r.u8()
	if err != nil {
		return ClientPoseMsg{}, err
	}
	if MessageType(t) != MsgClientPose {
		return ClientPoseMsg{}, ErrMalformedFrame
	}

	version, err := r.u8()
	if err != nil {
		return ClientPoseMsg{}, err
	}
	if version != ProtocolVersion {
		return ClientPoseMsg{}, ErrMalformedFrame
	}

	deviceID, err := r.bytesU8(MaxDeviceIDBytes)
	if err != nil {
		return ClientPoseMsg{}, err
	}

	seq, err := r.u32()
	if err != nil {
		return ClientPoseMsg{}, err
	}

	body := r.buf[r.pos:]
	pose, err := DecodePose(body)
	if err != nil {
		return ClientPoseMsg{}, err
	}

	return ClientPoseMsg{DeviceID: deviceID, Sequence: seq, Body: body, Pose: pose}, nil
}

// RoomPoseEntry is one client's slot inside a ROOM_POSE broadcast.
type RoomPoseEntry struct {
	ClientNumber uint16
	Body         []byte // cached raw pose-body bytes, spliced in verbatim
}

// EncodeRoomPose builds a ROOM_POSE payload. Entries must already be in
// ascending client-number order (invariant 6) — this function does not sort.
func EncodeRoomPose(roomID []byte, entries []RoomPoseEntry) []byte {
	w := &writer{}
	w.u8(uint8(MsgRoomPose))
	w.u8(ProtocolVersion)
	w.bytesU8(roomID)
	w.u16(uint16(len(entries)))
	for _, e := range entries {
		w.u16(e.ClientNumber)
		w.bytes(e.Body)
	}
	return w.buf
}

// RoomPoseMsg is the decoded form of a ROOM_POSE payload.
type RoomPoseMsg struct {
	RoomID  []byte
	Entries []RoomPoseEntry
}

// DecodeRoomPose parses a ROOM_POSE payload, decoding each client's pose body
// in place (via decodePoseFromReader) so the next entry's offset can be found
// without a second pass over the bytes.
func DecodeRoomPose(payload []byte) (RoomPoseMsg, error) {
	r := newReader(payload)

	t, err := r.u8()
	if err != nil {
		return RoomPoseMsg{}, err
	}
	if MessageType(t) != MsgRoomPose {
		return RoomPoseMsg{}, ErrMalformedFrame
	}
	version, err := r.u8()
	if err != nil {
		return RoomPoseMsg{}, err
	}
	if version != ProtocolVersion {
		return RoomPoseMsg{}, ErrMalformedFrame
	}
	roomID, err := r.bytesU8(MaxRoomIDBytes)
	if err != nil {
		return RoomPoseMsg{}, err
	}
	count, err := r.u16()
	if err != nil {
		return RoomPoseMsg{}, err
	}

	entries := make([]RoomPoseEntry, 0, count)
	for i := uint16(0); i < count; i++ {
		cn, err := r.u16()
		if err != nil {
			return RoomPoseMsg{}, err
		}
		start := r.pos
		if _, _, err := decodePoseFromReader(r); err != nil {
			return RoomPoseMsg{}, err
		}
		entries = append(entries, RoomPoseEntry{ClientNumber: cn, Body: r.buf[start:r.pos]})
	}

	return RoomPoseMsg{RoomID: roomID, Entries: entries}, nil
}

// RPCMsg is the decoded form of RPC_BROADCAST, RPC_SERVER, and RPC_CLIENT.
// Target is only meaningful for RPC_CLIENT.
type RPCMsg struct {
	Type     MessageType
	Sender   uint16
	Target   uint16 // RPC_CLIENT only
	Function []byte
	Args     []byte // opaque UTF-8 JSON, not parsed by the server
}

const maxFunctionNameBytes = 255
const maxRPCArgsBytes = 65535

// EncodeRPCBroadcast builds an RPC_BROADCAST or RPC_SERVER payload (same
// wire shape).
func EncodeRPCBroadcast(t MessageType, sender uint16, function, args []byte) []byte {
	w := &writer{}
	w.u8(uint8(t))
	w.u16(sender)
	w.bytesU8(function)
	w.bytesU16(args)
	return w.buf
}

// EncodeRPCClient builds an RPC_CLIENT payload.
func EncodeRPCClient(sender, target uint16, function, args []byte) []byte {
	w := &writer{}
	w.u8(uint8(MsgRPCClient))
	w.u16(sender)
	w.u16(target)
	w.bytesU8(function)
	w.bytesU16(args)
	return w.buf
}

// DecodeRPC parses RPC_BROADCAST, RPC_SERVER, or RPC_CLIENT payloads.
func DecodeRPC(payload []byte) (RPCMsg, error) {
	r := newReader(payload)
	t, err := r.u8()
	if err != nil {
		return RPCMsg{}, err
	}
	mt := MessageType(t)

	sender, err := r.u16()
	if err != nil {
		return RPCMsg{}, err
	}

	var target uint16
	if mt == MsgRPCClient {
		target, err = r.u16()
		if err != nil {
			return RPCMsg{}, err
		}
	} else if mt != MsgRPCBroadcast && mt != MsgRPCServer {
		return RPCMsg{}, ErrMalformedFrame
	}

	fn, err := r.bytesU8(maxFunctionNameBytes)
	if err != nil {
		return RPCMsg{}, err
	}
	args, err := r.bytesU16(maxRPCArgsBytes)
	if err != nil {
		return RPCMsg{}, err
	}

	return RPCMsg{Type: mt, Sender: sender, Target: target, Function: fn, Args: args}, nil
}

// DeviceMappingEntry is one client's slot in a DEVICE_ID_MAPPING broadcast.
type DeviceMappingEntry struct {
	ClientNumber uint16
	Stealth      bool
	DeviceID     []byte
}

// EncodeDeviceMapping builds a DEVICE_ID_MAPPING payload.
func EncodeDeviceMapping(entries []DeviceMappingEntry) []byte {
	w := &writer{}
	w.u8(uint8(MsgDeviceIDMapping))
	w.u16(uint16(len(entries)))
	for _, e := range entries {
		w.u16(e.ClientNumber)
		if e.Stealth {
			w.u8(0x01)
		} else {
			w.u8(0x00)
		}
		w.bytesU8(e.DeviceID)
	}
	return w.buf
}

// DecodeDeviceMapping parses a DEVICE_ID_MAPPING payload.
func DecodeDeviceMapping(payload []byte) ([]DeviceMappingEntry, error) {
	r := newReader(payload)
	t, err := r.u8()
	if err != nil {
		return nil, err
	}
	if MessageType(t) != MsgDeviceIDMapping {
		return nil, ErrMalformedFrame
	}
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	entries := make([]DeviceMappingEntry, 0, count)
	for i := uint16(0); i < count; i++ {
		cn, err := r.u16()
		if err != nil {
			return nil, err
		}
		flag, err := r.u8()
		if err != nil {
			return nil, err
		}
		devID, err := r.bytesU8(MaxDeviceIDBytes)
		if err != nil {
			return nil, err
		}
		entries = append(entries, DeviceMappingEntry{ClientNumber: cn, Stealth: flag == 0x01, DeviceID: devID})
	}
	return entries, nil
}

// GlobalVarSetMsg is the decoded GLOBAL_VAR_SET message.
type GlobalVarSetMsg struct {
	Sender    uint16
	Name      []byte
	Value     []byte
	Timestamp float64
}

// EncodeGlobalVarSet builds a GLOBAL_VAR_SET payload.
func EncodeGlobalVarSet(sender uint16, name, value []byte, ts float64) []byte {
	w := &writer{}
	w.u8(uint8(MsgGlobalVarSet))
	w.u16(sender)
	w.bytesU8(name)
	w.bytesU16(value)
	w.f64(ts)
	return w.buf
}

// DecodeGlobalVarSet parses a GLOBAL_VAR_SET payload.
func DecodeGlobalVarSet(payload []byte) (GlobalVarSetMsg, error) {
	r := newReader(payload)
	t, err := r.u8()
	if err != nil {
		return GlobalVarSetMsg{}, err
	}
	if MessageType(t) != MsgGlobalVarSet {
		return GlobalVarSetMsg{}, ErrMalformedFrame
	}
	sender, err := r.u16()
	if err != nil {
		return GlobalVarSetMsg{}, err
	}
	name, err := r.bytesU8(MaxVarNameBytes)
	if err != nil {
		return GlobalVarSetMsg{}, err
	}
	value, err := r.bytesU16(MaxVarValueBytes)
	if err != nil {
		return GlobalVarSetMsg{}, err
	}
	ts, err := r.f64()
	if err != nil {
		return GlobalVarSetMsg{}, err
	}
	return GlobalVarSetMsg{Sender: sender, Name: name, Value: value, Timestamp: ts}, nil
}

// VarEntry is one name/value/timestamp/writer tuple, shared by
// GLOBAL_VAR_SYNC and the per-client blocks of CLIENT_VAR_SYNC.
type VarEntry struct {
	Name      []byte
	Value     []byte
	Timestamp float64
	Writer    uint16
}

func encodeVarEntry(w *writer, e VarEntry) {
	w.bytesU8(e.Name)
	w.bytesU16(e.Value)
	w.f64(e.Timestamp)
	w.u16(e.Writer)
}

func decodeVarEntry(r *reader) (VarEntry, error) {
	name, err := r.bytesU8(MaxVarNameBytes)
	if err != nil {
		return VarEntry{}, err
	}
	value, err := r.bytesU16(MaxVarValueBytes)
	if err != nil {
		return VarEntry{}, err
	}
	ts, err := r.f64()
	if err != nil {
		return VarEntry{}, err
	}
	writer, err := r.u16()
	if err != nil {
		return VarEntry{}, err
	}
	return VarEntry{Name: name, Value: value, Timestamp: ts, Writer: writer}, nil
}

// EncodeGlobalVarSync builds a GLOBAL_VAR_SYNC payload.
func EncodeGlobalVarSync(entries []VarEntry) []byte {
	w := &writer{}
	w.u8(uint8(MsgGlobalVarSync))
	w.u16(uint16(len(entries)))
	for _, e := range entries {
		encodeVarEntry(w, e)
	}
	return w.buf
}

// DecodeGlobalVarSync parses a GLOBAL_VAR_SYNC payload.
func DecodeGlobalVarSync(payload []byte) ([]VarEntry, error) {
	r := newReader(payload)
	t, err := r.u8()
	if err != nil {
		return nil, err
	}
	if MessageType(t) != MsgGlobalVarSync {
		return nil, ErrMalformedFrame
	}
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	out := make([]VarEntry, 0, count)
	for i := uint16(0); i < count; i++ {
		e, err := decodeVarEntry(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ClientVarSetMsg is the decoded CLIENT_VAR_SET message.
type ClientVarSetMsg struct {
	Sender    uint16
	Target    uint16
	Name      []byte
	Value     []byte
	Timestamp float64
}

// EncodeClientVarSet builds a CLIENT_VAR_SET payload.
func EncodeClientVarSet(sender, target uint16, name, value []byte, ts float64) []byte {
	w := &writer{}
	w.u8(uint8(MsgClientVarSet))
	w.u16(sender)
	w.u16(target)
	w.bytesU8(name)
	w.bytesU16(value)
	w.f64(ts)
	return w.buf
}

// DecodeClientVarSet parses a CLIENT_VAR_SET payload.
func DecodeClientVarSet(payload []byte) (ClientVarSetMsg, error) {
	r := newReader(payload)
	t, err := r.u8()
	if err != nil {
		return ClientVarSetMsg{}, err
	}
	if MessageType(t) != MsgClientVarSet {
		return ClientVarSetMsg{}, ErrMalformedFrame
	}
	sender, err := r.u16()
	if err != nil {
		return ClientVarSetMsg{}, err
	}
	target, err := r.u16()
	if err != nil {
		return ClientVarSetMsg{}, err
	}
	name, err := r.bytesU8(MaxVarNameBytes)
	if err != nil {
		return ClientVarSetMsg{}, err
	}
	value, err := r.bytesU16(MaxVarValueBytes)
	if err != nil {
		return ClientVarSetMsg{}, err
	}
	ts, err := r.f64()
	if err != nil {
		return ClientVarSetMsg{}, err
	}
	return ClientVarSetMsg{Sender: sender, Target: target, Name: name, Value: value, Timestamp: ts}, nil
}

// ClientVarBlock is one client's variable set inside a CLIENT_VAR_SYNC.
type ClientVarBlock struct {
	ClientNumber uint16
	Vars         []VarEntry
}

// EncodeClientVarSync builds a CLIENT_VAR_SYNC payload.
func EncodeClientVarSync(blocks []ClientVarBlock) []byte {
	w := &writer{}
	w.u8(uint8(MsgClientVarSync))
	w.u16(uint16(len(blocks)))
	for _, b := range blocks {
		w.u16(b.ClientNumber)
		w.u16(uint16(len(b.Vars)))
		for _, e := range b.Vars {
			encodeVarEntry(w, e)
		}
	}
	return w.buf
}

// DecodeClientVarSync parses a CLIENT_VAR_SYNC payload.
func DecodeClientVarSync(payload []byte) ([]ClientVarBlock, error) {
	r := newReader(payload)
	t, err := r.u8()
	if err != nil {
		return nil, err
	}
	if MessageType(t) != MsgClientVarSync {
		return nil, ErrMalformedFrame
	}
	clientCount, err := r.u16()
	if err != nil {
		return nil, err
	}
	blocks := make([]ClientVarBlock, 0, clientCount)
	for i := uint16(0); i < clientCount; i++ {
		cn, err := r.u16()
		if err != nil {
			return nil, err
		}
		varCount, err := r.u16()
		if err != nil {
			return nil, err
		}
		vars := make([]VarEntry, 0, varCount)
		for j := uint16(0); j < varCount; j++ {
			e, err := decodeVarEntry(r)
			if err != nil {
				return nil, err
			}
			vars = append(vars, e)
		}
		blocks = append(blocks, ClientVarBlock{ClientNumber: cn, Vars: vars})
	}
	return blocks, nil
}
