package wire

// MessageType identifies the first byte of frame 1 in every two-frame unit.
type MessageType byte

// Message IDs recognized on the wire. IDs 1 and 2 are remnants of the
// pre-v3 transform path in the original system and are never accepted here —
// they fall through to ErrMalformedFrame like any other unknown type.
const (
	MsgClientPose      MessageType = 11
	MsgRoomPose        MessageType = 12
	MsgRPCBroadcast    MessageType = 3
	MsgRPCServer       MessageType = 4
	MsgRPCClient       MessageType = 5
	MsgDeviceIDMapping MessageType = 6
	MsgGlobalVarSet    MessageType = 7
	MsgGlobalVarSync   MessageType = 8
	MsgClientVarSet    MessageType = 9
	MsgClientVarSync   MessageType = 10
)

// ProtocolVersion is the only accepted value for the version byte carried
// by CLIENT_POSE and ROOM_POSE.
const ProtocolVersion = 3

// Cap constants shared across message kinds.
const (
	MaxRoomIDBytes   = 255
	MaxDeviceIDBytes = 255
	MaxVarNameBytes  = 64
	MaxVarValueBytes = 1024
	MaxVirtuals      = 50
)

// PeekType returns the message type byte of a payload frame without
// consuming it. Returns an error if the frame is empty or the type is not
// one this server recognizes.
func PeekType(payload []byte) (MessageType, error) {
	if len(payload) == 0 {
		return 0, ErrMalformedFrame
	}
	t := MessageType(payload[0])
	switch t {
	case MsgClientPose, MsgRoomPose, MsgRPCBroadcast, MsgRPCServer, MsgRPCClient,
		MsgDeviceIDMapping, MsgGlobalVarSet, MsgGlobalVarSync, MsgClientVarSet, MsgClientVarSync:
		return t, nil
	default:
		return 0, &ErrUnknownMessageType{Type: payload[0]}
	}
}

// ValidateRoomID checks frame 0's content-cap rule: non-empty, <= 255 bytes.
func ValidateRoomID(roomID []byte) error {
	if len(roomID) == 0 || len(roomID) > MaxRoomIDBytes {
		return ErrMalformedFrame
	}
	return nil
}
