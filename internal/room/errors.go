package room

import "errors"

// ErrRoomFull is returned by UpsertClient when a room already holds every
// representable client-number (1..65535) and a new device cannot be seated.
var ErrRoomFull = errors.New("room full")
