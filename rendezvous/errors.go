package rendezvous

import (
	"errors"
)

var (
	ErrNotAlive          = errors.New("rendezvous: node is not running")
	ErrNotConnected      = errors.New("rendezvous: connection is not connected")
	ErrAlreadyConnected  = errors.New("rendezvous: master connection already active")
	ErrAlreadyHosting    = errors.New("rendezvous: already hosting a room")
	ErrNotHosting        = errors.New("rendezvous: not hosting a room")
	ErrAlreadyJoined     = errors.New("rendezvous: server connection already active")
	ErrNilPacket         = errors.New("rendezvous: nil packet")
	ErrInvalidRoomID     = errors.New("rendezvous: empty room id")
	ErrInvalidUpdateType = errors.New("rendezvous: invalid room update type")
	ErrInvalidPageSize   = errors.New("rendezvous: invalid page size")
	ErrInvalidPage       = errors.New("rendezvous: pages are numbered from 1")
	ErrInvalidDelivery   = errors.New("rendezvous: invalid delivery or channel")
)
