package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	typicalBufferLen int    = 256
	maxPayloadLen    uint32 = 16384 // 16 KB
	headerLen        int    = 7
)

const (
	protocolPattern byte = 0x52
	protocolVersion byte = 0x01
)

const (
	DialerSenderID   byte = 0x01
	ListenerSenderID byte = 0x02
)

var ErrProtocol = errors.New("protocol: invalid control frame")

type Hello struct {
	Payload []byte `json:"payload"`
}

type Approve struct{}

type Ping struct {
	ID string `json:"id"`
}

type Pong struct {
	ID string `json:"id"`
}

// Frame travels on a session's control stream. Exactly one body is set.
type Frame struct {
	Txseq  uint64 `json:"txseq"`
	Txtime int64  `json:"txtime"` // epoch milliseconds

	Hello   *Hello   `json:"hello,omitempty" msgpack:",omitempty"`
	Approve *Approve `json:"approve,omitempty" msgpack:",omitempty"`
	Ping    *Ping    `json:"ping,omitempty" msgpack:",omitempty"`
	Pong    *Pong    `json:"pong,omitempty" msgpack:",omitempty"`
}

// WriteFrame writes header and msgpack payload in a single Write.
//
// header of seven bytes
// 0 - pre-designated bit pattern indicating valid frame
// 1 - protocol version
// 2 - sender id
// 3,4,5,6 - payload length of type uint32, little endian byte order
func WriteFrame(w io.Writer, txid byte, frame *Frame) error {
	buffer := new(bytes.Buffer)
	buffer.Grow(typicalBufferLen)

	buffer.WriteByte(protocolPattern)
	buffer.WriteByte(protocolVersion)
	buffer.WriteByte(txid)

	// placeholder for payload length
	buffer.Write([]byte{0x00, 0x00, 0x00, 0x00})

	err := msgpack.NewEncoder(buffer).Encode(frame)
	if err != nil {
		return fmt.Errorf("msgpack failed to encode frame=%+v, err=%w", frame, err)
	}

	buf := buffer.Bytes()
	// do not access buffer beyond this point

	payloadLen := uint32(len(buf) - headerLen)
	if payloadLen > maxPayloadLen {
		return fmt.Errorf("%w: payloadLen=%d is too large", ErrProtocol, payloadLen)
	}
	binary.LittleEndian.PutUint32(buf[3:headerLen], payloadLen)

	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one frame and checks it came from the expected side.
func ReadFrame(r io.Reader, rxid byte) (*Frame, error) {
	header := make([]byte, headerLen)
	_, err := io.ReadFull(r, header)
	if err != nil {
		return nil, err
	}

	// protocol specific sanity check
	if header[0] != protocolPattern {
		return nil, fmt.Errorf("%w: invalid protocol pattern in header bytes %X", ErrProtocol, header)
	}
	if header[1] != protocolVersion {
		return nil, fmt.Errorf("%w: unsupported protocol version in header bytes %X", ErrProtocol, header)
	}
	if header[2] != rxid {
		return nil, fmt.Errorf("%w: unrecognized sender id in header bytes %X", ErrProtocol, header)
	}

	payloadLen := binary.LittleEndian.Uint32(header[3:headerLen])
	if payloadLen > maxPayloadLen {
		return nil, fmt.Errorf("%w: payloadLen=%d in header bytes %X is too large", ErrProtocol, payloadLen, header)
	}

	payload := make([]byte, payloadLen)
	_, err = io.ReadFull(r, payload)
	if err != nil {
		return nil, err
	}

	frame := new(Frame)
	err = msgpack.Unmarshal(payload, frame)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal payload, err=%w", ErrProtocol, err)
	}

	return frame, nil
}
