package message

import (
	"fmt"

	"github.com/Meander-Cloud/go-rendezvous/packet"
)

// JoinHello is the handshake payload a joiner presents to a host.
type JoinHello struct {
	Token      string
	Attributes *packet.Packet
}

func (m *JoinHello) Encode() []byte {
	w := packet.NewWriter()
	w.WriteString(m.Token)
	m.Attributes.Encode(w)
	return w.Bytes()
}

func DecodeJoinHello(b []byte) (*JoinHello, error) {
	r := packet.NewReader(b)
	token, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrMalformed)
	}
	return &JoinHello{
		Token:      token,
		Attributes: packet.Decode(r),
	}, nil
}
