package rendezvous

import (
	"encoding/base64"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"github.com/Meander-Cloud/go-rendezvous/packet"
)

const (
	// packet field carrying a human readable disconnect reason
	KeyReason = "Reason"

	// marks a disconnect reason that is an encoded Packet
	reasonPacketPrefix = "_"

	idLen = 16
)

const (
	ReasonUnknown           = "Unknown"
	ReasonLoginRefused      = "Login refused"
	ReasonLeft              = "Left"
	ReasonNotFound          = "Connection not found"
	ReasonPeerNotHosting    = "Peer not hosting"
	ReasonBadAuthentication = "Bad authentication data"
	ReasonAuthNotFound      = "Authentication not found"
	ReasonAuthFailed        = "Authentication failed"
	ReasonRoomClosed        = "Server closed the room and connection"

	reasonMasterClosed = "Master closed the connection"
	reasonPeerClosed   = "Peer closed the connection"
	reasonClientClosed = "Client closed the connection"
	reasonServerClosed = "Server closed the connection"
)

// holePunch opens the host's NAT mapping toward a joiner. Its content is
// never interpreted.
var holePunch = []byte{0x00, 'S', 'A'}

// EncodeReason turns p into a transport disconnect reason. A missing
// Reason field is filled with fallback.
func EncodeReason(p *packet.Packet, fallback string) string {
	p = p.Clone()
	if p.GetString(KeyReason) == "" {
		p.SetString(KeyReason, fallback)
	}
	return reasonPacketPrefix + base64.StdEncoding.EncodeToString(p.Serialize())
}

// DecodeReason parses a transport disconnect reason. The result always
// holds a non-empty Reason field.
func DecodeReason(reason string) *packet.Packet {
	if encoded, found := strings.CutPrefix(reason, reasonPacketPrefix); found {
		var p *packet.Packet
		b, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			p = packet.New()
		} else {
			p = packet.Deserialize(b)
		}
		if p.GetString(KeyReason) == "" {
			p.SetString(KeyReason, ReasonUnknown)
		}
		return p
	}

	if reason == "" {
		reason = ReasonUnknown
	}
	return packet.New().SetString(KeyReason, reason)
}

func reasonPacket(reason string) *packet.Packet {
	return packet.New().SetString(KeyReason, reason)
}

func digest(s string) string {
	sum := blake3.Sum256([]byte(s))
	return fmt.Sprintf("%X", sum[:idLen])
}

// RoomID derives the id of the room owned by addr.
func RoomID(addr netip.AddrPort) string {
	return digest(addr.String())
}

func newToken(addr netip.AddrPort, now time.Time) string {
	return digest(addr.String() + now.Format(time.RFC3339Nano))
}
