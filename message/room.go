package message

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/Meander-Cloud/go-rendezvous/packet"
)

var ErrMalformed = errors.New("message: malformed payload")

// DecodeHeader reads the leading DataType of a transport payload.
func DecodeHeader(b []byte) (DataType, *packet.Reader, error) {
	r := packet.NewReader(b)
	v, err := r.ReadUint8()
	if err != nil {
		return DataTypeUnknown, nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return DataType(v), r, nil
}

// DecodeRoomCommand reads the command byte following a Room header.
func DecodeRoomCommand(r *packet.Reader) (RoomCommand, error) {
	v, err := r.ReadUint8()
	if err != nil {
		return RoomCommandUnknown, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return RoomCommand(v), nil
}

// EncodeData frames a data-plane Packet.
func EncodeData(p *packet.Packet) []byte {
	w := packet.NewWriter()
	w.WriteUint8(uint8(DataTypeData))
	p.Encode(w)
	return w.Bytes()
}

func beginRoom(cmd RoomCommand) *packet.Writer {
	w := packet.NewWriter()
	w.WriteUint8(uint8(DataTypeRoom))
	w.WriteUint8(uint8(cmd))
	return w
}

func readID(r *packet.Reader) (string, error) {
	id, err := r.ReadString()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if id == "" {
		return "", fmt.Errorf("%w: missing id", ErrMalformed)
	}
	return id, nil
}

func readAddr(r *packet.Reader) (netip.AddrPort, error) {
	addr, err := r.ReadAddr()
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return addr, nil
}

func readUint8(r *packet.Reader) (uint8, error) {
	v, err := r.ReadUint8()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return v, nil
}

// RoomCreate registers the sender's room with the Master.
type RoomCreate struct {
	Attributes *packet.Packet
}

func (m *RoomCreate) Encode() []byte {
	w := beginRoom(RoomCommandCreate)
	m.Attributes.Encode(w)
	return w.Bytes()
}

func DecodeRoomCreate(r *packet.Reader) (*RoomCreate, error) {
	return &RoomCreate{
		Attributes: packet.Decode(r),
	}, nil
}

// RoomUpdate carries a host's attribute update to the Master.
type RoomUpdate struct {
	Type       RoomUpdateType
	Attributes *packet.Packet
}

func (m *RoomUpdate) Encode() []byte {
	w := beginRoom(RoomCommandUpdate)
	w.WriteUint8(uint8(m.Type))
	m.Attributes.Encode(w)
	return w.Bytes()
}

func DecodeRoomUpdate(r *packet.Reader) (*RoomUpdate, error) {
	t, err := readUint8(r)
	if err != nil {
		return nil, err
	}
	return &RoomUpdate{
		Type:       RoomUpdateType(t),
		Attributes: packet.Decode(r),
	}, nil
}

// RoomAttributes carries a host's merged attributes to its clients. It
// shares the Update command byte.
type RoomAttributes struct {
	Attributes *packet.Packet
}

func (m *RoomAttributes) Encode() []byte {
	w := beginRoom(RoomCommandUpdate)
	m.Attributes.Encode(w)
	return w.Bytes()
}

func DecodeRoomAttributes(r *packet.Reader) (*RoomAttributes, error) {
	return &RoomAttributes{
		Attributes: packet.Decode(r),
	}, nil
}

type RoomDestroy struct{}

func (m *RoomDestroy) Encode() []byte {
	return beginRoom(RoomCommandDestroy).Bytes()
}

// RoomGet asks the Master for one room's attributes.
type RoomGet struct {
	ID string
}

func (m *RoomGet) Encode() []byte {
	w := beginRoom(RoomCommandGetRoom)
	w.WriteString(m.ID)
	return w.Bytes()
}

func DecodeRoomGet(r *packet.Reader) (*RoomGet, error) {
	id, err := readID(r)
	if err != nil {
		return nil, err
	}
	return &RoomGet{
		ID: id,
	}, nil
}

// RoomInfo is the Master's reply to RoomGet.
type RoomInfo struct {
	ID         string
	Attributes *packet.Packet
}

func (m *RoomInfo) Encode() []byte {
	w := beginRoom(RoomCommandGetRoom)
	w.WriteString(m.ID)
	m.Attributes.Encode(w)
	return w.Bytes()
}

func DecodeRoomInfo(r *packet.Reader) (*RoomInfo, error) {
	id, err := readID(r)
	if err != nil {
		return nil, err
	}
	return &RoomInfo{
		ID:         id,
		Attributes: packet.Decode(r),
	}, nil
}

type RoomsPageRequest struct {
	RequestID uint8
	Page      uint8
	Size      PageSize
	Filter    *packet.Packet
}

func (m *RoomsPageRequest) Encode() []byte {
	w := beginRoom(RoomCommandGetRoomsPage)
	w.WriteUint8(m.RequestID)
	w.WriteUint8(m.Page)
	w.WriteUint8(uint8(m.Size))
	m.Filter.Encode(w)
	return w.Bytes()
}

func DecodeRoomsPageRequest(r *packet.Reader) (*RoomsPageRequest, error) {
	requestID, err := readUint8(r)
	if err != nil {
		return nil, err
	}
	page, err := readUint8(r)
	if err != nil {
		return nil, err
	}
	size, err := readUint8(r)
	if err != nil {
		return nil, err
	}
	return &RoomsPageRequest{
		RequestID: requestID,
		Page:      page,
		Size:      PageSize(size),
		Filter:    packet.Decode(r),
	}, nil
}

// RoomsPage lists room ids only. Attributes need a follow-up RoomGet.
type RoomsPage struct {
	RequestID uint8
	Page      uint8
	Pages     uint8
	IDs       []string
}

func (m *RoomsPage) Encode() []byte {
	w := beginRoom(RoomCommandGetRoomsPage)
	w.WriteUint8(m.RequestID)
	w.WriteUint8(m.Page)
	w.WriteUint8(m.Pages)
	w.WriteUint8(uint8(len(m.IDs)))
	for _, id := range m.IDs {
		w.WriteString(id)
	}
	return w.Bytes()
}

func DecodeRoomsPage(r *packet.Reader) (*RoomsPage, error) {
	requestID, err := readUint8(r)
	if err != nil {
		return nil, err
	}
	page, err := readUint8(r)
	if err != nil {
		return nil, err
	}
	pages, err := readUint8(r)
	if err != nil {
		return nil, err
	}
	count, err := readUint8(r)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, count)
	for range count {
		id, err := readID(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return &RoomsPage{
		RequestID: requestID,
		Page:      page,
		Pages:     pages,
		IDs:       ids,
	}, nil
}

// RoomJoin asks the Master to broker a connection to a room.
type RoomJoin struct {
	ID string
}

func (m *RoomJoin) Encode() []byte {
	w := beginRoom(RoomCommandJoin)
	w.WriteString(m.ID)
	return w.Bytes()
}

func DecodeRoomJoin(r *packet.Reader) (*RoomJoin, error) {
	id, err := readID(r)
	if err != nil {
		return nil, err
	}
	return &RoomJoin{
		ID: id,
	}, nil
}

// RoomAuth tells a host which address wants in.
type RoomAuth struct {
	Requester netip.AddrPort
}

func (m *RoomAuth) Encode() []byte {
	w := beginRoom(RoomCommandAuth)
	w.WriteAddr(m.Requester)
	return w.Bytes()
}

func DecodeRoomAuth(r *packet.Reader) (*RoomAuth, error) {
	requester, err := readAddr(r)
	if err != nil {
		return nil, err
	}
	return &RoomAuth{
		Requester: requester,
	}, nil
}

// RoomAccept is the host's answer to RoomAuth.
type RoomAccept struct {
	Requester netip.AddrPort
	Token     string
}

func (m *RoomAccept) Encode() []byte {
	w := beginRoom(RoomCommandAccept)
	w.WriteAddr(m.Requester)
	w.WriteString(m.Token)
	return w.Bytes()
}

func DecodeRoomAccept(r *packet.Reader) (*RoomAccept, error) {
	requester, err := readAddr(r)
	if err != nil {
		return nil, err
	}
	token, err := readID(r)
	if err != nil {
		return nil, err
	}
	return &RoomAccept{
		Requester: requester,
		Token:     token,
	}, nil
}

// RoomConnect hands the joiner the host address and token.
type RoomConnect struct {
	ID    string
	Host  netip.AddrPort
	Token string
}

func (m *RoomConnect) Encode() []byte {
	w := beginRoom(RoomCommandConnect)
	w.WriteString(m.ID)
	w.WriteAddr(m.Host)
	w.WriteString(m.Token)
	return w.Bytes()
}

func DecodeRoomConnect(r *packet.Reader) (*RoomConnect, error) {
	id, err := readID(r)
	if err != nil {
		return nil, err
	}
	host, err := readAddr(r)
	if err != nil {
		return nil, err
	}
	token, err := readID(r)
	if err != nil {
		return nil, err
	}
	return &RoomConnect{
		ID:    id,
		Host:  host,
		Token: token,
	}, nil
}
