package message

// Delivery values match the transport's wire identifiers.
type Delivery uint8

const (
	DeliveryUnknown             Delivery = 0
	DeliveryUnreliable          Delivery = 1
	DeliveryUnreliableSequenced Delivery = 2
	DeliveryReliableUnordered   Delivery = 34
	DeliveryReliableSequenced   Delivery = 35
	DeliveryReliableOrdered     Delivery = 67
)

func (d Delivery) String() string {
	switch d {
	case DeliveryUnknown:
		return "Unknown Delivery"
	case DeliveryUnreliable:
		return "Unreliable"
	case DeliveryUnreliableSequenced:
		return "UnreliableSequenced"
	case DeliveryReliableUnordered:
		return "ReliableUnordered"
	case DeliveryReliableSequenced:
		return "ReliableSequenced"
	case DeliveryReliableOrdered:
		return "ReliableOrdered"
	default:
		return "Invalid Delivery"
	}
}

func (d Delivery) Valid() bool {
	switch d {
	case DeliveryUnreliable,
		DeliveryUnreliableSequenced,
		DeliveryReliableUnordered,
		DeliveryReliableSequenced,
		DeliveryReliableOrdered:
		return true
	default:
		return false
	}
}

func (d Delivery) Reliable() bool {
	return d == DeliveryReliableUnordered ||
		d == DeliveryReliableSequenced ||
		d == DeliveryReliableOrdered
}

type Channel uint8

const (
	MaxChannel Channel = 31

	// room management traffic
	ChannelRoom Channel = 0
	// room discovery traffic
	ChannelRoomsPage Channel = 1
)

func (c Channel) Valid() bool {
	return c <= MaxChannel
}

// ConnectionType is the remote role relative to the local node.
type ConnectionType uint8

const (
	ConnectionTypeMaster ConnectionType = 0
	ConnectionTypeServer ConnectionType = 1
	ConnectionTypeClient ConnectionType = 2
)

func (t ConnectionType) String() string {
	switch t {
	case ConnectionTypeMaster:
		return "Master"
	case ConnectionTypeServer:
		return "Server"
	case ConnectionTypeClient:
		return "Client"
	default:
		return "Invalid ConnectionType"
	}
}

type ConnectionStatus uint8

const (
	ConnectionStatusDisconnected  ConnectionStatus = 0
	ConnectionStatusConnecting    ConnectionStatus = 1
	ConnectionStatusConnected     ConnectionStatus = 2
	ConnectionStatusDisconnecting ConnectionStatus = 3
)

func (s ConnectionStatus) String() string {
	switch s {
	case ConnectionStatusDisconnected:
		return "Disconnected"
	case ConnectionStatusConnecting:
		return "Connecting"
	case ConnectionStatusConnected:
		return "Connected"
	case ConnectionStatusDisconnecting:
		return "Disconnecting"
	default:
		return "Invalid ConnectionStatus"
	}
}

// Active reports whether the status is Connecting or Connected.
func (s ConnectionStatus) Active() bool {
	return s == ConnectionStatusConnecting || s == ConnectionStatusConnected
}
