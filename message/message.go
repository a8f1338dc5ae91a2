package message

// DataType is the first byte of every transport payload.
type DataType uint8

const (
	DataTypeUnknown DataType = 0
	DataTypeRoom    DataType = 96
	DataTypeData    DataType = 123
)

func (t DataType) String() string {
	switch t {
	case DataTypeUnknown:
		return "Unknown DataType"
	case DataTypeRoom:
		return "Room"
	case DataTypeData:
		return "Data"
	default:
		return "Invalid DataType"
	}
}

type RoomCommand uint8

const (
	RoomCommandUnknown      RoomCommand = 0
	RoomCommandCreate       RoomCommand = 1
	RoomCommandUpdate       RoomCommand = 2
	RoomCommandDestroy      RoomCommand = 3
	RoomCommandGetRoom      RoomCommand = 4
	RoomCommandGetRoomsPage RoomCommand = 5
	RoomCommandJoin         RoomCommand = 6
	RoomCommandAuth         RoomCommand = 7
	RoomCommandAccept       RoomCommand = 8
	RoomCommandConnect      RoomCommand = 9
)

func (c RoomCommand) String() string {
	switch c {
	case RoomCommandUnknown:
		return "Unknown RoomCommand"
	case RoomCommandCreate:
		return "Create"
	case RoomCommandUpdate:
		return "Update"
	case RoomCommandDestroy:
		return "Destroy"
	case RoomCommandGetRoom:
		return "GetRoom"
	case RoomCommandGetRoomsPage:
		return "GetRoomsPage"
	case RoomCommandJoin:
		return "Join"
	case RoomCommandAuth:
		return "Auth"
	case RoomCommandAccept:
		return "Accept"
	case RoomCommandConnect:
		return "Connect"
	default:
		return "Invalid RoomCommand"
	}
}

type RoomUpdateType uint8

const (
	RoomUpdateTypeUnknown  RoomUpdateType = 0
	RoomUpdateTypeChange   RoomUpdateType = 1
	RoomUpdateTypeAdditive RoomUpdateType = 2
)

func (t RoomUpdateType) String() string {
	switch t {
	case RoomUpdateTypeUnknown:
		return "Unknown RoomUpdateType"
	case RoomUpdateTypeChange:
		return "Change"
	case RoomUpdateTypeAdditive:
		return "Additive"
	default:
		return "Invalid RoomUpdateType"
	}
}

func (t RoomUpdateType) Valid() bool {
	return t == RoomUpdateTypeChange || t == RoomUpdateTypeAdditive
}

type RoomOperation uint8

const (
	RoomOperationUnknown RoomOperation = 0
	RoomOperationCreate  RoomOperation = 1
	RoomOperationDestroy RoomOperation = 2
	RoomOperationUpdate  RoomOperation = 3
)

func (o RoomOperation) String() string {
	switch o {
	case RoomOperationUnknown:
		return "Unknown RoomOperation"
	case RoomOperationCreate:
		return "Create"
	case RoomOperationDestroy:
		return "Destroy"
	case RoomOperationUpdate:
		return "Update"
	default:
		return "Invalid RoomOperation"
	}
}

type PageSize uint8

const (
	PageSize5  PageSize = 5
	PageSize10 PageSize = 10
	PageSize25 PageSize = 25
	PageSize50 PageSize = 50
)

func (s PageSize) Valid() bool {
	switch s {
	case PageSize5, PageSize10, PageSize25, PageSize50:
		return true
	default:
		return false
	}
}
