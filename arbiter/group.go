package arbiter

type Group uint8

const (
	GroupInvalid          Group = 0
	GroupPendingAuthSweep Group = 1
)

func (g Group) String() string {
	switch g {
	case GroupInvalid:
		return "Invalid Group"
	case GroupPendingAuthSweep:
		return "Pending Auth Sweep"
	default:
		return "Unknown Group"
	}
}
