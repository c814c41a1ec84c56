package protocol

type MessageType uint16

const (
	MsgHaveFullSet MessageType = 0x0010
	MsgAnnounce    MessageType = 0x0011
	MsgNeedSet     MessageType = 0x0020
	MsgSetResponse MessageType = 0x0021
)

func (t MessageType) String() string {
	switch t {
	case MsgHaveFullSet:
		return "HAVE_FULL_SET"
	case MsgAnnounce:
		return "ANNOUNCE"
	case MsgNeedSet:
		return "NEED_SET"
	case MsgSetResponse:
		return "SET_RESPONSE"
	default:
		return "UNKNOWN"
	}
}
