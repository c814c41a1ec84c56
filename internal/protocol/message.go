package protocol

type Message interface {
	Type() MessageType
}

// HaveFullSet carries a full snapshot of the sender's known keys. Sent
// on channel open and on manual refresh; receivers merge, never re-flood.
type HaveFullSet struct {
	Keys []ContentKey
}

func (HaveFullSet) Type() MessageType { return MsgHaveFullSet }

// Announce broadcasts a single newly sighted key. First-sight receivers
// relay it to every peer except the sender.
type Announce struct {
	Key ContentKey
}

func (Announce) Type() MessageType { return MsgAnnounce }

// NeedSet is the legacy pull request. Accepted for compatibility with
// older peers and answered with a SetResponse; never emitted.
type NeedSet struct{}

func (NeedSet) Type() MessageType { return MsgNeedSet }

// SetResponse is the legacy full-set reply, merged like HaveFullSet.
type SetResponse struct {
	Keys []ContentKey
}

func (SetResponse) Type() MessageType { return MsgSetResponse }
