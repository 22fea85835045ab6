package mesh

import "github.com/robjsp/meshcast/pkg/meshid"

type insertedMsg struct {
	id  meshid.MessageId
	msg *OutMessage
}

// mockRelay is a test double standing in for a real link-layer carrier: it
// records every AddTarget/InsertMessage call instead of touching a socket.
type mockRelay struct {
	id       meshid.NodeId
	adopted  map[meshid.NodeId]struct{}
	inserted []insertedMsg
	sending  bool
}

func newMockRelay(id meshid.NodeId) *mockRelay {
	return &mockRelay{id: id, adopted: make(map[meshid.NodeId]struct{})}
}

func (r *mockRelay) AddTarget(target meshid.NodeId) bool {
	if _, ok := r.adopted[target]; ok {
		return false
	}
	r.adopted[target] = struct{}{}
	return true
}

func (r *mockRelay) InsertMessage(id meshid.MessageId, msg *OutMessage) {
	r.inserted = append(r.inserted, insertedMsg{id: id, msg: msg})
}

func (r *mockRelay) IsSending() bool { return r.sending }

func (r *mockRelay) RelayId() meshid.NodeId { return r.id }

func (r *mockRelay) ClearTargets() { r.adopted = make(map[meshid.NodeId]struct{}) }
