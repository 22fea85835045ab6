package tcprelay

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"

	"github.com/robjsp/meshcast/pkg/meshid"
)

// handshake exchanges raw NodeId byte strings over conn so an accepted
// connection — which arrives with no addressing information beyond the
// socket itself — learns which mesh participant is on the other end. Both
// sides write before reading to avoid a head-of-line deadlock between two
// peers that dialed each other simultaneously.
func handshake(conn io.ReadWriter, self meshid.NodeId) (meshid.NodeId, error) {
	writeErr := make(chan error, 1)
	go func() { writeErr <- cboring.WriteByteString(self.Bytes(), conn) }()

	peerBytes, readErr := cboring.ReadByteString(conn)
	if err := <-writeErr; err != nil {
		return meshid.Nil, fmt.Errorf("handshake: writing self id: %w", err)
	}
	if readErr != nil {
		return meshid.Nil, fmt.Errorf("handshake: reading peer id: %w", readErr)
	}

	peer, err := meshid.NodeIdFromBytes(peerBytes)
	if err != nil {
		return meshid.Nil, fmt.Errorf("handshake: malformed peer id: %w", err)
	}
	return peer, nil
}
