// Package udprelay implements a best-effort mesh.Relay over UDP datagrams,
// plus peer discovery via schollz/peerdiscovery, adapted from dtn7-go's
// pkg/discovery package (UDP multicast announcements) and its pkg/cla
// convention of one relay per directly-reachable peer. Unlike the TCP
// relay, a UDP datagram carries no connection state, so every message's own
// Source field (already part of wire.Part) stands in for the handshake
// tcprelay needs.
package udprelay

import (
	"bytes"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/cboring"

	"github.com/robjsp/meshcast/pkg/wire"
)

const maxDatagramSize = 8192

// Event mirrors tcprelay.Event's shape for the one thing a UDP socket
// observes: a decoded inbound frame from some address. There is no
// per-connection release bookkeeping to report, since a send either
// succeeds as one syscall or is dropped outright — see Relay.InsertMessage.
type Event struct {
	From     *net.UDPAddr
	Part     *wire.Part
	AckEntry *wire.AckEntry
}

// Socket owns one UDP listening port shared by every Relay that sends
// through it. Relays built on the same Socket are distinguished only by the
// destination address passed to send; the Socket itself knows nothing
// about targets or retention.
type Socket struct {
	conn   *net.UDPConn
	events chan<- Event

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewSocket opens a UDP socket on address (e.g. ":4242") and starts
// dispatching decoded inbound frames to events.
func NewSocket(address string, events chan<- Event) (*Socket, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	s := &Socket{
		conn:    conn,
		events:  events,
		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}
	go s.readLoop()

	return s, nil
}

// LocalPort reports the UDP port this socket is bound to, for announcing
// it over peer discovery.
func (s *Socket) LocalPort() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// LocalAddr returns the address this socket is bound to.
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

func (s *Socket) readLoop() {
	defer close(s.stopAck)

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		select {
		case <-s.stopSyn:
			return
		default:
		}
		if err != nil {
			log.WithError(err).Debug("udprelay: read failed")
			continue
		}

		var env wire.Envelope
		if err := cboring.Unmarshal(&env, bytes.NewReader(buf[:n])); err != nil {
			log.WithFields(log.Fields{"from": from, "error": err}).Debug("udprelay: malformed datagram dropped")
			continue
		}

		ev := Event{From: from}
		switch env.Kind {
		case wire.PartFrame:
			ev.Part = env.Part
		case wire.AckFrame:
			ev.AckEntry = env.Ack
		default:
			continue
		}

		select {
		case s.events <- ev:
		case <-s.stopSyn:
			return
		}
	}
}

func (s *Socket) send(addr *net.UDPAddr, env *wire.Envelope) error {
	buf := new(bytes.Buffer)
	if err := cboring.Marshal(env, buf); err != nil {
		return err
	}
	_, err := s.conn.WriteToUDP(buf.Bytes(), addr)
	return err
}

// Close stops the read loop and releases the socket.
func (s *Socket) Close() error {
	close(s.stopSyn)
	err := s.conn.Close()
	<-s.stopAck
	return err
}
