package tcprelay

import (
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/robjsp/meshcast/pkg/meshid"
)

// Listener accepts inbound connections and, after each completes the
// identity handshake, hands the caller a new TCPRelay through Accepted.
type Listener struct {
	ln       *net.TCPListener
	self     meshid.NodeId
	events   chan<- Event
	Accepted chan *TCPRelay

	stopSyn chan struct{}
	stopAck chan struct{}
}

// Listen starts accepting connections on address.
func Listen(address string, self meshid.NodeId, events chan<- Event) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, err
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		ln:       ln,
		self:     self,
		events:   events,
		Accepted: make(chan *TCPRelay),
		stopSyn:  make(chan struct{}),
		stopAck:  make(chan struct{}),
	}
	go l.acceptLoop()

	return l, nil
}

func (l *Listener) acceptLoop() {
	defer func() {
		_ = l.ln.Close()
		close(l.Accepted)
		close(l.stopAck)
	}()

	for {
		select {
		case <-l.stopSyn:
			return
		default:
		}

		if err := l.ln.SetDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
			log.WithError(err).Warn("tcprelay: failed to set listener deadline")
			return
		}

		conn, err := l.ln.Accept()
		if err != nil {
			continue
		}

		go l.handleAccept(conn)
	}
}

func (l *Listener) handleAccept(conn net.Conn) {
	if err := setKeepAlive(conn); err != nil {
		log.WithError(err).Warn("tcprelay: failed to set keepalive on accepted connection")
		_ = conn.Close()
		return
	}

	peer, err := handshake(conn, l.self)
	if err != nil {
		log.WithError(err).Warn("tcprelay: handshake with accepted connection failed")
		_ = conn.Close()
		return
	}

	r := newRelay(conn, peer, false, l.events)

	select {
	case l.Accepted <- r:
	case <-l.stopSyn:
		_ = r.Close()
	}
}

// Close stops accepting new connections. Relays already handed out through
// Accepted are unaffected and must be closed individually.
func (l *Listener) Close() error {
	close(l.stopSyn)
	<-l.stopAck
	return nil
}
