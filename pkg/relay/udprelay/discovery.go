package udprelay

import (
	"bytes"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/cboring"
	"github.com/schollz/peerdiscovery"

	"github.com/robjsp/meshcast/pkg/meshid"
)

// multicastAddress4 is the LAN multicast group meshcast nodes announce
// themselves on, distinct from dtn7-go's own discovery group so the two
// protocols never cross-talk on a shared network.
const multicastAddress4 = "224.23.24.24"

// discoveryPort is the UDP port peerdiscovery itself uses for its beacon
// exchange; unrelated to the port a Socket listens for mesh traffic on,
// which is carried inside the Announcement payload instead.
const discoveryPort = 35139

// Discovered reports a peer learned via LAN multicast: its identity and its
// mesh Socket address, left for the caller to feed into topology.Graph.
// The announcement carries no link weight.
type Discovered struct {
	NodeId meshid.NodeId
	Addr   *net.UDPAddr
}

// Discoverer periodically announces this node's Announcement and reports
// every peer it hears from through OnDiscover, adapted from dtn7-go's
// discovery.Manager but carrying a meshcast Announcement instead of a
// bpv7 EndpointID/CLA pair.
type Discoverer struct {
	self       meshid.NodeId
	onDiscover func(Discovered)

	stopChan chan struct{}
}

// NewDiscoverer starts announcing self at the given Socket port every
// interval, and reports discovered peers to onDiscover as they arrive.
func NewDiscoverer(self meshid.NodeId, socketPort int, interval time.Duration, onDiscover func(Discovered)) (*Discoverer, error) {
	d := &Discoverer{
		self:       self,
		onDiscover: onDiscover,
		stopChan:   make(chan struct{}),
	}

	ann := Announcement{NodeId: self, Port: uint16(socketPort)}
	buf := new(bytes.Buffer)
	if err := cboring.Marshal(&ann, buf); err != nil {
		return nil, fmt.Errorf("udprelay: marshalling announcement: %w", err)
	}

	settings := peerdiscovery.Settings{
		Limit:            -1,
		Port:             fmt.Sprintf("%d", discoveryPort),
		MulticastAddress: multicastAddress4,
		Payload:          buf.Bytes(),
		Delay:            interval,
		TimeLimit:        -1,
		StopChan:         d.stopChan,
		AllowSelf:        false,
		IPVersion:        peerdiscovery.IPv4,
		Notify:           d.notify,
	}

	discoverErr := make(chan error, 1)
	go func() { discoverErr <- func() error { _, err := peerdiscovery.Discover(settings); return err }() }()

	select {
	case err := <-discoverErr:
		if err != nil {
			return nil, err
		}
	case <-time.After(time.Second):
	}

	return d, nil
}

func (d *Discoverer) notify(discovered peerdiscovery.Discovered) {
	var ann Announcement
	if err := cboring.Unmarshal(&ann, bytes.NewReader(discovered.Payload)); err != nil {
		log.WithFields(log.Fields{"peer": discovered.Address, "error": err}).Warn("udprelay: malformed announcement")
		return
	}

	if ann.NodeId == d.self {
		return
	}

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", discovered.Address, ann.Port))
	if err != nil {
		log.WithFields(log.Fields{"peer": discovered.Address, "error": err}).Warn("udprelay: unresolvable announced address")
		return
	}

	log.WithFields(log.Fields{"peer": ann.NodeId, "addr": addr}).Debug("udprelay: discovered peer")
	d.onDiscover(Discovered{NodeId: ann.NodeId, Addr: addr})
}

// Close stops announcing and listening for peers.
func (d *Discoverer) Close() {
	close(d.stopChan)
}
