package main

import "github.com/robjsp/meshcast/pkg/meshid"

// Status is a snapshot of the engine's state, safe to serialize and hand to
// an HTTP or WebSocket client without touching mesh.Core from outside its
// owning goroutine.
type Status struct {
	Self       meshid.NodeId   `json:"self"`
	TcpPeers   []meshid.NodeId `json:"tcp_peers"`
	UdpPeers   []meshid.NodeId `json:"udp_peers"`
	GraphNodes []meshid.NodeId `json:"graph_nodes"`
}

type statusRequest struct {
	reply chan Status
}

// Status blocks until the engine's run loop replies with a consistent
// snapshot, the same request/reply pattern Core itself avoids internally
// but which is the right tool for a goroutine outside the engine to use.
func (e *Engine) Status() Status {
	req := statusRequest{reply: make(chan Status, 1)}
	e.statusReq <- req
	return <-req.reply
}

func (e *Engine) buildStatus() Status {
	s := Status{Self: e.self}
	for id := range e.tcpRelays {
		s.TcpPeers = append(s.TcpPeers, id)
	}
	for id := range e.udpRelays {
		s.UdpPeers = append(s.UdpPeers, id)
	}
	s.GraphNodes = e.graph.Nodes()
	return s
}
