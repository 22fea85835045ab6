//go:build !linux
// +build !linux

package tcprelay

import (
	"net"
	"time"
)

// This file dials for operating systems next to Linux. The Linux variant
// additionally sets socket options for faster detection of connection loss.

func dial(address string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   time.Second,
		KeepAlive: 5 * time.Second,
	}
	return dialer.Dial("tcp", address)
}
