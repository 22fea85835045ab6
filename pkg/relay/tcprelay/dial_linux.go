//go:build linux
// +build linux

package tcprelay

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Linux-specific socket options for faster detection of an abrupt
// connection loss, following the tcp(7) manual page. Mobile mesh nodes can
// move out of range at any time; the defaults wait far longer than this
// relay can tolerate before declaring a peer gone.

func dialControl(_, _ string, rawConn syscall.RawConn) (err error) {
	const (
		keepCnt     = 1
		keepIdle    = 5
		keepIntvl   = 3
		userTimeout = 2000
	)

	opts := map[int]int{
		unix.TCP_KEEPCNT:      keepCnt,
		unix.TCP_KEEPIDLE:     keepIdle,
		unix.TCP_KEEPINTVL:    keepIntvl,
		unix.TCP_USER_TIMEOUT: userTimeout,
	}

	err = rawConn.Control(func(fd uintptr) {
		for opt, value := range opts {
			if err = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, opt, value); err != nil {
				return
			}
		}
	})
	return
}

func dial(address string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout: time.Second,
		Control: dialControl,
	}
	return dialer.Dial("tcp", address)
}
