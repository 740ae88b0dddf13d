//go:build unix

// File: internal/transport/sockaddr.go
// Author: momentics <momentics@gmail.com>
//
// Compact binary form of a peer address, copied into connection arenas.
// Layout: family(1) | port(2, big endian) | address bytes | zone(4, v6 only).

package transport

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evcore/api"
)

const (
	tagInet4 byte = 4
	tagInet6 byte = 6
	tagUnix  byte = 1
)

// EncodedLen returns the size of the encoded form of sa.
func EncodedLen(sa unix.Sockaddr) int {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return 3 + 4
	case *unix.SockaddrInet6:
		return 3 + 16 + 4
	case *unix.SockaddrUnix:
		return 1 + len(a.Name)
	}
	return 0
}

// EncodeSockaddr writes sa into dst, which must hold EncodedLen(sa) bytes.
func EncodeSockaddr(dst []byte, sa unix.Sockaddr) (int, error) {
	n := EncodedLen(sa)
	if n == 0 || len(dst) < n {
		return 0, api.ErrInvalidArgument
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		dst[0] = tagInet4
		binary.BigEndian.PutUint16(dst[1:], uint16(a.Port))
		copy(dst[3:], a.Addr[:])
	case *unix.SockaddrInet6:
		dst[0] = tagInet6
		binary.BigEndian.PutUint16(dst[1:], uint16(a.Port))
		copy(dst[3:], a.Addr[:])
		binary.BigEndian.PutUint32(dst[19:], a.ZoneId)
	case *unix.SockaddrUnix:
		dst[0] = tagUnix
		copy(dst[1:], a.Name)
	}
	return n, nil
}

// DecodeSockaddr parses the encoded form back into a sockaddr.
func DecodeSockaddr(b []byte) (unix.Sockaddr, error) {
	if len(b) == 0 {
		return nil, api.ErrInvalidArgument
	}
	switch b[0] {
	case tagInet4:
		if len(b) < 7 {
			return nil, api.ErrInvalidArgument
		}
		sa := &unix.SockaddrInet4{Port: int(binary.BigEndian.Uint16(b[1:]))}
		copy(sa.Addr[:], b[3:7])
		return sa, nil
	case tagInet6:
		if len(b) < 23 {
			return nil, api.ErrInvalidArgument
		}
		sa := &unix.SockaddrInet6{Port: int(binary.BigEndian.Uint16(b[1:]))}
		copy(sa.Addr[:], b[3:19])
		sa.ZoneId = binary.BigEndian.Uint32(b[19:])
		return sa, nil
	case tagUnix:
		return &unix.SockaddrUnix{Name: string(b[1:])}, nil
	}
	return nil, api.ErrInvalidArgument
}
