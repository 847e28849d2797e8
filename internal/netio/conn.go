// Package netio binds one UDP multicast socket per interface and moves
// encoded LIE packets across it, decoupled from the LIE FSM the way
// this codebase keeps its packet conn abstraction decoupled from the
// session it serves.
//
// spec.md §6 makes LIEs a multicast affair by default (rx_lie_mcast_address)
// and its packet sourcing rule ("acceptance of a LIE does not require a
// matched multicast group or port — a LIE is accepted from any source
// address/port bound to the interface") means a socket only needs to join
// the configured group and accept whatever arrives on it.
package netio

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
)

// PacketMeta carries transport metadata alongside a received datagram.
type PacketMeta struct {
	SrcAddr netip.Addr
	IfName  string
}

// Socket abstracts the multicast UDP conn an interface's Listener and
// Transport share. A single Socket is read by a Listener and written to
// by a Transport for the same interface, mirroring how one physical
// multicast group serves both directions of a LIE adjacency.
type Socket interface {
	ReadFrom(buf []byte) (n int, meta PacketMeta, err error)
	WriteTo(buf []byte, dst netip.AddrPort) (n int, err error)
	LocalAddr() netip.AddrPort
	Close() error
}

// ErrUnexpectedConnType indicates net.ListenUDP produced something other
// than a *net.UDPConn, which should not happen on any supported platform.
var ErrUnexpectedConnType = errors.New("netio: unexpected connection type from ListenUDP")

// multicastSocket is the default Socket: a UDP conn bound to an
// interface's rx_lie_port, joined to its configured multicast group via
// golang.org/x/net/ipv4 so received datagrams need no raw-socket or
// GTSM handling — RIFT has no TTL security requirement on LIEs.
type multicastSocket struct {
	udp     *net.UDPConn
	pc      *ipv4.PacketConn
	iface   *net.Interface
	ifName  string
	groupV4 netip.Addr
}

// NewMulticastSocket opens a UDP socket bound to port on all local
// addresses and joins the given IPv4 multicast group on the named
// interface (empty ifaceName lets the system pick the interface, used by
// tests on loopback).
func NewMulticastSocket(ifaceName string, group netip.Addr, port uint16) (*multicastSocket, error) {
	if !group.Is4() {
		return nil, fmt.Errorf("netio: multicast group %s must be IPv4", group)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, fmt.Errorf("netio: listen udp4 :%d: %w", port, err)
	}
	udp := conn

	pc := ipv4.NewPacketConn(udp)

	var iface *net.Interface
	if ifaceName != "" {
		iface, err = net.InterfaceByName(ifaceName)
		if err != nil {
			_ = udp.Close()
			return nil, fmt.Errorf("netio: interface %q: %w", ifaceName, err)
		}
	}

	groupAddr := &net.UDPAddr{IP: net.IP(group.AsSlice())}
	if err := pc.JoinGroup(iface, groupAddr); err != nil {
		_ = udp.Close()
		return nil, fmt.Errorf("netio: join group %s on %q: %w", group, ifaceName, err)
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		_ = udp.Close()
		return nil, fmt.Errorf("netio: set multicast loopback: %w", err)
	}

	return &multicastSocket{udp: udp, pc: pc, iface: iface, ifName: ifaceName, groupV4: group}, nil
}

func (s *multicastSocket) ReadFrom(buf []byte) (int, PacketMeta, error) {
	n, src, err := s.udp.ReadFromUDPAddrPort(buf)
	if err != nil {
		return 0, PacketMeta{}, err
	}
	return n, PacketMeta{SrcAddr: src.Addr(), IfName: s.ifName}, nil
}

func (s *multicastSocket) WriteTo(buf []byte, dst netip.AddrPort) (int, error) {
	return s.udp.WriteToUDPAddrPort(buf, dst)
}

func (s *multicastSocket) LocalAddr() netip.AddrPort {
	addr, _ := s.udp.LocalAddr().(*net.UDPAddr)
	if addr == nil {
		return netip.AddrPort{}
	}
	return addr.AddrPort()
}

func (s *multicastSocket) Close() error {
	if err := s.pc.LeaveGroup(s.iface, &net.UDPAddr{IP: net.IP(s.groupV4.AsSlice())}); err != nil {
		_ = s.udp.Close()
		return fmt.Errorf("netio: leave group: %w", err)
	}
	return s.udp.Close()
}
