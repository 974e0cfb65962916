package main

import (
	"fmt"
	"net"

	"github.com/crdtsync/crdtsync/transport"
)

// openChannel builds the transport.Channel for cfg, binding listenAddr
// locally and addressing peerAddr. udp and unix use datagram sockets;
// tcp dials out and falls back to listening if the dial fails, a crude
// stand-in for real peer discovery that is fine for a two-process demo.
func openChannel(cfg Config) (transport.Channel, error) {
	switch cfg.Transport {
	case TransportUDP:
		conn, err := net.ListenPacket("udp", cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("syncpeerd: listen udp %s: %w", cfg.ListenAddr, err)
		}
		peer, err := net.ResolveUDPAddr("udp", cfg.PeerAddr)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("syncpeerd: resolve peer %s: %w", cfg.PeerAddr, err)
		}
		return transport.NewPacketChannel(conn, peer), nil

	case TransportUnix:
		addr, err := net.ResolveUnixAddr("unixgram", cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("syncpeerd: resolve unix %s: %w", cfg.ListenAddr, err)
		}
		conn, err := net.ListenUnixgram("unixgram", addr)
		if err != nil {
			return nil, fmt.Errorf("syncpeerd: listen unixgram %s: %w", cfg.ListenAddr, err)
		}
		peer, err := net.ResolveUnixAddr("unixgram", cfg.PeerAddr)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("syncpeerd: resolve peer %s: %w", cfg.PeerAddr, err)
		}
		return transport.NewPacketChannel(conn, peer), nil

	case TransportTCP:
		conn, err := net.Dial("tcp", cfg.PeerAddr)
		if err == nil {
			return transport.NewStreamChannel(conn), nil
		}
		ln, lerr := net.Listen("tcp", cfg.ListenAddr)
		if lerr != nil {
			return nil, fmt.Errorf("syncpeerd: dial %s failed (%v) and listen %s failed: %w", cfg.PeerAddr, err, cfg.ListenAddr, lerr)
		}
		defer ln.Close()
		accepted, aerr := ln.Accept()
		if aerr != nil {
			return nil, fmt.Errorf("syncpeerd: accept on %s: %w", cfg.ListenAddr, aerr)
		}
		return transport.NewStreamChannel(accepted), nil

	default:
		return nil, fmt.Errorf("syncpeerd: unknown transport %q", cfg.Transport)
	}
}
