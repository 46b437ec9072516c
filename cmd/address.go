// Package main provides the tagdeck CLI.
// This file centralizes address selection for commands that talk to a
// running daemon and for pairing displays that need a LAN-reachable
// address.
package main

import (
	"fmt"
	"io"
	"net"
)

const defaultPort = 41114

// validatePort rejects ports outside the valid TCP range.
func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", port)
	}
	return nil
}

// resolveAddrCandidates returns the daemon addresses a local command
// should try, in order. An explicit --addr wins outright; otherwise
// loopback is tried first, then Tailscale and LAN addresses.
func resolveAddrCandidates(addr string, port int, explicitPort bool, stderr io.Writer) []string {
	if addr != "" {
		if explicitPort {
			fmt.Fprintf(stderr, "Warning: --addr overrides --port; using %s\n", addr)
		}
		return []string{addr}
	}

	return defaultAddrCandidates(port)
}

func defaultAddrCandidates(port int) []string {
	portStr := fmt.Sprintf("%d", port)
	addrs := []string{"127.0.0.1:" + portStr}
	if ip := GetTailscaleIP(); ip != "" {
		addrs = append(addrs, ip+":"+portStr)
	}
	if ip := GetPreferredOutboundIP(); ip != "" {
		addrs = append(addrs, ip+":"+portStr)
	}
	return addrs
}

// GetPreferredOutboundIP returns the machine's preferred outbound IPv4 address.
// It works by dialing a UDP connection to a public IP (no actual traffic sent)
// and checking which local address was selected by the OS routing table.
// Returns empty string if detection fails.
func GetPreferredOutboundIP() string {
	// Dial UDP to a public IP. No actual packets are sent for UDP;
	// this just lets us query which local interface the OS would use.
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

// tailscaleNet is the CGNAT range used by Tailscale (100.64.0.0/10).
var tailscaleNet = &net.IPNet{
	IP:   net.IPv4(100, 64, 0, 0),
	Mask: net.CIDRMask(10, 32),
}

// GetTailscaleIP scans network interfaces for a Tailscale IP address.
// Tailscale uses the 100.64.0.0/10 CGNAT range for its addresses.
// Returns empty string if no Tailscale IP is found.
func GetTailscaleIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	for _, iface := range ifaces {
		// Skip loopback and down interfaces
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}

			// Check if this is an IPv4 address in the Tailscale range
			ip := ipNet.IP.To4()
			if ip != nil && tailscaleNet.Contains(ip) {
				return ip.String()
			}
		}
	}

	return ""
}
