// Package flowkey implements the lookup-map key used to steer the
// in-kernel stream verdict, and the byte-order asymmetry the kernel
// program expects between a segment's remote and local endpoint.
package flowkey

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Key mirrors the kernel program's struct idx_map_key: a packed 8-byte
// (addr, port) pair. Field order and width must stay byte-for-byte
// identical to the probe's C struct.
type Key struct {
	Addr uint32
	Port uint32
}

func (k Key) String() string {
	ip := make(net.IP, 4)
	binary.LittleEndian.PutUint32(ip, k.Addr)
	return fmt.Sprintf("%s:%d", ip, k.Port)
}

// Remote builds the key variant matched against a segment's remote
// endpoint: the port is stored in network byte order, as the kernel
// exposes remote_port in skb metadata.
func Remote(ip net.IP, port uint16) (Key, error) {
	addr, err := addrBE(ip)
	if err != nil {
		return Key{}, err
	}
	return Key{Addr: addr, Port: htons(port)}, nil
}

// Local builds the key variant matched against a segment's local
// endpoint: the port is stored in host byte order, as the kernel
// exposes local_port in skb metadata.
func Local(ip net.IP, port uint16) (Key, error) {
	addr, err := addrBE(ip)
	if err != nil {
		return Key{}, err
	}
	return Key{Addr: addr, Port: uint32(port)}, nil
}

// addrBE returns the address as a uint32 whose native-endian in-memory
// representation equals the address's network-byte-order bytes. cilium/ebpf
// marshals Key in the host's native byte order (little-endian on amd64/arm64),
// while the kernel program's key.addr is populated straight from packet
// bytes (network order) — so on those platforms this is an htonl, exactly
// mirroring the htons applied to the port below.
func addrBE(ip net.IP) (uint32, error) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("flowkey: %s is not an IPv4 address", ip)
	}
	return binary.LittleEndian.Uint32(v4), nil
}

// htons returns the big-endian representation of port zero-extended
// into a uint32, matching the kernel's remote_port field layout.
func htons(port uint16) uint32 {
	return uint32(port>>8) | uint32(port&0xff)<<8
}
