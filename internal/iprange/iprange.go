// Package iprange converts pool range descriptors into concrete address
// lists. A descriptor is either a dash range ("10.0.0.10-10.0.0.50") or a
// CIDR block ("10.0.0.0/24"). All computation is pure; the caller supplies
// the set of in-use addresses.
package iprange

import (
	"fmt"
	"net/netip"
	"strings"
)

// Options controls the conventional reserved-address exclusions applied to
// CIDR descriptors. Dash ranges are taken literally: the operator already
// chose the exact boundaries.
type Options struct {
	// ReserveGateway excludes the first host (the ".1" convention).
	ReserveGateway bool
	// ReserveEdge excludes the ".254" host kept free next to the broadcast.
	ReserveEdge bool
}

// DefaultOptions matches the ISP convention of keeping .1 and .254 free
// inside every CIDR pool.
var DefaultOptions = Options{ReserveGateway: true, ReserveEdge: true}

// InvalidRangeError reports a malformed or inverted range descriptor.
type InvalidRangeError struct {
	Descriptor string
	Reason     string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("iprange: invalid descriptor %q: %s", e.Descriptor, e.Reason)
}

// Validate checks that descriptor is a well-formed dash range or CIDR.
// Dash ranges must be IPv4 dotted quads with start strictly below end.
func Validate(descriptor string) error {
	_, err := Enumerate(descriptor, Options{})
	return err
}

// Enumerate returns every address the descriptor covers, ascending, after
// applying the reserved-address exclusions from opts. For CIDR descriptors
// the network and broadcast addresses are never included.
func Enumerate(descriptor string, opts Options) ([]netip.Addr, error) {
	descriptor = strings.TrimSpace(descriptor)
	if descriptor == "" {
		return nil, &InvalidRangeError{Descriptor: descriptor, Reason: "empty"}
	}
	if strings.Contains(descriptor, "/") {
		return enumerateCIDR(descriptor, opts)
	}
	if strings.Contains(descriptor, "-") {
		return enumerateDash(descriptor)
	}
	return nil, &InvalidRangeError{Descriptor: descriptor, Reason: "neither dash range nor CIDR"}
}

// Count returns how many addresses the descriptor covers under opts.
func Count(descriptor string, opts Options) (int, error) {
	addrs, err := Enumerate(descriptor, opts)
	if err != nil {
		return 0, err
	}
	return len(addrs), nil
}

// Resolve returns the ascending list of addresses in the descriptor that do
// not appear in used. Order is numeric by octet value, never lexicographic.
func Resolve(descriptor string, used map[netip.Addr]struct{}, opts Options) ([]netip.Addr, error) {
	all, err := Enumerate(descriptor, opts)
	if err != nil {
		return nil, err
	}
	free := make([]netip.Addr, 0, len(all))
	for _, a := range all {
		if _, taken := used[a]; taken {
			continue
		}
		free = append(free, a)
	}
	return free, nil
}

func enumerateDash(descriptor string) ([]netip.Addr, error) {
	startStr, endStr, ok := strings.Cut(descriptor, "-")
	if !ok {
		return nil, &InvalidRangeError{Descriptor: descriptor, Reason: "missing dash"}
	}
	start, err := parseQuad(strings.TrimSpace(startStr))
	if err != nil {
		return nil, &InvalidRangeError{Descriptor: descriptor, Reason: "bad start: " + err.Error()}
	}
	end, err := parseQuad(strings.TrimSpace(endStr))
	if err != nil {
		return nil, &InvalidRangeError{Descriptor: descriptor, Reason: "bad end: " + err.Error()}
	}
	if start.Compare(end) >= 0 {
		return nil, &InvalidRangeError{Descriptor: descriptor, Reason: "start must be below end"}
	}

	var addrs []netip.Addr
	for a := start; a.Compare(end) <= 0; a = a.Next() {
		addrs = append(addrs, a)
	}
	return addrs, nil
}

func enumerateCIDR(descriptor string, opts Options) ([]netip.Addr, error) {
	prefix, err := netip.ParsePrefix(descriptor)
	if err != nil {
		return nil, &InvalidRangeError{Descriptor: descriptor, Reason: err.Error()}
	}
	if !prefix.Addr().Is4() {
		return nil, &InvalidRangeError{Descriptor: descriptor, Reason: "only IPv4 pools supported"}
	}
	if prefix.Bits() > 30 {
		return nil, &InvalidRangeError{Descriptor: descriptor, Reason: "prefix too small to hold hosts"}
	}

	network := prefix.Masked().Addr()
	broadcast := lastAddr(prefix)

	var addrs []netip.Addr
	for a := network.Next(); a.Compare(broadcast) < 0; a = a.Next() {
		lastOctet := a.As4()[3]
		if opts.ReserveGateway && lastOctet == 1 {
			continue
		}
		if opts.ReserveEdge && lastOctet == 254 {
			continue
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

// lastAddr returns the highest address in the prefix (the broadcast address
// for IPv4 networks).
func lastAddr(prefix netip.Prefix) netip.Addr {
	a4 := prefix.Masked().Addr().As4()
	hostBits := 32 - prefix.Bits()
	v := uint32(a4[0])<<24 | uint32(a4[1])<<16 | uint32(a4[2])<<8 | uint32(a4[3])
	v |= (1 << hostBits) - 1
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// parseQuad parses a strict IPv4 dotted quad.
func parseQuad(s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, err
	}
	if !a.Is4() {
		return netip.Addr{}, fmt.Errorf("%s is not IPv4", s)
	}
	return a, nil
}
