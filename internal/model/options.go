package model

//
// Parse server options.
//
// The command line keeps the legacy grammar: the port is positional and
// every flag consumes a fixed number of following tokens:
//
//	<port> [-m mtu] [-a netip mask] [-d dnsip] [-r routeip routemask]
//	       [-i phys_iface] [-crt certfile] [-key keyfile] [-ca cafile]
//
// Unknown tokens are ignored, matching the tolerant behavior clients
// have come to rely on.
//

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrBadOptions is the generic error returned for invalid command lines.
var ErrBadOptions = errors.New("options: invalid command line")

// Default values applied when the corresponding flag is absent.
const (
	DefaultMTU           = 1400
	DefaultVirtualNet    = "10.0.0.0"
	DefaultNetworkMask   = "8"
	DefaultDNS           = "8.8.8.8"
	DefaultRouteIP       = "0.0.0.0"
	DefaultRouteMask     = "0"
	DefaultPhysInterface = "eth0"
)

// Options carries all the relevant server configuration, parsed once at
// startup and read-only afterwards.
type Options struct {
	// Port is the UDP service port, 1..65535.
	Port int

	// MTU is the tunnel MTU pushed to peers.
	MTU int

	// VirtualNet and NetworkMask describe the virtual network the
	// address pool allocates from, e.g. 10.0.0.0 and 8.
	VirtualNet  string
	NetworkMask string

	// DNS is the DNS server address pushed to peers.
	DNS string

	// RouteIP and RouteMask form the single route pushed to peers.
	RouteIP   string
	RouteMask string

	// PhysInterface is the uplink interface NAT masquerades onto.
	PhysInterface string

	// CertPath, KeyPath and CAPath point to PEM files for the DTLS
	// identity. When CertPath or KeyPath is empty the server falls
	// back to a self-signed certificate. When CAPath is empty client
	// certificates are not requested.
	CertPath string
	KeyPath  string
	CAPath   string
}

// VirtualCIDR returns the virtual network in address/prefix form.
func (o *Options) VirtualCIDR() string {
	return o.VirtualNet + "/" + o.NetworkMask
}

// ParseOptions parses the given argument vector, which must not include
// the program name.
func ParseOptions(args []string) (*Options, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("%w: missing port", ErrBadOptions)
	}
	port, err := strconv.Atoi(args[0])
	if err != nil || port < 1 || port > 0xffff {
		return nil, fmt.Errorf("%w: invalid port %q", ErrBadOptions, args[0])
	}
	opts := &Options{
		Port:          port,
		MTU:           DefaultMTU,
		VirtualNet:    DefaultVirtualNet,
		NetworkMask:   DefaultNetworkMask,
		DNS:           DefaultDNS,
		RouteIP:       DefaultRouteIP,
		RouteMask:     DefaultRouteMask,
		PhysInterface: DefaultPhysInterface,
	}
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "-m":
			val, ok := take(args, &i, 1)
			if !ok {
				return nil, fmt.Errorf("%w: -m needs a value", ErrBadOptions)
			}
			mtu, err := strconv.Atoi(val[0])
			if err != nil || mtu <= 0 {
				return nil, fmt.Errorf("%w: invalid mtu %q", ErrBadOptions, val[0])
			}
			opts.MTU = mtu
		case "-a":
			val, ok := take(args, &i, 2)
			if !ok {
				return nil, fmt.Errorf("%w: -a needs an address and a mask", ErrBadOptions)
			}
			opts.VirtualNet, opts.NetworkMask = val[0], val[1]
		case "-d":
			val, ok := take(args, &i, 1)
			if !ok {
				return nil, fmt.Errorf("%w: -d needs a value", ErrBadOptions)
			}
			opts.DNS = val[0]
		case "-r":
			val, ok := take(args, &i, 2)
			if !ok {
				return nil, fmt.Errorf("%w: -r needs an address and a mask", ErrBadOptions)
			}
			opts.RouteIP, opts.RouteMask = val[0], val[1]
		case "-i":
			val, ok := take(args, &i, 1)
			if !ok {
				return nil, fmt.Errorf("%w: -i needs a value", ErrBadOptions)
			}
			opts.PhysInterface = val[0]
		case "-crt":
			val, ok := take(args, &i, 1)
			if !ok {
				return nil, fmt.Errorf("%w: -crt needs a value", ErrBadOptions)
			}
			opts.CertPath = val[0]
		case "-key":
			val, ok := take(args, &i, 1)
			if !ok {
				return nil, fmt.Errorf("%w: -key needs a value", ErrBadOptions)
			}
			opts.KeyPath = val[0]
		case "-ca":
			val, ok := take(args, &i, 1)
			if !ok {
				return nil, fmt.Errorf("%w: -ca needs a value", ErrBadOptions)
			}
			opts.CAPath = val[0]
		}
	}
	return opts, nil
}

// take consumes n tokens following args[*i], advancing the cursor.
func take(args []string, i *int, n int) ([]string, bool) {
	if *i+n >= len(args) {
		return nil, false
	}
	out := args[*i+1 : *i+1+n]
	*i += n
	return out, true
}
