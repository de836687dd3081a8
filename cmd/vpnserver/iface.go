package main

import (
	"fmt"
	"net"

	"github.com/apex/log"
	"github.com/jackpal/gateway"

	"github.com/xi1314/linux-vpn-2017-autumn/internal/model"
)

// resolvePhysInterface maps the special uplink name "auto" to the
// interface carrying the default route. Any other name is used as-is.
func resolvePhysInterface(name string) string {
	if name != "auto" {
		return name
	}
	ip, err := gateway.DiscoverInterface()
	if err != nil {
		log.WithError(err).Warnf("cannot discover uplink, falling back to %s", model.DefaultPhysInterface)
		return model.DefaultPhysInterface
	}
	iface, err := getInterfaceByIP(ip.String())
	if err != nil {
		log.WithError(err).Warnf("cannot resolve uplink, falling back to %s", model.DefaultPhysInterface)
		return model.DefaultPhysInterface
	}
	return iface.Name
}

func getInterfaceByIP(ipAddr string) (*net.Interface, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range interfaces {
		addrs, err := iface.Addrs()
		if err != nil {
			return nil, err
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
				if ipNet.IP.String() == ipAddr {
					return &iface, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("interface with IP %s not found", ipAddr)
}
