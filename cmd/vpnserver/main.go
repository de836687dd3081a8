// Command vpnserver terminates DTLS tunnels, assigns each peer a
// private address, and bridges cleartext IP traffic between the peers
// and kernel TUN devices, masquerading it onto the physical uplink.
//
// Usage:
//
//	vpnserver <port> [-m mtu] [-a netip mask] [-d dnsip]
//	          [-r routeip routemask] [-i phys_iface]
//	          [-crt certfile] [-key keyfile] [-ca cafile]
package main

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/pion/dtls/v2/pkg/crypto/selfsign"

	"github.com/xi1314/linux-vpn-2017-autumn/internal/addrpool"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/listener"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/model"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/netops"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/shellx"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/supervisor"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/tunregistry"
)

// poolSizeHint matches the handful of tunnels a fresh server usually
// carries; the pool grows past it on demand.
const poolSizeHint = 6

func main() {
	log.SetLevel(log.DebugLevel)
	log.SetHandler(cli.New(os.Stderr))

	opts, err := model.ParseOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "usage: %s <port> [-m mtu] [-a netip mask] [-d dnsip]"+
			" [-r routeip routemask] [-i phys_iface] [-crt certfile] [-key keyfile] [-ca cafile]\n",
			os.Args[0])
		log.WithError(err).Error("cannot parse arguments")
		os.Exit(1)
	}
	os.Exit(run(opts))
}

func run(opts *model.Options) int {
	cidr, err := addrpool.ParseCIDR(opts.VirtualCIDR())
	if err != nil {
		log.WithError(err).Error("invalid virtual network")
		return 1
	}
	if _, err := strconv.Atoi(opts.RouteMask); err != nil {
		log.WithError(err).Error("invalid route mask")
		return 1
	}
	opts.PhysInterface = resolvePhysInterface(opts.PhysInterface)

	cert, err := loadCertificate(opts)
	if err != nil {
		log.WithError(err).Error("cannot load DTLS identity")
		return 1
	}
	clientCAs, err := loadClientCAs(opts.CAPath)
	if err != nil {
		log.WithError(err).Error("cannot load client CA")
		return 1
	}

	runner := shellx.NewRunner(log.Log)
	natConfig := netops.Config{
		VirtualNet:    opts.VirtualCIDR(),
		PhysInterface: opts.PhysInterface,
	}
	if err := netops.Setup(runner, log.Log, natConfig); err != nil {
		log.WithError(err).Error("cannot configure forwarding and NAT")
		return 1
	}
	defer netops.Teardown(runner, log.Log, natConfig)

	pool := addrpool.New(cidr, poolSizeHint, log.Log)
	registry := tunregistry.New(runner, log.Log)
	dtlsListener := listener.New(cert, clientCAs, log.Log)

	super := supervisor.New(opts, pool, registry, dtlsListener, log.Log)
	super.Start()
	defer super.Shutdown()

	log.Infof("serving DTLS tunnels on UDP port %d, virtual network %s", opts.Port, opts.VirtualCIDR())

	exitRequested := consoleExit()
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-super.Fatal():
		log.WithError(err).Error("cannot serve any client")
		return 1
	case <-exitRequested:
		log.Info("closing the VPN server")
	case sig := <-signals:
		log.Infof("received %s, closing the VPN server", sig)
	}
	return 0
}

// consoleExit returns a channel closed when the operator types
// "exitvpn" on the console.
func consoleExit() <-chan struct{} {
	ch := make(chan struct{})
	fmt.Println("\033[4;32mType 'exitvpn' in terminal to close VPN Server\033[0m")
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if scanner.Text() == "exitvpn" {
				close(ch)
				return
			}
		}
	}()
	return ch
}

// loadCertificate loads the configured PEM identity, or generates a
// self-signed one when none was configured.
func loadCertificate(opts *model.Options) (tls.Certificate, error) {
	if opts.CertPath != "" && opts.KeyPath != "" {
		return tls.LoadX509KeyPair(opts.CertPath, opts.KeyPath)
	}
	log.Warn("no certificate configured, generating a self-signed one")
	return selfsign.GenerateSelfSigned()
}

// loadClientCAs reads the client CA bundle when one was configured.
func loadClientCAs(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, nil
	}
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
