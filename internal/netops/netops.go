// Package netops applies the kernel-wide side effects the concentrator
// needs: IPv4 forwarding and the NAT masquerade rule on the uplink.
package netops

import (
	"fmt"

	"github.com/xi1314/linux-vpn-2017-autumn/internal/model"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/shellx"
)

// Config describes the masquerade rule: traffic sourced from the
// virtual network leaves through the physical uplink interface.
type Config struct {
	// VirtualNet is the virtual network in address/prefix form.
	VirtualNet string

	// PhysInterface is the uplink interface name.
	PhysInterface string
}

// Setup enables IPv4 forwarding and installs the masquerade rule. A
// best-effort delete runs first so a rule leaked by a previous run is
// not duplicated.
func Setup(runner shellx.Runner, logger model.Logger, config Config) error {
	if err := shellx.RunShell(runner, "echo 1 > /proc/sys/net/ipv4/ip_forward"); err != nil {
		return fmt.Errorf("netops: enable ip_forward: %w", err)
	}
	_ = runner.Run("iptables", natRule("-D", config)...)
	if err := runner.Run("iptables", natRule("-A", config)...); err != nil {
		return fmt.Errorf("netops: install masquerade rule: %w", err)
	}
	logger.Infof("netops: masquerading %s onto %s", config.VirtualNet, config.PhysInterface)
	return nil
}

// Teardown removes the masquerade rule and disables IPv4 forwarding.
// Both operations are best-effort: shutdown must proceed regardless.
func Teardown(runner shellx.Runner, logger model.Logger, config Config) {
	if err := runner.Run("iptables", natRule("-D", config)...); err != nil {
		logger.Warnf("netops: remove masquerade rule: %s", err.Error())
	}
	if err := shellx.RunShell(runner, "echo 0 > /proc/sys/net/ipv4/ip_forward"); err != nil {
		logger.Warnf("netops: disable ip_forward: %s", err.Error())
	}
}

func natRule(action string, config Config) []string {
	return []string{
		"-t", "nat", action, "POSTROUTING",
		"-s", config.VirtualNet,
		"-o", config.PhysInterface,
		"-j", "MASQUERADE",
	}
}
