package model

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    *Options
		wantErr error
	}{{
		name: "defaults",
		args: []string{"8000"},
		want: &Options{
			Port:          8000,
			MTU:           1400,
			VirtualNet:    "10.0.0.0",
			NetworkMask:   "8",
			DNS:           "8.8.8.8",
			RouteIP:       "0.0.0.0",
			RouteMask:     "0",
			PhysInterface: "eth0",
		},
	}, {
		name: "every flag",
		args: []string{"8000", "-m", "1380", "-a", "172.16.0.0", "12",
			"-d", "1.1.1.1", "-r", "192.168.0.0", "16", "-i", "wlan0",
			"-crt", "srv.crt", "-key", "srv.key", "-ca", "ca.crt"},
		want: &Options{
			Port:          8000,
			MTU:           1380,
			VirtualNet:    "172.16.0.0",
			NetworkMask:   "12",
			DNS:           "1.1.1.1",
			RouteIP:       "192.168.0.0",
			RouteMask:     "16",
			PhysInterface: "wlan0",
			CertPath:      "srv.crt",
			KeyPath:       "srv.key",
			CAPath:        "ca.crt",
		},
	}, {
		name: "unknown tokens are ignored",
		args: []string{"8000", "bogus", "-m", "1300"},
		want: &Options{
			Port:          8000,
			MTU:           1300,
			VirtualNet:    "10.0.0.0",
			NetworkMask:   "8",
			DNS:           "8.8.8.8",
			RouteIP:       "0.0.0.0",
			RouteMask:     "0",
			PhysInterface: "eth0",
		},
	}, {
		name:    "missing port",
		args:    nil,
		wantErr: ErrBadOptions,
	}, {
		name:    "port zero",
		args:    []string{"0"},
		wantErr: ErrBadOptions,
	}, {
		name:    "port too large",
		args:    []string{"65536"},
		wantErr: ErrBadOptions,
	}, {
		name:    "port not numeric",
		args:    []string{"http"},
		wantErr: ErrBadOptions,
	}, {
		name:    "flag at end without value",
		args:    []string{"8000", "-m"},
		wantErr: ErrBadOptions,
	}, {
		name:    "two-token flag with one token",
		args:    []string{"8000", "-a", "10.0.0.0"},
		wantErr: ErrBadOptions,
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOptions(tt.args)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestVirtualCIDR(t *testing.T) {
	opts, err := ParseOptions([]string{"8000"})
	if err != nil {
		t.Fatal(err)
	}
	if opts.VirtualCIDR() != "10.0.0.0/8" {
		t.Fatalf("VirtualCIDR() = %s", opts.VirtualCIDR())
	}
}
