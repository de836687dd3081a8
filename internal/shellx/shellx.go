// Package shellx runs the external networking commands the server uses
// to provision kernel state.
package shellx

import (
	"os"
	"os/exec"
	"strings"

	"github.com/xi1314/linux-vpn-2017-autumn/internal/model"
)

// Runner executes external commands. Production code uses [NewRunner];
// tests substitute a recording fake.
type Runner interface {
	// Run executes the given command and waits for it to finish.
	Run(name string, args ...string) error
}

// NewRunner creates a [Runner] that executes commands on the host,
// wiring their output to the process streams.
func NewRunner(logger model.Logger) Runner {
	return &execRunner{logger: logger}
}

type execRunner struct {
	logger model.Logger
}

var _ Runner = &execRunner{}

// Run implements Runner.
func (r *execRunner) Run(name string, args ...string) error {
	r.logger.Debugf("shellx: %s %s", name, strings.Join(args, " "))
	cmd := exec.Command(name, args...)
	cmd.Stderr = os.Stderr
	cmd.Stdout = os.Stdout
	return cmd.Run()
}

// RunShell executes a full shell command line through sh, for the few
// operations that need redirection.
func RunShell(r Runner, cmdline string) error {
	return r.Run("sh", "-c", cmdline)
}
