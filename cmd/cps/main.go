// Command cps brings up one Gatekeeper control-plane side-channel
// instance: a front-network and back-network interface, their ACL
// classification pipelines, the CPI kernel shims, and the single
// cooperative worker that drives everything.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// version is set via -ldflags "-X main.version=..." at release build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "cps",
		Short:   "Gatekeeper control-plane side-channel dataplane",
		Version: version,
	}

	var verbose bool
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	}

	root.AddCommand(newRunCmd(), newStatusCmd())
	return root
}
