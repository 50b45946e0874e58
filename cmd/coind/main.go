// Command coind is the CLI driver for the in-process proof-of-stake-style
// node: spin up a small network, watch it converge on a longest chain,
// and inspect participant balances.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coind",
		Short: "A minimal proof-of-stake-style cryptocurrency node",
	}
	root.AddCommand(newGenesisCmd())
	root.AddCommand(newRunCmd())
	return root
}
