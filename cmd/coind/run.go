package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ypatiosch/coind/internal/network"
	"github.com/ypatiosch/coind/internal/node"
)

func newRunCmd() *cobra.Command {
	var (
		allocFlag string
		duration  time.Duration
		targetLen uint64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an in-process network until it reaches a target chain length or times out",
		RunE: func(cmd *cobra.Command, args []string) error {
			allocs, err := parseAllocFlag(allocFlag)
			if err != nil {
				return err
			}

			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
			n, err := network.New(allocs, node.DefaultConfig(), logger, network.DefaultClock)
			if err != nil {
				return errors.Wrap(err, "build network")
			}

			ctx, cancel := context.WithTimeout(context.Background(), duration)
			defer cancel()
			n.Start(ctx)

			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					n.Stop()
					return printSummary(n, allocs)
				case <-ticker.C:
					if targetLen > 0 && n.LongestChain() >= targetLen {
						n.Stop()
						return printSummary(n, allocs)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&allocFlag, "alloc", "", "comma-separated name=amount[:miner] list")
	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "how long to let the network run")
	cmd.Flags().Uint64Var(&targetLen, "target-length", 0, "stop early once any miner reaches this chain length")
	_ = cmd.MarkFlagRequired("alloc")
	return cmd
}

func printSummary(n *network.Network, allocs []network.Alloc) error {
	fmt.Printf("longest observed chain: %d\n", n.LongestChain())
	for _, a := range allocs {
		fmt.Printf("  %-16s balance=%d\n", a.Name, n.Clients[a.Name].Balance())
	}
	return nil
}
