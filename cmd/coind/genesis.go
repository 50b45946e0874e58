package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ypatiosch/coind/internal/network"
	"github.com/ypatiosch/coind/internal/node"
)

func newGenesisCmd() *cobra.Command {
	var allocFlag string

	cmd := &cobra.Command{
		Use:   "genesis",
		Short: "Build a genesis block and print the allocation table",
		RunE: func(cmd *cobra.Command, args []string) error {
			allocs, err := parseAllocFlag(allocFlag)
			if err != nil {
				return err
			}
			logger := zerolog.Nop()
			n, err := network.New(allocs, node.DefaultConfig(), logger, network.DefaultClock)
			if err != nil {
				return errors.Wrap(err, "build genesis network")
			}

			fmt.Printf("genesis hash: %x\n", n.Genesis.HashVal())
			for _, a := range allocs {
				fmt.Printf("  %-16s %d\n", a.Name, n.Clients[a.Name].Balance())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&allocFlag, "alloc", "", "comma-separated name=amount[:miner] list, e.g. alice=150,bob=90:miner")
	_ = cmd.MarkFlagRequired("alloc")
	return cmd
}

// parseAllocFlag parses "alice=150,bob=90:miner" into Allocs. A trailing
// ":miner" marks the participant as a mining node.
func parseAllocFlag(flag string) ([]network.Alloc, error) {
	var allocs []network.Alloc
	for _, entry := range strings.Split(flag, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		nameAmount := strings.SplitN(entry, "=", 2)
		if len(nameAmount) != 2 {
			return nil, errors.Errorf("invalid alloc entry %q, expected name=amount", entry)
		}
		name := nameAmount[0]
		amountPart := nameAmount[1]
		isMiner := false
		if idx := strings.Index(amountPart, ":"); idx != -1 {
			if amountPart[idx+1:] == "miner" {
				isMiner = true
			}
			amountPart = amountPart[:idx]
		}
		amount, err := strconv.ParseUint(amountPart, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid amount in alloc entry %q", entry)
		}
		allocs = append(allocs, network.Alloc{Name: name, Amount: amount, Miner: isMiner})
	}
	if len(allocs) == 0 {
		return nil, errors.New("--alloc must name at least one participant")
	}
	return allocs, nil
}
