// mina-indexer – client CLI for the indexer daemon
// -----------------------------------------------------------------------------
// Each sub-command opens one connection to the daemon's domain socket, writes
// one JSON request, reads one JSON response, and prints the result. If the
// daemon socket is unreachable the process exits with code 111.
// -----------------------------------------------------------------------------
// Environment
//   MINA_INDEXER_SOCKET – daemon socket path (default "/tmp/mina-indexer.sock")
// -----------------------------------------------------------------------------

package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/Granola-Team/mina-indexer-sub000/pkg/utils"
	"github.com/Granola-Team/mina-indexer-sub000/server"
)

// exitCodeNoDaemon signals that the daemon socket could not be reached.
const exitCodeNoDaemon = 111

func main() {
	rootCmd := &cobra.Command{Use: "mina-indexer"}
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(accountsCmd())
	rootCmd.AddCommand(blocksCmd())
	rootCmd.AddCommand(chainCmd())
	rootCmd.AddCommand(checkpointsCmd())
	rootCmd.AddCommand(ledgersCmd())
	rootCmd.AddCommand(stakingLedgersCmd())
	rootCmd.AddCommand(snarksCmd())
	rootCmd.AddCommand(transactionsCmd())
	rootCmd.AddCommand(internalCommandsCmd())
	rootCmd.AddCommand(shutdownCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func socketPath() string {
	return utils.EnvOrDefault("MINA_INDEXER_SOCKET", "/tmp/mina-indexer.sock")
}

// roundTrip sends one request and prints the response.
func roundTrip(req server.Request) error {
	conn, err := net.Dial("unix", socketPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot connect to indexer daemon at %s: %v\n", socketPath(), err)
		os.Exit(exitCodeNoDaemon)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return err
	}
	var resp server.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	if len(resp.Result) == 0 {
		return nil
	}
	var pretty any
	if err := json.Unmarshal(resp.Result, &pretty); err != nil {
		fmt.Println(string(resp.Result))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "indexer status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			return roundTrip(server.Request{Command: "summary", Verbose: verbose})
		},
	}
	cmd.Flags().Bool("verbose", false, "include diff map and staking detail")
	return cmd
}

func accountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts [public-key]",
		Short: "look up ledger accounts by public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return roundTrip(server.Request{Command: "accounts", PublicKey: args[0]})
		},
	}
}

func blocksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocks",
		Short: "look up blocks by state hash or height",
		RunE: func(cmd *cobra.Command, args []string) error {
			stateHash, _ := cmd.Flags().GetString("state-hash")
			height, _ := cmd.Flags().GetUint32("height")
			return roundTrip(server.Request{Command: "blocks", StateHash: stateHash, Height: height})
		},
	}
	cmd.Flags().String("state-hash", "", "block state hash")
	cmd.Flags().Uint32("height", 0, "blockchain length")
	return cmd
}

func chainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "walk the best chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			min, _ := cmd.Flags().GetUint32("min-height")
			max, _ := cmd.Flags().GetUint32("max-height")
			return roundTrip(server.Request{Command: "chain", MinHeight: min, MaxHeight: max})
		},
	}
	cmd.Flags().Uint32("min-height", 0, "lowest height to include")
	cmd.Flags().Uint32("max-height", 0, "highest height to include")
	return cmd
}

func checkpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints [dir]",
		Short: "write a store checkpoint into dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return roundTrip(server.Request{Command: "checkpoints", Path: args[0]})
		},
	}
}

func ledgersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledgers",
		Short: "look up a ledger at a state hash or height",
		RunE: func(cmd *cobra.Command, args []string) error {
			stateHash, _ := cmd.Flags().GetString("state-hash")
			height, _ := cmd.Flags().GetUint32("height")
			return roundTrip(server.Request{Command: "ledgers", StateHash: stateHash, Height: height})
		},
	}
	cmd.Flags().String("state-hash", "", "ledger snapshot state hash")
	cmd.Flags().Uint32("height", 0, "reconstruct the ledger at this height")
	return cmd
}

func stakingLedgersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staking-ledgers",
		Short: "look up staking ledgers and aggregate delegations",
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, _ := cmd.Flags().GetString("hash")
			epoch, _ := cmd.Flags().GetUint32("epoch")
			verbose, _ := cmd.Flags().GetBool("verbose")
			return roundTrip(server.Request{Command: "staking-ledgers", LedgerHash: hash, Epoch: epoch, Verbose: verbose})
		},
	}
	cmd.Flags().String("hash", "", "staking ledger hash")
	cmd.Flags().Uint32("epoch", 0, "staking epoch")
	cmd.Flags().Bool("verbose", false, "full ledger instead of delegation totals")
	return cmd
}

func snarksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snarks",
		Short: "look up SNARK work by prover or block",
		RunE: func(cmd *cobra.Command, args []string) error {
			pk, _ := cmd.Flags().GetString("public-key")
			stateHash, _ := cmd.Flags().GetString("state-hash")
			return roundTrip(server.Request{Command: "snarks", PublicKey: pk, StateHash: stateHash})
		},
	}
	cmd.Flags().String("public-key", "", "prover public key")
	cmd.Flags().String("state-hash", "", "block state hash")
	return cmd
}

func transactionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "look up transactions by hash, public key, or block",
		RunE: func(cmd *cobra.Command, args []string) error {
			txnHash, _ := cmd.Flags().GetString("hash")
			pk, _ := cmd.Flags().GetString("public-key")
			stateHash, _ := cmd.Flags().GetString("state-hash")
			min, _ := cmd.Flags().GetUint32("min-height")
			max, _ := cmd.Flags().GetUint32("max-height")
			return roundTrip(server.Request{
				Command: "transactions", TxnHash: txnHash, PublicKey: pk,
				StateHash: stateHash, MinHeight: min, MaxHeight: max,
			})
		},
	}
	cmd.Flags().String("hash", "", "transaction hash")
	cmd.Flags().String("public-key", "", "participant public key")
	cmd.Flags().String("state-hash", "", "containing block state hash")
	cmd.Flags().Uint32("min-height", 0, "lowest height to include")
	cmd.Flags().Uint32("max-height", 0, "highest height to include")
	return cmd
}

func internalCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "internal-commands [state-hash]",
		Short: "list a block's internal commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return roundTrip(server.Request{Command: "internal-commands", StateHash: args[0]})
		},
	}
}

func shutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "ask the daemon to shut down cleanly",
		RunE: func(cmd *cobra.Command, args []string) error {
			return roundTrip(server.Request{Command: "shutdown"})
		},
	}
}
