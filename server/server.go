// Package server exposes the indexer's query surface: a local stream
// socket carrying one JSON request and one response per connection, and a
// small read-only HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Granola-Team/mina-indexer-sub000/core"
)

// Checkpointer produces copy-on-write snapshots of the store directory.
type Checkpointer interface {
	Checkpoint(dir string) (string, error)
}

// Request is the wire form of one client command.
type Request struct {
	Command string `json:"command"`

	StateHash  string `json:"state_hash,omitempty"`
	Height     uint32 `json:"height,omitempty"`
	PublicKey  string `json:"public_key,omitempty"`
	TxnHash    string `json:"txn_hash,omitempty"`
	LedgerHash string `json:"ledger_hash,omitempty"`
	Epoch      uint32 `json:"epoch,omitempty"`
	MinHeight  uint32 `json:"min_height,omitempty"`
	MaxHeight  uint32 `json:"max_height,omitempty"`
	Path       string `json:"path,omitempty"`
	Verbose    bool   `json:"verbose,omitempty"`
}

// Response carries either a result or an error string, never both.
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Server answers client commands against the composite indexer state. The
// state is shared with the single writer through mu.
type Server struct {
	mu         *sync.RWMutex
	state      *core.IndexerState
	store      core.IndexerStore
	checkpoint Checkpointer
	socketPath string

	// Shutdown is closed when a client requests shutdown.
	Shutdown chan struct{}
	once     sync.Once

	listener net.Listener
}

// New creates a command server over the shared state.
func New(mu *sync.RWMutex, state *core.IndexerState, store core.IndexerStore, cp Checkpointer, socketPath string) *Server {
	logrus.Info("Creating domain socket server")
	return &Server{
		mu:         mu,
		state:      state,
		store:      store,
		checkpoint: cp,
		socketPath: socketPath,
		Shutdown:   make(chan struct{}),
	}
}

// Run accepts connections until the listener closes. A stale socket file
// from an unclean shutdown is removed first.
func (s *Server) Run() error {
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		if removeErr := os.Remove(s.socketPath); removeErr == nil {
			listener, err = net.Listen("unix", s.socketPath)
		}
		if err != nil {
			return fmt.Errorf("bind domain socket %s: %w", s.socketPath, err)
		}
	}
	s.listener = listener
	logrus.Infof("Domain socket server running on %s", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logrus.Errorf("Unable to accept domain socket connection: %v", err)
			continue
		}
		go func() {
			if err := s.handleConn(conn); err != nil {
				logrus.Errorf("Unable to process domain socket request: %v", err)
			}
		}()
	}
}

// Close stops accepting and removes the socket file.
func (s *Server) Close() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	_ = os.Remove(s.socketPath)
}

func (s *Server) handleConn(conn net.Conn) error {
	defer conn.Close()

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("decode request: %w", err)
	}

	resp := s.dispatch(req)
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}

func (s *Server) dispatch(req Request) Response {
	logrus.Debugf("Received %s command", req.Command)

	if req.Command == "shutdown" {
		s.once.Do(func() { close(s.Shutdown) })
		return okResponse("shutting down")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	switch req.Command {
	case "summary":
		if req.Verbose {
			return okResponse(s.state.SummaryVerbose())
		}
		return okResponse(s.state.SummaryShort())

	case "accounts":
		return s.handleAccounts(req)
	case "blocks":
		return s.handleBlocks(req)
	case "chain":
		return s.handleChain(req)
	case "checkpoints":
		return s.handleCheckpoints(req)
	case "ledgers":
		return s.handleLedgers(req)
	case "staking-ledgers":
		return s.handleStakingLedgers(req)
	case "snarks":
		return s.handleSnarks(req)
	case "transactions":
		return s.handleTransactions(req)
	case "internal-commands":
		return s.handleInternalCommands(req)
	default:
		return errResponse(fmt.Errorf("unknown command %q", req.Command))
	}
}

func okResponse(v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return errResponse(err)
	}
	return Response{Result: data}
}

func errResponse(err error) Response {
	return Response{Error: err.Error()}
}

func (s *Server) handleAccounts(req Request) Response {
	if req.PublicKey == "" {
		return errResponse(fmt.Errorf("missing public_key"))
	}
	pk := core.PublicKey(req.PublicKey)
	var accounts []*core.Account
	for id, acct := range s.state.Ledger.Accounts {
		if id.PublicKey == pk {
			accounts = append(accounts, acct)
		}
	}
	if len(accounts) == 0 {
		return errResponse(fmt.Errorf("account %s not found", pk))
	}
	return okResponse(accounts)
}

func (s *Server) handleBlocks(req Request) Response {
	switch {
	case req.StateHash != "":
		pcb, _, err := s.store.GetBlock(core.StateHash(req.StateHash))
		if err != nil {
			return errResponse(fmt.Errorf("block %s not found", req.StateHash))
		}
		return okResponse(pcb)
	case req.Height > 0:
		hashes, err := s.store.BlocksAtHeight(req.Height)
		if err != nil || len(hashes) == 0 {
			return errResponse(fmt.Errorf("no blocks at height %d", req.Height))
		}
		var blocks []*core.PrecomputedBlock
		for _, h := range hashes {
			if pcb, _, err := s.store.GetBlock(h); err == nil {
				blocks = append(blocks, pcb)
			}
		}
		return okResponse(blocks)
	default:
		return okResponse(s.state.BestTipBlock())
	}
}

func (s *Server) handleChain(req Request) Response {
	chain := s.state.BestChain()
	if req.MaxHeight > 0 || req.MinHeight > 0 {
		var filtered []core.Block
		for _, b := range chain {
			if req.MinHeight > 0 && b.Height < req.MinHeight {
				continue
			}
			if req.MaxHeight > 0 && b.Height > req.MaxHeight {
				continue
			}
			filtered = append(filtered, b)
		}
		chain = filtered
	}
	return okResponse(chain)
}

func (s *Server) handleCheckpoints(req Request) Response {
	if s.checkpoint == nil {
		return errResponse(fmt.Errorf("checkpoints unavailable"))
	}
	if req.Path == "" {
		return errResponse(fmt.Errorf("missing path"))
	}
	name, err := s.checkpoint.Checkpoint(req.Path)
	if err != nil {
		return errResponse(err)
	}
	return okResponse(name)
}

func (s *Server) handleLedgers(req Request) Response {
	switch {
	case req.StateHash != "":
		ledger, err := s.store.GetLedger(core.StateHash(req.StateHash))
		if err != nil {
			return errResponse(fmt.Errorf("ledger at %s not found", req.StateHash))
		}
		return okResponse(ledger)
	case req.Height > 0:
		ledger, err := s.state.ReconstructLedgerAtHeight(req.Height)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(ledger)
	default:
		return okResponse(s.state.Ledger)
	}
}

func (s *Server) handleStakingLedgers(req Request) Response {
	var (
		ledger *core.StakingLedger
		err    error
	)
	switch {
	case req.LedgerHash != "":
		ledger, err = s.store.GetStakingLedger(core.LedgerHash(req.LedgerHash))
	default:
		genesis := core.StateHash(req.StateHash)
		if genesis == "" {
			genesis = core.MainnetGenesisHash
		}
		ledger, err = s.store.GetStakingLedgerAtEpoch(genesis, req.Epoch)
	}
	if err != nil {
		return errResponse(fmt.Errorf("staking ledger not found"))
	}
	if req.Verbose {
		return okResponse(ledger)
	}
	return okResponse(ledger.AggregateDelegations())
}

func (s *Server) handleSnarks(req Request) Response {
	if req.PublicKey != "" {
		snarks, err := s.store.GetSnarksForPK(core.PublicKey(req.PublicKey))
		if err != nil {
			return errResponse(err)
		}
		return okResponse(snarks)
	}
	if req.StateHash != "" {
		pcb, _, err := s.store.GetBlock(core.StateHash(req.StateHash))
		if err != nil {
			return errResponse(fmt.Errorf("block %s not found", req.StateHash))
		}
		return okResponse(pcb.SnarkWorks())
	}
	return errResponse(fmt.Errorf("missing public_key or state_hash"))
}

func (s *Server) handleTransactions(req Request) Response {
	switch {
	case req.TxnHash != "":
		cmd, stateHash, err := s.store.GetCommand(req.TxnHash)
		if err != nil {
			return errResponse(fmt.Errorf("transaction %s not found", req.TxnHash))
		}
		return okResponse(struct {
			Command   *core.UserCommandWithStatus `json:"command"`
			StateHash core.StateHash              `json:"state_hash"`
		}{cmd, stateHash})
	case req.PublicKey != "":
		hashes, err := s.store.GetCommandsForPK(core.PublicKey(req.PublicKey), req.MinHeight, req.MaxHeight)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(hashes)
	case req.StateHash != "":
		pcb, _, err := s.store.GetBlock(core.StateHash(req.StateHash))
		if err != nil {
			return errResponse(fmt.Errorf("block %s not found", req.StateHash))
		}
		return okResponse(pcb.UserCommands())
	default:
		return errResponse(fmt.Errorf("missing txn_hash, public_key, or state_hash"))
	}
}

func (s *Server) handleInternalCommands(req Request) Response {
	if req.StateHash == "" {
		return errResponse(fmt.Errorf("missing state_hash"))
	}
	pcb, _, err := s.store.GetBlock(core.StateHash(req.StateHash))
	if err != nil {
		return errResponse(fmt.Errorf("block %s not found", req.StateHash))
	}
	return okResponse(pcb.InternalCommands())
}
