package server

import (
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Granola-Team/mina-indexer-sub000/core"
	"github.com/Granola-Team/mina-indexer-sub000/store"
)

// ------------------------------------------------------------
// Helpers
// ------------------------------------------------------------

func testServer(t *testing.T) (*Server, string) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := core.IndexerStateConfig{
		GenesisHash:              "genesis",
		GenesisPrevStateHash:     "pre-genesis",
		GenesisLedger:            core.NewLedger(),
		Store:                    db,
		TransitionFrontierLength: 230,
		PruneInterval:            10,
		CanonicalThreshold:       2,
		CanonicalUpdateThreshold: 2,
		LedgerCadence:            100,
		ReportingFreq:            1000,
	}
	state, err := core.NewIndexerState(cfg)
	if err != nil {
		t.Fatalf("new state: %v", err)
	}

	blk := &core.PrecomputedBlock{}
	raw := `{"v1":{"state_hash":"h2","previous_state_hash":"genesis","genesis_state_hash":"genesis","blockchain_length":2,"coinbase_receiver":"B62qProducer","coinbase_reward":720000000000,"internal_commands":[{"kind":"Coinbase","receiver":"B62qProducer","fee":720000000000}],"user_commands":[{"kind":"Payment","source":"alice","receiver":"bob","fee_payer":"alice","amount":5,"fee":1,"nonce":0,"status":"Applied","txn_hash":"CkpTx9"}]}}`
	if err := json.Unmarshal([]byte(raw), blk); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, err := state.BlockPipeline(blk, 100); err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	var mu sync.RWMutex
	socketPath := filepath.Join(t.TempDir(), "indexer.sock")
	srv := New(&mu, state, db, db, socketPath)
	go srv.Run()
	t.Cleanup(srv.Close)

	// wait for the listener
	for i := 0; i < 50; i++ {
		if conn, err := net.Dial("unix", socketPath); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return srv, socketPath
}

func request(t *testing.T, socketPath string, req Request) Response {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

// ------------------------------------------------------------
// One request, one response per connection
// ------------------------------------------------------------

func TestSummaryCommand(t *testing.T) {
	_, socketPath := testServer(t)
	resp := request(t, socketPath, Request{Command: "summary"})
	if resp.Error != "" {
		t.Fatalf("error: %s", resp.Error)
	}
	var summary core.SummaryShort
	if err := json.Unmarshal(resp.Result, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.WitnessTree.BestTipHash != "h2" {
		t.Fatalf("best tip %s, want h2", summary.WitnessTree.BestTipHash)
	}
}

func TestBlocksCommand(t *testing.T) {
	_, socketPath := testServer(t)

	resp := request(t, socketPath, Request{Command: "blocks", StateHash: "h2"})
	if resp.Error != "" {
		t.Fatalf("error: %s", resp.Error)
	}
	var blk core.PrecomputedBlock
	if err := json.Unmarshal(resp.Result, &blk); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if blk.BlockchainLength() != 2 {
		t.Fatalf("height %d, want 2", blk.BlockchainLength())
	}

	// a miss returns a textual error, never a silent empty
	resp = request(t, socketPath, Request{Command: "blocks", StateHash: "nope"})
	if resp.Error == "" {
		t.Fatalf("expected error for missing block")
	}
}

func TestTransactionsCommand(t *testing.T) {
	_, socketPath := testServer(t)
	resp := request(t, socketPath, Request{Command: "transactions", TxnHash: "CkpTx9"})
	if resp.Error != "" {
		t.Fatalf("error: %s", resp.Error)
	}
	var result struct {
		Command   core.UserCommandWithStatus `json:"command"`
		StateHash core.StateHash             `json:"state_hash"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.StateHash != "h2" || result.Command.Receiver != "bob" {
		t.Fatalf("wrong transaction: %+v", result)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, socketPath := testServer(t)
	resp := request(t, socketPath, Request{Command: "bogus"})
	if resp.Error == "" {
		t.Fatalf("expected error for unknown command")
	}
}

func TestShutdownCommand(t *testing.T) {
	srv, socketPath := testServer(t)
	request(t, socketPath, Request{Command: "shutdown"})
	select {
	case <-srv.Shutdown:
	case <-time.After(time.Second):
		t.Fatalf("shutdown channel not closed")
	}
}
