package core

import (
	"encoding/json"
	"reflect"
	"testing"
)

// ------------------------------------------------------------
// Helpers
// ------------------------------------------------------------

func fundedLedger(t *testing.T, balances map[PublicKey]Amount) *Ledger {
	t.Helper()
	l := NewLedger()
	for pk, amount := range balances {
		l.Accounts[AccountID{PublicKey: pk, Token: MinaTokenAddress}] = &Account{
			PublicKey: pk, Token: MinaTokenAddress, Balance: amount,
		}
	}
	return l
}

func paymentBlock(height uint32, hash, parent StateHash, source, receiver PublicKey, amount, fee Amount, nonce Nonce) *PrecomputedBlock {
	return &PrecomputedBlock{V1: &BlockV1{blockCommon: blockCommon{
		StateHash:         hash,
		PreviousStateHash: parent,
		GenesisStateHash:  "genesis",
		BlockchainLength:  height,
		CoinbaseReceiver:  "B62qProducer",
		CoinbaseReward:    720_000_000_000,
		InternalCommands:  []InternalCommand{{Kind: InternalCoinbase, Receiver: "B62qProducer", Fee: 720_000_000_000}},
		UserCommands: []UserCommandWithStatus{{
			Kind: CommandPayment, Source: source, Receiver: receiver, FeePayer: source,
			Amount: amount, Fee: fee, Nonce: nonce, Status: CommandApplied, TxnHash: "Ckp" + string(hash),
		}},
	}}}
}

// ------------------------------------------------------------
// Payment application
// ------------------------------------------------------------

func TestApplyPaymentDiff(t *testing.T) {
	l := fundedLedger(t, map[PublicKey]Amount{"alice": 10_000_000_000, "bob": 5_000_000_000})
	blk := paymentBlock(5, "h5", "h4", "alice", "bob", 2_000_000_000, 10_000_000, 0)
	diff := LedgerDiffFromPrecomputed(blk)

	if err := l.ApplyDiff(diff); err != nil {
		t.Fatalf("apply err: %v", err)
	}
	if got := l.Balance(AccountID{"alice", MinaTokenAddress}); got != 7_990_000_000 {
		t.Fatalf("alice balance %d, want 7990000000", got)
	}
	if got := l.Balance(AccountID{"bob", MinaTokenAddress}); got != 7_000_000_000 {
		t.Fatalf("bob balance %d, want 7000000000", got)
	}
	if got := l.NonceOf("alice"); got != 1 {
		t.Fatalf("alice nonce %d, want 1", got)
	}
}

func TestPaymentNonceMismatchFatal(t *testing.T) {
	l := fundedLedger(t, map[PublicKey]Amount{"alice": 10_000_000_000})
	l.Accounts[AccountID{"alice", MinaTokenAddress}].Nonce = 5

	blk := paymentBlock(5, "h5", "h4", "alice", "bob", 1, 0, 0) // expects nonce 0
	if err := l.ApplyDiff(LedgerDiffFromPrecomputed(blk)); err == nil {
		t.Fatalf("expected nonce mismatch error")
	}
}

func TestFailedCommandBumpsNonceOnly(t *testing.T) {
	l := fundedLedger(t, map[PublicKey]Amount{"alice": 10})
	blk := paymentBlock(5, "h5", "h4", "alice", "bob", 5, 0, 0)
	blk.V1.UserCommands[0].Status = CommandFailed

	if err := l.ApplyDiff(LedgerDiffFromPrecomputed(blk)); err != nil {
		t.Fatalf("apply err: %v", err)
	}
	if got := l.Balance(AccountID{"alice", MinaTokenAddress}); got != 10 {
		t.Fatalf("alice balance %d, want unchanged 10", got)
	}
	if got := l.NonceOf("alice"); got != 1 {
		t.Fatalf("alice nonce %d, want 1", got)
	}
	if _, ok := l.Accounts[AccountID{"bob", MinaTokenAddress}]; ok {
		t.Fatalf("bob must not be created by a failed command")
	}
}

func TestAccountCreationFee(t *testing.T) {
	l := fundedLedger(t, map[PublicKey]Amount{"alice": 10_000_000_000})
	blk := paymentBlock(5, "h5", "h4", "alice", "carol", 3_000_000_000, 0, 0)

	if err := l.ApplyDiff(LedgerDiffFromPrecomputed(blk)); err != nil {
		t.Fatalf("apply err: %v", err)
	}
	// carol's first credit pays the creation fee
	if got := l.Balance(AccountID{"carol", MinaTokenAddress}); got != 2_000_000_000 {
		t.Fatalf("carol balance %d, want 2000000000", got)
	}
}

func TestDelegationDiff(t *testing.T) {
	l := fundedLedger(t, map[PublicKey]Amount{"alice": 100})
	diff := &LedgerDiff{StateHash: "h5", Height: 5, AccountDiffs: [][]AccountDiff{
		{DelegationDiff{Delegator: "alice", Delegate: "pool", Nonce: 1}},
	}}
	if err := l.ApplyDiff(diff); err != nil {
		t.Fatalf("apply err: %v", err)
	}
	acct := l.Accounts[AccountID{"alice", MinaTokenAddress}]
	if acct.Delegate == nil || *acct.Delegate != "pool" {
		t.Fatalf("delegate not set")
	}
	if acct.Nonce != 1 {
		t.Fatalf("nonce %d, want 1", acct.Nonce)
	}
	if acct.Balance != 100 {
		t.Fatalf("delegation must not move balance")
	}
}

// ------------------------------------------------------------
// Apply / unapply round trip
// ------------------------------------------------------------

func TestApplyUnapplyRoundTrip(t *testing.T) {
	l := fundedLedger(t, map[PublicKey]Amount{
		"alice":        10_000_000_000,
		"bob":          5_000_000_000,
		"B62qProducer": 1_000_000_000,
	})
	before, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	blk := paymentBlock(5, "h5", "h4", "alice", "bob", 2_000_000_000, 10_000_000, 0)
	diff := LedgerDiffFromPrecomputed(blk)
	if err := l.ApplyDiff(diff); err != nil {
		t.Fatalf("apply err: %v", err)
	}
	if err := l.Unapply(diff); err != nil {
		t.Fatalf("unapply err: %v", err)
	}

	// nonces do not rewind, so compare balances only
	after := fundedLedger(t, nil)
	if err := after.UnmarshalJSON(mustMarshal(t, l)); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var orig Ledger
	if err := orig.UnmarshalJSON(before); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for id, acct := range orig.Accounts {
		if after.Balance(id) != acct.Balance {
			t.Fatalf("balance mismatch for %s: %d vs %d", id, after.Balance(id), acct.Balance)
		}
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// ------------------------------------------------------------
// Diff monoid: apply(a ++ b) == apply(a); apply(b)
// ------------------------------------------------------------

func TestDiffAppendAssociative(t *testing.T) {
	balances := map[PublicKey]Amount{"alice": 50_000_000_000, "bob": 50_000_000_000, "B62qProducer": 5_000_000_000}
	blkA := paymentBlock(5, "h5", "h4", "alice", "bob", 1_000_000_000, 0, 0)
	blkB := paymentBlock(6, "h6", "h5", "bob", "alice", 2_000_000_000, 0, 0)

	sequential := fundedLedger(t, balances)
	if err := sequential.ApplyDiff(LedgerDiffFromPrecomputed(blkA)); err != nil {
		t.Fatalf("apply a: %v", err)
	}
	if err := sequential.ApplyDiff(LedgerDiffFromPrecomputed(blkB)); err != nil {
		t.Fatalf("apply b: %v", err)
	}

	combined := fundedLedger(t, balances)
	diff := LedgerDiffFromPrecomputed(blkA)
	diff.Append(LedgerDiffFromPrecomputed(blkB))
	if err := combined.ApplyDiff(diff); err != nil {
		t.Fatalf("apply combined: %v", err)
	}

	for id := range sequential.Accounts {
		if sequential.Balance(id) != combined.Balance(id) {
			t.Fatalf("balance mismatch for %s", id)
		}
	}
}

// ------------------------------------------------------------
// Conservation: balances plus fees equal the pre-state plus rewards
// ------------------------------------------------------------

func TestSupplyConservation(t *testing.T) {
	l := fundedLedger(t, map[PublicKey]Amount{"alice": 10_000_000_000, "bob": 10_000_000_000, "B62qProducer": 0})
	initial := l.TotalBalance(MinaTokenAddress)

	blk := paymentBlock(1, "h1", "h0", "alice", "bob", 2_000_000_000, 10_000_000, 0)
	if err := l.ApplyDiff(LedgerDiffFromPrecomputed(blk)); err != nil {
		t.Fatalf("apply err: %v", err)
	}
	// only the coinbase reward enters the supply; height 1 exempts the
	// creation fee and fees move between accounts
	expected := initial + 720_000_000_000
	if got := l.TotalBalance(MinaTokenAddress); got != expected {
		t.Fatalf("total %d, want %d", got, expected)
	}
}

// ------------------------------------------------------------
// Serialization round trip
// ------------------------------------------------------------

func TestLedgerSerializationRoundTrip(t *testing.T) {
	l := fundedLedger(t, map[PublicKey]Amount{"alice": 42, "bob": 7})
	delegate := PublicKey("pool")
	l.Accounts[AccountID{"alice", MinaTokenAddress}].Delegate = &delegate
	l.Minted["xtoken"] = 11

	data := mustMarshal(t, l)
	restored := NewLedger()
	if err := restored.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(mustMarshal(t, l), mustMarshal(t, restored)) {
		t.Fatalf("round trip mismatch")
	}
	if restored.Hash() != l.Hash() {
		t.Fatalf("hash mismatch after round trip")
	}
}
