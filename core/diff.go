package core

import (
	"sort"
)

// UpdateType distinguishes the two sides of a payment-like diff. A debit
// from a user command carries the expected post-increment nonce; internal
// command debits carry none.
type UpdateType struct {
	Debit bool   `json:"debit"`
	Nonce *Nonce `json:"nonce,omitempty"`
}

// Credit is the credit update type.
func Credit() UpdateType { return UpdateType{} }

// Debit is a debit update type without a nonce (internal commands).
func Debit() UpdateType { return UpdateType{Debit: true} }

// DebitNonce is a debit update type carrying the post-increment nonce of a
// user command.
func DebitNonce(n Nonce) UpdateType {
	return UpdateType{Debit: true, Nonce: &n}
}

// AccountDiff is one algebraic account mutation derived from a block.
type AccountDiff interface {
	// DiffPublicKey is the account the diff applies to.
	DiffPublicKey() PublicKey
	// DiffToken is the token ledger the diff applies to.
	DiffToken() TokenAddress
	// BalanceDelta is the signed balance effect in the smallest unit.
	BalanceDelta() int64
	// Unapply returns the inverse diff.
	Unapply() AccountDiff
}

// PaymentDiff is a single credit or debit against an account.
type PaymentDiff struct {
	Update    UpdateType   `json:"update_type"`
	PublicKey PublicKey    `json:"public_key"`
	Amount    Amount       `json:"amount"`
	Token     TokenAddress `json:"token"`
}

func (d PaymentDiff) DiffPublicKey() PublicKey  { return d.PublicKey }
func (d PaymentDiff) DiffToken() TokenAddress   { return d.Token }
func (d PaymentDiff) BalanceDelta() int64 {
	if d.Update.Debit {
		return -int64(d.Amount)
	}
	return int64(d.Amount)
}

// Unapply swaps the debit/credit direction; the nonce is dropped since a
// reversed payment is not a user command.
func (d PaymentDiff) Unapply() AccountDiff {
	if d.Update.Debit {
		d.Update = Credit()
	} else {
		d.Update = Debit()
	}
	return d
}

// DelegationDiff sets the delegate of the delegator account.
type DelegationDiff struct {
	Nonce     Nonce     `json:"nonce"`
	Delegator PublicKey `json:"delegator"`
	Delegate  PublicKey `json:"delegate"`
}

func (d DelegationDiff) DiffPublicKey() PublicKey { return d.Delegator }
func (d DelegationDiff) DiffToken() TokenAddress  { return MinaTokenAddress }
func (d DelegationDiff) BalanceDelta() int64      { return 0 }
func (d DelegationDiff) Unapply() AccountDiff     { return d }

// CoinbaseDiff credits the coinbase receiver with the block reward.
type CoinbaseDiff struct {
	PublicKey PublicKey `json:"public_key"`
	Amount    Amount    `json:"amount"`
}

func (d CoinbaseDiff) DiffPublicKey() PublicKey { return d.PublicKey }
func (d CoinbaseDiff) DiffToken() TokenAddress  { return MinaTokenAddress }
func (d CoinbaseDiff) BalanceDelta() int64      { return int64(d.Amount) }
func (d CoinbaseDiff) Unapply() AccountDiff {
	return PaymentDiff{Update: Debit(), PublicKey: d.PublicKey, Amount: d.Amount, Token: MinaTokenAddress}
}

// FeeTransferDiff is one side of a fee transfer pair.
type FeeTransferDiff struct {
	PaymentDiff
}

func (d FeeTransferDiff) Unapply() AccountDiff {
	return FeeTransferDiff{d.PaymentDiff.Unapply().(PaymentDiff)}
}

// FeeTransferViaCoinbaseDiff is one side of a fee transfer paid out of the
// coinbase.
type FeeTransferViaCoinbaseDiff struct {
	PaymentDiff
}

func (d FeeTransferViaCoinbaseDiff) Unapply() AccountDiff {
	return FeeTransferViaCoinbaseDiff{d.PaymentDiff.Unapply().(PaymentDiff)}
}

// FailedTransactionNonceDiff bumps the fee payer nonce of a failed user
// command; no balance moves.
type FailedTransactionNonceDiff struct {
	PublicKey PublicKey `json:"public_key"`
	Nonce     Nonce     `json:"nonce"`
}

func (d FailedTransactionNonceDiff) DiffPublicKey() PublicKey { return d.PublicKey }
func (d FailedTransactionNonceDiff) DiffToken() TokenAddress  { return MinaTokenAddress }
func (d FailedTransactionNonceDiff) BalanceDelta() int64      { return 0 }
func (d FailedTransactionNonceDiff) Unapply() AccountDiff     { return d }

// ZkappDiff aggregates the effects of one zkapp account update. Expand
// flattens it into individual account diffs with stable ordering.
type ZkappDiff struct {
	Nonce          Nonce                                 `json:"nonce"`
	Token          TokenAddress                          `json:"token"`
	PublicKey      PublicKey                             `json:"public_key"`
	IncrementNonce bool                                  `json:"increment_nonce"`
	PaymentDiffs   []PaymentDiff                         `json:"payment_diffs,omitempty"`
	AppStateDiff   [ZkappStateFieldElementsNum]*AppState `json:"app_state_diff"`
	Delegate       *PublicKey                            `json:"delegate,omitempty"`
	VerificationKey *VerificationKey                     `json:"verification_key,omitempty"`
	Permissions    *Permissions                          `json:"permissions,omitempty"`
	ZkappURI       *ZkappURI                             `json:"zkapp_uri,omitempty"`
	TokenSymbol    *TokenSymbol                          `json:"token_symbol,omitempty"`
	Timing         *Timing                               `json:"timing,omitempty"`
	VotingFor      *StateHash                            `json:"voting_for,omitempty"`
	Actions        []ActionState                         `json:"actions,omitempty"`
	Events         []EventState                          `json:"events,omitempty"`
}

func (d ZkappDiff) DiffPublicKey() PublicKey { return d.PublicKey }
func (d ZkappDiff) DiffToken() TokenAddress  { return d.Token }
func (d ZkappDiff) BalanceDelta() int64 {
	var sum int64
	for _, p := range d.PaymentDiffs {
		sum += p.BalanceDelta()
	}
	return sum
}

func (d ZkappDiff) Unapply() AccountDiff {
	unapplied := make([]PaymentDiff, len(d.PaymentDiffs))
	for i, p := range d.PaymentDiffs {
		unapplied[i] = p.Unapply().(PaymentDiff)
	}
	d.PaymentDiffs = unapplied
	return d
}

// Expand flattens the aggregated zkapp diff into individual account diffs:
// payments first in the order given, then app state, delegate, verification
// key, permissions, zkapp uri, token symbol, timing, voting for, actions,
// events, and finally the nonce bump when increment_nonce is set.
func (d ZkappDiff) Expand() []AccountDiff {
	var out []AccountDiff
	for _, p := range d.PaymentDiffs {
		out = append(out, p)
	}

	var nonce *Nonce
	if d.IncrementNonce {
		n := d.Nonce
		nonce = &n
	}

	hasState := false
	for _, s := range d.AppStateDiff {
		if s != nil {
			hasState = true
			break
		}
	}
	if hasState {
		out = append(out, ZkappStateDiff{Nonce: nonce, Token: d.Token, PublicKey: d.PublicKey, Diffs: d.AppStateDiff})
	}
	if d.Delegate != nil {
		out = append(out, DelegationDiff{Nonce: d.Nonce, Delegator: d.PublicKey, Delegate: *d.Delegate})
	}
	if d.VerificationKey != nil {
		out = append(out, ZkappVerificationKeyDiff{Nonce: nonce, Token: d.Token, PublicKey: d.PublicKey, VerificationKey: *d.VerificationKey})
	}
	if d.Permissions != nil {
		out = append(out, ZkappPermissionsDiff{Nonce: nonce, Token: d.Token, PublicKey: d.PublicKey, Permissions: *d.Permissions})
	}
	if d.ZkappURI != nil {
		out = append(out, ZkappURIDiff{Nonce: nonce, Token: d.Token, PublicKey: d.PublicKey, ZkappURI: *d.ZkappURI})
	}
	if d.TokenSymbol != nil {
		out = append(out, ZkappTokenSymbolDiff{Nonce: nonce, Token: d.Token, PublicKey: d.PublicKey, TokenSymbol: *d.TokenSymbol})
	}
	if d.Timing != nil {
		out = append(out, ZkappTimingDiff{Nonce: nonce, Token: d.Token, PublicKey: d.PublicKey, Timing: *d.Timing})
	}
	if d.VotingFor != nil {
		out = append(out, ZkappVotingForDiff{Nonce: nonce, Token: d.Token, PublicKey: d.PublicKey, VotingFor: *d.VotingFor})
	}
	if len(d.Actions) > 0 {
		out = append(out, ZkappActionsDiff{Nonce: nonce, Token: d.Token, PublicKey: d.PublicKey, Actions: d.Actions})
	}
	if len(d.Events) > 0 {
		out = append(out, ZkappEventsDiff{Nonce: nonce, Token: d.Token, PublicKey: d.PublicKey, Events: d.Events})
	}
	if d.IncrementNonce {
		out = append(out, ZkappIncrementNonceDiff{Token: d.Token, PublicKey: d.PublicKey})
	}
	return out
}

// ZkappStateDiff sets app state slots; nil slots are untouched.
type ZkappStateDiff struct {
	Nonce     *Nonce                                `json:"nonce,omitempty"`
	Token     TokenAddress                          `json:"token"`
	PublicKey PublicKey                             `json:"public_key"`
	Diffs     [ZkappStateFieldElementsNum]*AppState `json:"diffs"`
}

func (d ZkappStateDiff) DiffPublicKey() PublicKey { return d.PublicKey }
func (d ZkappStateDiff) DiffToken() TokenAddress  { return d.Token }
func (d ZkappStateDiff) BalanceDelta() int64      { return 0 }
func (d ZkappStateDiff) Unapply() AccountDiff     { return d }

// ZkappVerificationKeyDiff sets a zkapp account's verification key.
type ZkappVerificationKeyDiff struct {
	Nonce           *Nonce          `json:"nonce,omitempty"`
	Token           TokenAddress    `json:"token"`
	PublicKey       PublicKey       `json:"public_key"`
	VerificationKey VerificationKey `json:"verification_key"`
}

func (d ZkappVerificationKeyDiff) DiffPublicKey() PublicKey { return d.PublicKey }
func (d ZkappVerificationKeyDiff) DiffToken() TokenAddress  { return d.Token }
func (d ZkappVerificationKeyDiff) BalanceDelta() int64      { return 0 }
func (d ZkappVerificationKeyDiff) Unapply() AccountDiff     { return d }

// ZkappPermissionsDiff sets a zkapp account's permissions.
type ZkappPermissionsDiff struct {
	Nonce       *Nonce       `json:"nonce,omitempty"`
	Token       TokenAddress `json:"token"`
	PublicKey   PublicKey    `json:"public_key"`
	Permissions Permissions  `json:"permissions"`
}

func (d ZkappPermissionsDiff) DiffPublicKey() PublicKey { return d.PublicKey }
func (d ZkappPermissionsDiff) DiffToken() TokenAddress  { return d.Token }
func (d ZkappPermissionsDiff) BalanceDelta() int64      { return 0 }
func (d ZkappPermissionsDiff) Unapply() AccountDiff     { return d }

// ZkappURIDiff sets a zkapp account's uri.
type ZkappURIDiff struct {
	Nonce     *Nonce       `json:"nonce,omitempty"`
	Token     TokenAddress `json:"token"`
	PublicKey PublicKey    `json:"public_key"`
	ZkappURI  ZkappURI     `json:"zkapp_uri"`
}

func (d ZkappURIDiff) DiffPublicKey() PublicKey { return d.PublicKey }
func (d ZkappURIDiff) DiffToken() TokenAddress  { return d.Token }
func (d ZkappURIDiff) BalanceDelta() int64      { return 0 }
func (d ZkappURIDiff) Unapply() AccountDiff     { return d }

// ZkappTokenSymbolDiff sets an account's token symbol.
type ZkappTokenSymbolDiff struct {
	Nonce       *Nonce       `json:"nonce,omitempty"`
	Token       TokenAddress `json:"token"`
	PublicKey   PublicKey    `json:"public_key"`
	TokenSymbol TokenSymbol  `json:"token_symbol"`
}

func (d ZkappTokenSymbolDiff) DiffPublicKey() PublicKey { return d.PublicKey }
func (d ZkappTokenSymbolDiff) DiffToken() TokenAddress  { return d.Token }
func (d ZkappTokenSymbolDiff) BalanceDelta() int64      { return 0 }
func (d ZkappTokenSymbolDiff) Unapply() AccountDiff     { return d }

// ZkappTimingDiff sets an account's vesting schedule.
type ZkappTimingDiff struct {
	Nonce     *Nonce       `json:"nonce,omitempty"`
	Token     TokenAddress `json:"token"`
	PublicKey PublicKey    `json:"public_key"`
	Timing    Timing       `json:"timing"`
}

func (d ZkappTimingDiff) DiffPublicKey() PublicKey { return d.PublicKey }
func (d ZkappTimingDiff) DiffToken() TokenAddress  { return d.Token }
func (d ZkappTimingDiff) BalanceDelta() int64      { return 0 }
func (d ZkappTimingDiff) Unapply() AccountDiff     { return d }

// ZkappVotingForDiff sets an account's voting-for hash.
type ZkappVotingForDiff struct {
	Nonce     *Nonce       `json:"nonce,omitempty"`
	Token     TokenAddress `json:"token"`
	PublicKey PublicKey    `json:"public_key"`
	VotingFor StateHash    `json:"voting_for"`
}

func (d ZkappVotingForDiff) DiffPublicKey() PublicKey { return d.PublicKey }
func (d ZkappVotingForDiff) DiffToken() TokenAddress  { return d.Token }
func (d ZkappVotingForDiff) BalanceDelta() int64      { return 0 }
func (d ZkappVotingForDiff) Unapply() AccountDiff     { return d }

// ZkappActionsDiff appends to an account's action queue.
type ZkappActionsDiff struct {
	Nonce     *Nonce        `json:"nonce,omitempty"`
	Token     TokenAddress  `json:"token"`
	PublicKey PublicKey     `json:"public_key"`
	Actions   []ActionState `json:"actions"`
}

func (d ZkappActionsDiff) DiffPublicKey() PublicKey { return d.PublicKey }
func (d ZkappActionsDiff) DiffToken() TokenAddress  { return d.Token }
func (d ZkappActionsDiff) BalanceDelta() int64      { return 0 }
func (d ZkappActionsDiff) Unapply() AccountDiff     { return d }

// ZkappEventsDiff appends emitted zkapp events.
type ZkappEventsDiff struct {
	Nonce     *Nonce       `json:"nonce,omitempty"`
	Token     TokenAddress `json:"token"`
	PublicKey PublicKey    `json:"public_key"`
	Events    []EventState `json:"events"`
}

func (d ZkappEventsDiff) DiffPublicKey() PublicKey { return d.PublicKey }
func (d ZkappEventsDiff) DiffToken() TokenAddress  { return d.Token }
func (d ZkappEventsDiff) BalanceDelta() int64      { return 0 }
func (d ZkappEventsDiff) Unapply() AccountDiff     { return d }

// ZkappIncrementNonceDiff bumps an account's nonce by one.
type ZkappIncrementNonceDiff struct {
	Token     TokenAddress `json:"token"`
	PublicKey PublicKey    `json:"public_key"`
}

func (d ZkappIncrementNonceDiff) DiffPublicKey() PublicKey { return d.PublicKey }
func (d ZkappIncrementNonceDiff) DiffToken() TokenAddress  { return d.Token }
func (d ZkappIncrementNonceDiff) BalanceDelta() int64      { return 0 }
func (d ZkappIncrementNonceDiff) Unapply() AccountDiff     { return d }

// ZkappFeePayerNonceDiff sets the fee payer's nonce after a zkapp command.
// The fee payer nonce is authoritative for the command; per-account-update
// nonce increments are expressed separately via ZkappIncrementNonceDiff.
type ZkappFeePayerNonceDiff struct {
	PublicKey PublicKey `json:"public_key"`
	Nonce     Nonce     `json:"nonce"`
}

func (d ZkappFeePayerNonceDiff) DiffPublicKey() PublicKey { return d.PublicKey }
func (d ZkappFeePayerNonceDiff) DiffToken() TokenAddress  { return MinaTokenAddress }
func (d ZkappFeePayerNonceDiff) BalanceDelta() int64      { return 0 }
func (d ZkappFeePayerNonceDiff) Unapply() AccountDiff     { return d }

// LedgerDiff is the ledger mutation derived from a single block: batches of
// account diffs in application order. Diffs form a monoid under Append.
type LedgerDiff struct {
	StateHash      StateHash       `json:"state_hash"`
	Height         uint32          `json:"height"`
	AccountDiffs   [][]AccountDiff `json:"-"`
	PublicKeysSeen []PublicKey     `json:"public_keys_seen,omitempty"`
}

// Append concatenates other onto d. Application is associative: applying the
// concatenation equals applying d then other.
func (d *LedgerDiff) Append(other *LedgerDiff) {
	d.AccountDiffs = append(d.AccountDiffs, other.AccountDiffs...)
	d.PublicKeysSeen = append(d.PublicKeysSeen, other.PublicKeysSeen...)
	if other.Height > d.Height {
		d.Height = other.Height
		d.StateHash = other.StateHash
	}
}

// LedgerDiffFromPrecomputed derives the block's full ledger diff: coinbase,
// fee transfers, user commands, zkapp commands, then aggregated block fees.
func LedgerDiffFromPrecomputed(pcb *PrecomputedBlock) *LedgerDiff {
	diff := &LedgerDiff{
		StateHash: pcb.StateHash(),
		Height:    pcb.BlockchainLength(),
	}
	seen := make(map[PublicKey]struct{})
	see := func(pk PublicKey) {
		if _, ok := seen[pk]; !ok {
			seen[pk] = struct{}{}
			diff.PublicKeysSeen = append(diff.PublicKeysSeen, pk)
		}
	}

	// coinbase
	if pcb.HasCoinbase() {
		see(pcb.CoinbaseReceiver())
		diff.AccountDiffs = append(diff.AccountDiffs, []AccountDiff{
			CoinbaseDiff{PublicKey: pcb.CoinbaseReceiver(), Amount: pcb.CoinbaseReward()},
		})
	}

	// fee transfers via coinbase: receiver -> pool, pool -> prover
	for _, ftvc := range pcb.FeeTransfersViaCoinbase() {
		see(ftvc.Receiver)
		diff.AccountDiffs = append(diff.AccountDiffs, []AccountDiff{
			FeeTransferViaCoinbaseDiff{PaymentDiff{Update: Credit(), PublicKey: ftvc.Receiver, Amount: ftvc.Fee, Token: MinaTokenAddress}},
			FeeTransferViaCoinbaseDiff{PaymentDiff{Update: Debit(), PublicKey: pcb.CoinbaseReceiver(), Amount: ftvc.Fee, Token: MinaTokenAddress}},
		})
	}

	// user commands
	for _, cmd := range pcb.UserCommands() {
		see(cmd.Source)
		see(cmd.Receiver)
		see(cmd.FeePayer)
		if cmd.Status != CommandApplied {
			diff.AccountDiffs = append(diff.AccountDiffs, []AccountDiff{
				FailedTransactionNonceDiff{PublicKey: cmd.FeePayer, Nonce: cmd.Nonce + 1},
			})
			continue
		}
		switch cmd.Kind {
		case CommandPayment:
			diff.AccountDiffs = append(diff.AccountDiffs, []AccountDiff{
				PaymentDiff{Update: Credit(), PublicKey: cmd.Receiver, Amount: cmd.Amount, Token: MinaTokenAddress},
				PaymentDiff{Update: DebitNonce(cmd.Nonce + 1), PublicKey: cmd.Source, Amount: cmd.Amount, Token: MinaTokenAddress},
			})
		case CommandStakeDelegation:
			diff.AccountDiffs = append(diff.AccountDiffs, []AccountDiff{
				DelegationDiff{Delegator: cmd.Source, Delegate: cmd.Receiver, Nonce: cmd.Nonce + 1},
			})
		}
	}

	// zkapp commands: fee payer nonce first, then per-update aggregated diffs
	for _, zk := range pcb.ZkappCommands() {
		see(zk.FeePayer)
		batch := []AccountDiff{ZkappFeePayerNonceDiff{PublicKey: zk.FeePayer, Nonce: zk.Nonce + 1}}
		for _, tree := range zk.AccountUpdates {
			for _, body := range flattenUpdates(tree) {
				see(body.PublicKey)
				batch = append(batch, zkappDiffFromUpdate(zk.Nonce+1, body))
			}
		}
		diff.AccountDiffs = append(diff.AccountDiffs, batch)
	}

	// user command + SNARK work fees, aggregated per public key
	diff.AccountDiffs = append(diff.AccountDiffs, transactionFees(pcb)...)
	diff.AccountDiffs = append(diff.AccountDiffs, snarkFees(pcb)...)

	return diff
}

// flattenUpdates lists the tree's update bodies depth-first, root first.
func flattenUpdates(tree AccountUpdateTree) []*AccountUpdateBody {
	out := []*AccountUpdateBody{&tree.Update}
	for i := range tree.Calls {
		out = append(out, flattenUpdates(tree.Calls[i])...)
	}
	return out
}

// zkappDiffFromUpdate aggregates a single account update into a ZkappDiff.
func zkappDiffFromUpdate(feePayerNonce Nonce, body *AccountUpdateBody) AccountDiff {
	d := ZkappDiff{
		Nonce:           feePayerNonce,
		Token:           body.Token,
		PublicKey:       body.PublicKey,
		IncrementNonce:  body.IncrementNonce,
		AppStateDiff:    body.AppState,
		Delegate:        body.Delegate,
		VerificationKey: body.VerificationKey,
		Permissions:     body.Permissions,
		ZkappURI:        body.ZkappURI,
		TokenSymbol:     body.TokenSymbol,
		Timing:          body.Timing,
		VotingFor:       body.VotingFor,
		Actions:         body.Actions,
		Events:          body.Events,
	}
	if body.BalanceChange > 0 {
		d.PaymentDiffs = append(d.PaymentDiffs, PaymentDiff{
			Update: Credit(), PublicKey: body.PublicKey,
			Amount: Amount(body.BalanceChange), Token: body.Token,
		})
	} else if body.BalanceChange < 0 {
		d.PaymentDiffs = append(d.PaymentDiffs, PaymentDiff{
			Update: Debit(), PublicKey: body.PublicKey,
			Amount: Amount(-body.BalanceChange), Token: body.Token,
		})
	}
	return d
}

// transactionFees aggregates user command fees per fee payer, paid to the
// coinbase receiver.
func transactionFees(pcb *PrecomputedBlock) [][]AccountDiff {
	fees := make(map[PublicKey]Amount)
	var order []PublicKey
	for _, cmd := range pcb.UserCommands() {
		if _, ok := fees[cmd.FeePayer]; !ok {
			order = append(order, cmd.FeePayer)
		}
		fees[cmd.FeePayer] += cmd.Fee
	}
	for _, zk := range pcb.ZkappCommands() {
		if _, ok := fees[zk.FeePayer]; !ok {
			order = append(order, zk.FeePayer)
		}
		fees[zk.FeePayer] += zk.Fee
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	var out [][]AccountDiff
	receiver := pcb.CoinbaseReceiver()
	for _, pk := range order {
		fee := fees[pk]
		if fee == 0 {
			continue
		}
		out = append(out, []AccountDiff{
			FeeTransferDiff{PaymentDiff{Update: Credit(), PublicKey: receiver, Amount: fee, Token: MinaTokenAddress}},
			FeeTransferDiff{PaymentDiff{Update: Debit(), PublicKey: pk, Amount: fee, Token: MinaTokenAddress}},
		})
	}
	return out
}

// snarkFees aggregates SNARK work fees per prover, paid by the coinbase
// receiver.
func snarkFees(pcb *PrecomputedBlock) [][]AccountDiff {
	fees := make(map[PublicKey]Amount)
	var order []PublicKey
	for _, s := range pcb.SnarkWorks() {
		if _, ok := fees[s.Prover]; !ok {
			order = append(order, s.Prover)
		}
		fees[s.Prover] += s.Fee
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	var out [][]AccountDiff
	for _, prover := range order {
		fee := fees[prover]
		if fee == 0 {
			continue
		}
		out = append(out, []AccountDiff{
			FeeTransferDiff{PaymentDiff{Update: Credit(), PublicKey: prover, Amount: fee, Token: MinaTokenAddress}},
			FeeTransferDiff{PaymentDiff{Update: Debit(), PublicKey: pcb.CoinbaseReceiver(), Amount: fee, Token: MinaTokenAddress}},
		})
	}
	return out
}

// ExpandAccountDiffs flattens batches, expanding aggregated zkapp diffs in
// place with stable ordering.
func ExpandAccountDiffs(batches [][]AccountDiff) []AccountDiff {
	var out []AccountDiff
	for _, batch := range batches {
		for _, d := range batch {
			if zk, ok := d.(ZkappDiff); ok {
				out = append(out, zk.Expand()...)
				continue
			}
			out = append(out, d)
		}
	}
	return out
}
