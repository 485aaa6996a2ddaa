package core

import (
	"fmt"
	"strings"
)

// EntryType is the side of a double-entry accounting record.
type EntryType string

const (
	EntryDebit  EntryType = "Debit"
	EntryCredit EntryType = "Credit"
)

func (e EntryType) swap() EntryType {
	if e == EntryDebit {
		return EntryCredit
	}
	return EntryDebit
}

// AccountKind distinguishes on-chain keys from synthetic balancing accounts.
type AccountKind string

const (
	BlockchainAddress AccountKind = "BlockchainAddress"
	VirtualAddress    AccountKind = "VirtualAddress"
)

// Transfer type tags on accounting entries.
const (
	TransferCoinbase               = "Coinbase"
	TransferFeeTransfer            = "FeeTransfer"
	TransferFeeTransferViaCoinbase = "FeeTransferViaCoinbase"
	TransferBlockRewardPool        = "BlockRewardPool"
	TransferZkappCommand           = "ZkAppCommand"
	TransferTokenMint              = "Token::Mint"
	TransferTokenBurn              = "Token::Burn"
	TransferAccountCreationFee     = "AccountCreationFee"
)

// AccountingEntry is one debit or credit of a double-entry record.
type AccountingEntry struct {
	TransferType string       `json:"transfer_type"`
	Counterparty string       `json:"counterparty"`
	EntryType    EntryType    `json:"entry_type"`
	Account      string       `json:"account"`
	AccountType  AccountKind  `json:"account_type"`
	Amount       Amount       `json:"amount_nanomina"`
	Timestamp    uint64       `json:"timestamp"`
	Token        TokenAddress `json:"token_id"`
}

// DoubleEntryRecord is the balanced projection of one canonical block (or
// its reversal): per token, the LHS and RHS amounts sum equal.
type DoubleEntryRecord struct {
	Height    uint32            `json:"height"`
	StateHash StateHash         `json:"state_hash"`
	LHS       []AccountingEntry `json:"lhs"`
	RHS       []AccountingEntry `json:"rhs"`
}

// Verify checks the per-token balance invariant before the record is
// surfaced.
func (r *DoubleEntryRecord) Verify() error {
	lhs := make(map[TokenAddress]Amount)
	rhs := make(map[TokenAddress]Amount)
	for _, e := range r.LHS {
		lhs[e.Token] += e.Amount
	}
	for _, e := range r.RHS {
		rhs[e.Token] += e.Amount
	}
	if len(lhs) != len(rhs) {
		return fmt.Errorf("unbalanced record %s: %d lhs tokens, %d rhs tokens", r.StateHash, len(lhs), len(rhs))
	}
	for token, sum := range lhs {
		if rhs[token] != sum {
			return fmt.Errorf("unbalanced record %s token %s: lhs %d, rhs %d", r.StateHash, token, sum, rhs[token])
		}
	}
	return nil
}

// Virtual account names, all block-scoped.
func blockRewardPool(h StateHash) string     { return fmt.Sprintf("BlockRewardPool#%s", h) }
func coinbasePayment(h StateHash) string     { return fmt.Sprintf("MinaCoinbasePayment#%s", h) }
func tokenMintAccount(h StateHash) string    { return fmt.Sprintf("TokenMint#%s", h) }
func tokenBurnAccount(h StateHash) string    { return fmt.Sprintf("TokenBurn#%s", h) }
func accountCreationFee(h StateHash) string  { return fmt.Sprintf("AccountCreationFee#%s", h) }

// swapPair flips debit/credit when projecting a reversal.
func swapPair(canonical bool, entries ...*AccountingEntry) {
	if canonical {
		return
	}
	for _, e := range entries {
		e.EntryType = e.EntryType.swap()
	}
}

// ProjectBlock expands every balance-affecting event of the block into
// balanced (debit, credit) pairs. canonical=false projects the reversal of
// a previously canonical block: the same amounts with every entry type
// swapped.
func ProjectBlock(pcb *PrecomputedBlock, canonical bool) (*DoubleEntryRecord, error) {
	rec := &DoubleEntryRecord{
		Height:    pcb.BlockchainLength(),
		StateHash: pcb.StateHash(),
	}
	stateHash := pcb.StateHash()
	ts := pcb.Timestamp()

	// user commands
	for _, cmd := range pcb.UserCommands() {
		lhs, rhs := projectUserCommand(stateHash, ts, cmd, canonical)
		rec.LHS = append(rec.LHS, lhs...)
		rec.RHS = append(rec.RHS, rhs...)
	}

	// zkapp commands
	for _, zk := range pcb.ZkappCommands() {
		lhs, rhs, err := projectZkappCommand(stateHash, ts, zk, canonical)
		if err != nil {
			return nil, err
		}
		rec.LHS = append(rec.LHS, lhs...)
		rec.RHS = append(rec.RHS, rhs...)
	}

	// fee transfers
	for _, ft := range pcb.FeeTransfers() {
		lhs, rhs := projectFeeTransfer(stateHash, ts, ft, canonical)
		rec.LHS = append(rec.LHS, lhs...)
		rec.RHS = append(rec.RHS, rhs...)
	}

	// fee transfers via coinbase
	for _, ftvc := range pcb.FeeTransfersViaCoinbase() {
		lhs, rhs := projectFeeTransferViaCoinbase(stateHash, ts, pcb.CoinbaseReceiver(), ftvc, canonical)
		rec.LHS = append(rec.LHS, lhs...)
		rec.RHS = append(rec.RHS, rhs...)
	}

	// coinbase
	if pcb.HasCoinbase() {
		lhs, rhs := projectCoinbase(stateHash, ts, pcb.CoinbaseReceiver(), pcb.CoinbaseReward(), canonical)
		rec.LHS = append(rec.LHS, lhs...)
		rec.RHS = append(rec.RHS, rhs...)
	}

	if err := rec.Verify(); err != nil {
		return nil, err
	}
	return rec, nil
}

func projectCoinbase(stateHash StateHash, ts uint64, receiver PublicKey, reward Amount, canonical bool) ([]AccountingEntry, []AccountingEntry) {
	source := AccountingEntry{
		TransferType: TransferCoinbase,
		Counterparty: string(receiver),
		EntryType:    EntryDebit,
		Account:      coinbasePayment(stateHash),
		AccountType:  VirtualAddress,
		Amount:       reward,
		Timestamp:    ts,
		Token:        MinaTokenAddress,
	}
	recipient := AccountingEntry{
		TransferType: TransferCoinbase,
		Counterparty: coinbasePayment(stateHash),
		EntryType:    EntryCredit,
		Account:      string(receiver),
		AccountType:  BlockchainAddress,
		Amount:       reward,
		Timestamp:    ts,
		Token:        MinaTokenAddress,
	}
	swapPair(canonical, &source, &recipient)
	return []AccountingEntry{source}, []AccountingEntry{recipient}
}

func projectFeeTransfer(stateHash StateHash, ts uint64, ft InternalCommand, canonical bool) ([]AccountingEntry, []AccountingEntry) {
	source := AccountingEntry{
		TransferType: TransferFeeTransfer,
		Counterparty: string(ft.Receiver),
		EntryType:    EntryDebit,
		Account:      blockRewardPool(stateHash),
		AccountType:  VirtualAddress,
		Amount:       ft.Fee,
		Timestamp:    ts,
		Token:        MinaTokenAddress,
	}
	recipient := AccountingEntry{
		TransferType: TransferFeeTransfer,
		Counterparty: blockRewardPool(stateHash),
		EntryType:    EntryCredit,
		Account:      string(ft.Receiver),
		AccountType:  BlockchainAddress,
		Amount:       ft.Fee,
		Timestamp:    ts,
		Token:        MinaTokenAddress,
	}
	swapPair(canonical, &source, &recipient)
	return []AccountingEntry{source}, []AccountingEntry{recipient}
}

func projectFeeTransferViaCoinbase(stateHash StateHash, ts uint64, coinbaseReceiver PublicKey, ftvc InternalCommand, canonical bool) ([]AccountingEntry, []AccountingEntry) {
	// coinbase receiver funds the pool
	poolSource := AccountingEntry{
		TransferType: TransferBlockRewardPool,
		Counterparty: blockRewardPool(stateHash),
		EntryType:    EntryDebit,
		Account:      string(coinbaseReceiver),
		AccountType:  BlockchainAddress,
		Amount:       ftvc.Fee,
		Timestamp:    ts,
		Token:        MinaTokenAddress,
	}
	poolRecipient := AccountingEntry{
		TransferType: TransferBlockRewardPool,
		Counterparty: string(coinbaseReceiver),
		EntryType:    EntryCredit,
		Account:      blockRewardPool(stateHash),
		AccountType:  VirtualAddress,
		Amount:       ftvc.Fee,
		Timestamp:    ts,
		Token:        MinaTokenAddress,
	}
	swapPair(canonical, &poolSource, &poolRecipient)

	// pool pays the prover
	proverSource := AccountingEntry{
		TransferType: TransferFeeTransferViaCoinbase,
		Counterparty: string(ftvc.Receiver),
		EntryType:    EntryDebit,
		Account:      blockRewardPool(stateHash),
		AccountType:  VirtualAddress,
		Amount:       ftvc.Fee,
		Timestamp:    ts,
		Token:        MinaTokenAddress,
	}
	proverRecipient := AccountingEntry{
		TransferType: TransferFeeTransferViaCoinbase,
		Counterparty: blockRewardPool(stateHash),
		EntryType:    EntryCredit,
		Account:      string(ftvc.Receiver),
		AccountType:  BlockchainAddress,
		Amount:       ftvc.Fee,
		Timestamp:    ts,
		Token:        MinaTokenAddress,
	}
	swapPair(canonical, &proverSource, &proverRecipient)

	return []AccountingEntry{poolSource, proverSource}, []AccountingEntry{poolRecipient, proverRecipient}
}

func projectUserCommand(stateHash StateHash, ts uint64, cmd UserCommandWithStatus, canonical bool) ([]AccountingEntry, []AccountingEntry) {
	var lhs, rhs []AccountingEntry

	// sender -> receiver; only applied non-delegation commands move balance
	if cmd.Status == CommandApplied && cmd.Kind != CommandStakeDelegation {
		sender := AccountingEntry{
			TransferType: string(cmd.Kind),
			Counterparty: string(cmd.Receiver),
			EntryType:    EntryDebit,
			Account:      string(cmd.Source),
			AccountType:  BlockchainAddress,
			Amount:       cmd.Amount,
			Timestamp:    ts,
			Token:        MinaTokenAddress,
		}
		receiver := AccountingEntry{
			TransferType: string(cmd.Kind),
			Counterparty: string(cmd.Source),
			EntryType:    EntryCredit,
			Account:      string(cmd.Receiver),
			AccountType:  BlockchainAddress,
			Amount:       cmd.Amount,
			Timestamp:    ts,
			Token:        MinaTokenAddress,
		}
		swapPair(canonical, &sender, &receiver)
		lhs = append(lhs, sender)
		rhs = append(rhs, receiver)
	}

	// fee payer -> block reward pool, applied or failed
	feeLHS, feeRHS := projectFeeToPool(stateHash, ts, string(cmd.FeePayer), cmd.Fee, canonical)
	lhs = append(lhs, feeLHS...)
	rhs = append(rhs, feeRHS...)
	return lhs, rhs
}

func projectFeeToPool(stateHash StateHash, ts uint64, feePayer string, fee Amount, canonical bool) ([]AccountingEntry, []AccountingEntry) {
	payer := AccountingEntry{
		TransferType: TransferBlockRewardPool,
		Counterparty: blockRewardPool(stateHash),
		EntryType:    EntryDebit,
		Account:      feePayer,
		AccountType:  BlockchainAddress,
		Amount:       fee,
		Timestamp:    ts,
		Token:        MinaTokenAddress,
	}
	pool := AccountingEntry{
		TransferType: TransferBlockRewardPool,
		Counterparty: feePayer,
		EntryType:    EntryCredit,
		Account:      blockRewardPool(stateHash),
		AccountType:  VirtualAddress,
		Amount:       fee,
		Timestamp:    ts,
		Token:        MinaTokenAddress,
	}
	swapPair(canonical, &payer, &pool)
	return []AccountingEntry{payer}, []AccountingEntry{pool}
}

// projectZkappCommand emits the fee pair, then walks each account-update
// tree level by level: a level netting to zero becomes balanced pairs, a
// single-child level with a nonzero net becomes a mint or burn, anything
// else is an invariant violation.
func projectZkappCommand(stateHash StateHash, ts uint64, zk ZkappCommand, canonical bool) ([]AccountingEntry, []AccountingEntry, error) {
	lhs, rhs := projectFeeToPool(stateHash, ts, string(zk.FeePayer), zk.Fee, canonical)

	for _, tree := range zk.AccountUpdates {
		for _, level := range bfsSteps(tree) {
			token := level[0].Token
			var net int64
			for _, body := range level {
				if body.Token != token {
					return nil, nil, fmt.Errorf("mixed tokens in account update level of %s: %s vs %s", stateHash, token, body.Token)
				}
				net += body.BalanceChange
			}

			switch {
			case net == 0:
				levelLHS, levelRHS := projectBalancedPairs(ts, level, canonical)
				lhs = append(lhs, levelLHS...)
				rhs = append(rhs, levelRHS...)
			case len(level) == 1:
				mintLHS, mintRHS := projectTokenMintBurn(stateHash, ts, level[0], canonical)
				lhs = append(lhs, mintLHS...)
				rhs = append(rhs, mintRHS...)
			default:
				return nil, nil, fmt.Errorf("unbalanced account update level of %s: net %d over %d updates", stateHash, net, len(level))
			}
		}
	}
	return lhs, rhs, nil
}

// projectBalancedPairs partitions a zero-net level into debits and credits.
func projectBalancedPairs(ts uint64, level []*AccountUpdateBody, canonical bool) ([]AccountingEntry, []AccountingEntry) {
	var debits, credits []*AccountUpdateBody
	for _, body := range level {
		if body.BalanceChange < 0 {
			debits = append(debits, body)
		} else {
			credits = append(credits, body)
		}
	}

	counterparties := func(group []*AccountUpdateBody) string {
		names := make([]string, 0, len(group))
		for _, b := range group {
			names = append(names, string(b.PublicKey))
		}
		return strings.Join(names, "#")
	}
	creditNames := counterparties(credits)
	debitNames := counterparties(debits)

	var lhs, rhs []AccountingEntry
	for _, body := range debits {
		if body.BalanceChange == 0 {
			continue
		}
		entry := AccountingEntry{
			TransferType: TransferZkappCommand,
			Counterparty: creditNames,
			EntryType:    EntryDebit,
			Account:      string(body.PublicKey),
			AccountType:  BlockchainAddress,
			Amount:       Amount(-body.BalanceChange),
			Timestamp:    ts,
			Token:        body.Token,
		}
		swapPair(canonical, &entry)
		lhs = append(lhs, entry)
	}
	for _, body := range credits {
		if body.BalanceChange == 0 {
			continue
		}
		entry := AccountingEntry{
			TransferType: TransferZkappCommand,
			Counterparty: debitNames,
			EntryType:    EntryCredit,
			Account:      string(body.PublicKey),
			AccountType:  BlockchainAddress,
			Amount:       Amount(body.BalanceChange),
			Timestamp:    ts,
			Token:        body.Token,
		}
		swapPair(canonical, &entry)
		rhs = append(rhs, entry)
	}
	return lhs, rhs
}

// projectTokenMintBurn balances a single-update level against the block's
// synthetic mint or burn account.
func projectTokenMintBurn(stateHash StateHash, ts uint64, body *AccountUpdateBody, canonical bool) ([]AccountingEntry, []AccountingEntry) {
	net := body.BalanceChange
	if net == 0 {
		return nil, nil
	}
	abs := Amount(net)
	if net < 0 {
		abs = Amount(-net)
	}

	var lhsEntry, rhsEntry AccountingEntry
	if net > 0 {
		// mint
		lhsEntry = AccountingEntry{
			TransferType: TransferTokenMint,
			Counterparty: tokenMintAccount(stateHash),
			EntryType:    EntryDebit,
			Account:      string(body.PublicKey),
			AccountType:  VirtualAddress,
			Amount:       abs,
			Timestamp:    ts,
			Token:        body.Token,
		}
		rhsEntry = AccountingEntry{
			TransferType: TransferTokenMint,
			Counterparty: string(body.PublicKey),
			EntryType:    EntryCredit,
			Account:      tokenMintAccount(stateHash),
			AccountType:  VirtualAddress,
			Amount:       abs,
			Timestamp:    ts,
			Token:        body.Token,
		}
	} else {
		// burn
		lhsEntry = AccountingEntry{
			TransferType: TransferTokenBurn,
			Counterparty: string(body.PublicKey),
			EntryType:    EntryDebit,
			Account:      tokenBurnAccount(stateHash),
			AccountType:  VirtualAddress,
			Amount:       abs,
			Timestamp:    ts,
			Token:        body.Token,
		}
		rhsEntry = AccountingEntry{
			TransferType: TransferTokenBurn,
			Counterparty: tokenBurnAccount(stateHash),
			EntryType:    EntryCredit,
			Account:      string(body.PublicKey),
			AccountType:  VirtualAddress,
			Amount:       abs,
			Timestamp:    ts,
			Token:        body.Token,
		}
	}
	swapPair(canonical, &lhsEntry, &rhsEntry)
	return []AccountingEntry{lhsEntry}, []AccountingEntry{rhsEntry}
}

// NewAccountRecord emits the creation-fee double entry for an account first
// credited by the block at the given height. Heights below 2 are exempt:
// genesis ledger accounts and the magic receiver in block 1 pay no fee.
// apply=false projects the reversal.
func NewAccountRecord(height uint32, stateHash StateHash, account PublicKey, apply bool) *DoubleEntryRecord {
	if height < 2 {
		return nil
	}
	lhs := AccountingEntry{
		TransferType: TransferAccountCreationFee,
		Counterparty: accountCreationFee(stateHash),
		EntryType:    EntryDebit,
		Account:      string(account),
		AccountType:  BlockchainAddress,
		Amount:       MainnetAccountCreationFee,
		Token:        MinaTokenAddress,
	}
	rhs := AccountingEntry{
		TransferType: TransferAccountCreationFee,
		Counterparty: string(account),
		EntryType:    EntryCredit,
		Account:      accountCreationFee(stateHash),
		AccountType:  VirtualAddress,
		Amount:       MainnetAccountCreationFee,
		Token:        MinaTokenAddress,
	}
	swapPair(apply, &lhs, &rhs)
	return &DoubleEntryRecord{
		Height:    height,
		StateHash: stateHash,
		LHS:       []AccountingEntry{lhs},
		RHS:       []AccountingEntry{rhs},
	}
}
