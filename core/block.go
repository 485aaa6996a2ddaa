package core

import (
	"fmt"
	"strings"
)

// CommandStatus is the applied/failed flag on a user command.
type CommandStatus string

const (
	CommandApplied CommandStatus = "Applied"
	CommandFailed  CommandStatus = "Failed"
)

// CommandKind discriminates the signed user command types.
type CommandKind string

const (
	CommandPayment         CommandKind = "Payment"
	CommandStakeDelegation CommandKind = "StakeDelegation"
)

// UserCommandWithStatus is a signed command together with its applied/failed
// status from the staged ledger diff.
type UserCommandWithStatus struct {
	Kind     CommandKind   `json:"kind"`
	Source   PublicKey     `json:"source"`
	Receiver PublicKey     `json:"receiver"`
	FeePayer PublicKey     `json:"fee_payer"`
	Amount   Amount        `json:"amount"`
	Fee      Amount        `json:"fee"`
	Nonce    Nonce         `json:"nonce"`
	Status   CommandStatus `json:"status"`
	TxnHash  string        `json:"txn_hash"`
	Memo     string        `json:"memo,omitempty"`
}

// InternalCommandKind discriminates the block-internal commands.
type InternalCommandKind string

const (
	InternalCoinbase               InternalCommandKind = "Coinbase"
	InternalFeeTransfer            InternalCommandKind = "FeeTransfer"
	InternalFeeTransferViaCoinbase InternalCommandKind = "FeeTransferViaCoinbase"
)

func (k InternalCommandKind) String() string { return string(k) }

// InternalCommand is a coinbase or fee transfer produced by the protocol.
// For a fee transfer via coinbase the receiver is the SNARK prover paid out
// of the coinbase.
type InternalCommand struct {
	Kind     InternalCommandKind `json:"kind"`
	Receiver PublicKey           `json:"receiver"`
	Fee      Amount              `json:"fee"`
}

// SnarkWork is one completed SNARK work entry from a block.
type SnarkWork struct {
	Prover PublicKey `json:"prover"`
	Fee    Amount    `json:"fee"`
}

// AccountUpdateBody is the effect of one zkapp account update.
type AccountUpdateBody struct {
	PublicKey      PublicKey                             `json:"public_key"`
	Token          TokenAddress                          `json:"token"`
	BalanceChange  int64                                 `json:"balance_change"`
	IncrementNonce bool                                  `json:"increment_nonce"`
	AppState       [ZkappStateFieldElementsNum]*AppState `json:"app_state"`
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

// AccountUpdateTree is one node of a zkapp account-update forest.
type AccountUpdateTree struct {
	Update AccountUpdateBody   `json:"update"`
	Calls  []AccountUpdateTree `json:"calls,omitempty"`
}

// ZkappCommand is a proof-bearing command: a fee payer plus a forest of
// account-update trees. Post-hardfork blocks only.
type ZkappCommand struct {
	FeePayer       PublicKey           `json:"fee_payer"`
	Fee            Amount              `json:"fee"`
	Nonce          Nonce               `json:"nonce"`
	TxnHash        string              `json:"txn_hash"`
	Status         CommandStatus       `json:"status"`
	AccountUpdates []AccountUpdateTree `json:"account_updates"`
}

// blockCommon carries the fields shared by both block schema versions.
type blockCommon struct {
	StateHash         StateHash               `json:"state_hash"`
	PreviousStateHash StateHash               `json:"previous_state_hash"`
	GenesisStateHash  StateHash               `json:"genesis_state_hash"`
	BlockchainLength  uint32                  `json:"blockchain_length"`
	GlobalSlot        uint32                  `json:"global_slot_since_genesis"`
	Timestamp         uint64                  `json:"timestamp"`
	LastVRFOutput     string                  `json:"last_vrf_output"`
	CoinbaseReceiver  PublicKey               `json:"coinbase_receiver"`
	CoinbaseReward    Amount                  `json:"coinbase_reward"`
	Creator           PublicKey               `json:"creator"`
	UserCommands      []UserCommandWithStatus `json:"user_commands"`
	InternalCommands  []InternalCommand       `json:"internal_commands"`
	SnarkWorks        []SnarkWork             `json:"snark_works"`
}

// BlockV1 is the pre-hardfork block schema.
type BlockV1 struct {
	blockCommon
}

// BlockV2 is the post-hardfork block schema, adding zkapp commands.
type BlockV2 struct {
	blockCommon
	ZkappCommands []ZkappCommand `json:"zkapp_commands"`
}

// PrecomputedBlock is an immutable block record supplied as input, either
// pre-hardfork (V1) or post-hardfork (V2). Exactly one of the variants is
// set; accessors present the least common denominator view and zkapp-only
// data is nil for V1.
type PrecomputedBlock struct {
	V1 *BlockV1 `json:"v1,omitempty"`
	V2 *BlockV2 `json:"v2,omitempty"`
}

func (b *PrecomputedBlock) common() *blockCommon {
	if b.V2 != nil {
		return &b.V2.blockCommon
	}
	if b.V1 != nil {
		return &b.V1.blockCommon
	}
	panic("precomputed block has no variant")
}

func (b *PrecomputedBlock) StateHash() StateHash         { return b.common().StateHash }
func (b *PrecomputedBlock) PreviousStateHash() StateHash { return b.common().PreviousStateHash }
func (b *PrecomputedBlock) GenesisStateHash() StateHash  { return b.common().GenesisStateHash }
func (b *PrecomputedBlock) BlockchainLength() uint32     { return b.common().BlockchainLength }
func (b *PrecomputedBlock) GlobalSlot() uint32           { return b.common().GlobalSlot }
func (b *PrecomputedBlock) Timestamp() uint64            { return b.common().Timestamp }
func (b *PrecomputedBlock) LastVRFOutput() string        { return b.common().LastVRFOutput }
func (b *PrecomputedBlock) CoinbaseReceiver() PublicKey  { return b.common().CoinbaseReceiver }
func (b *PrecomputedBlock) CoinbaseReward() Amount       { return b.common().CoinbaseReward }
func (b *PrecomputedBlock) Creator() PublicKey           { return b.common().Creator }

func (b *PrecomputedBlock) UserCommands() []UserCommandWithStatus { return b.common().UserCommands }
func (b *PrecomputedBlock) InternalCommands() []InternalCommand   { return b.common().InternalCommands }
func (b *PrecomputedBlock) SnarkWorks() []SnarkWork               { return b.common().SnarkWorks }

// ZkappCommands returns nil for pre-hardfork blocks.
func (b *PrecomputedBlock) ZkappCommands() []ZkappCommand {
	if b.V2 != nil {
		return b.V2.ZkappCommands
	}
	return nil
}

// FeeTransfers returns the block's plain fee transfers.
func (b *PrecomputedBlock) FeeTransfers() []InternalCommand {
	var out []InternalCommand
	for _, ic := range b.InternalCommands() {
		if ic.Kind == InternalFeeTransfer {
			out = append(out, ic)
		}
	}
	return out
}

// FeeTransfersViaCoinbase returns the block's fee transfers paid out of the
// coinbase.
func (b *PrecomputedBlock) FeeTransfersViaCoinbase() []InternalCommand {
	var out []InternalCommand
	for _, ic := range b.InternalCommands() {
		if ic.Kind == InternalFeeTransferViaCoinbase {
			out = append(out, ic)
		}
	}
	return out
}

// HasCoinbase reports whether the block carries a coinbase internal command.
func (b *PrecomputedBlock) HasCoinbase() bool {
	for _, ic := range b.InternalCommands() {
		if ic.Kind == InternalCoinbase {
			return true
		}
	}
	return false
}

// Summary is a short human-readable block descriptor for logs.
func (b *PrecomputedBlock) Summary() string {
	return fmt.Sprintf("(length %d): %s", b.BlockchainLength(), b.StateHash())
}

// Block is the lightweight witness-tree view of a precomputed block.
type Block struct {
	Parent           StateHash `json:"parent"`
	StateHash        StateHash `json:"state_hash"`
	GenesisStateHash StateHash `json:"genesis_state_hash"`
	Height           uint32    `json:"height"`
	GlobalSlot       uint32    `json:"global_slot"`
	LastVRFOutput    string    `json:"last_vrf_output"`
}

// NewBlock projects a precomputed block onto its witness-tree view.
func NewBlock(pcb *PrecomputedBlock) Block {
	return Block{
		Parent:           pcb.PreviousStateHash(),
		StateHash:        pcb.StateHash(),
		GenesisStateHash: pcb.GenesisStateHash(),
		Height:           pcb.BlockchainLength(),
		GlobalSlot:       pcb.GlobalSlot(),
		LastVRFOutput:    pcb.LastVRFOutput(),
	}
}

// Cmp orders candidate tips: negative means b is the better tip. Higher
// blocks win; at equal height the greater VRF output wins, then the greater
// state hash, so the order is deterministic under block reordering.
func (b Block) Cmp(other Block) int {
	if b.Height != other.Height {
		if b.Height > other.Height {
			return -1
		}
		return 1
	}
	if c := strings.Compare(b.LastVRFOutput, other.LastVRFOutput); c != 0 {
		return -c
	}
	return -strings.Compare(string(b.StateHash), string(other.StateHash))
}

// BetterThan reports whether b takes priority over other as best tip.
func (b Block) BetterThan(other Block) bool { return b.Cmp(other) < 0 }

// Summary is a short human-readable block descriptor for logs.
func (b Block) Summary() string {
	return fmt.Sprintf("(length %d): %s", b.Height, b.StateHash)
}
