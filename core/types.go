package core

import (
	"fmt"
	"strconv"
)

// Network-wide constants. The mainnet values are the defaults; networks may
// override the thresholds through configuration.
const (
	MainnetGenesisHash          StateHash = "3NKeMoncuHab5ScarV5ViyF16cJPT4taWNSaTLS64Dp67wuXigPZ"
	MainnetGenesisPrevStateHash StateHash = "3NLoKn22eMnyQ7rxh5pxB6vBA3XhSAhhrf7akdqS6HbAKD14Dh1d"

	// MinaTokenAddress is the distinguished MINA token id.
	MinaTokenAddress TokenAddress = "wSHV2S4qX9jFsLjQo8r1BsMLH2ZRKsZx6EJd1sbozGPieEC4Jf"

	// MainnetAccountCreationFee is debited, in nanomina, from every account
	// on its first credit.
	MainnetAccountCreationFee Amount = 1_000_000_000

	MainnetCanonicalThreshold       uint32 = 10
	MainnetTransitionFrontierLength uint32 = 290
	CanonicalUpdateThreshold        uint32 = MainnetTransitionFrontierLength / 5
	PruneIntervalDefault            uint32 = 10
	LedgerCadence                   uint32 = 100
	BlockReportingFreq              uint32 = 1000

	// ZkappStateFieldElementsNum is the fixed number of on-chain app state
	// slots per zkapp account.
	ZkappStateFieldElementsNum = 8

	// TokenAddressLen is the length of a base58-encoded token address.
	TokenAddressLen = 50
)

// StateHash uniquely identifies a precomputed block.
type StateHash string

func (h StateHash) String() string { return string(h) }

// LedgerHash identifies a (staking or staged) ledger.
type LedgerHash string

func (h LedgerHash) String() string { return string(h) }

// PublicKey is a base58-encoded on-chain account key.
type PublicKey string

func (pk PublicKey) String() string { return string(pk) }

// TokenAddress identifies a token ledger; also referred to as a token id.
// The zero value is not valid, use MinaTokenAddress for MINA.
type TokenAddress string

func (t TokenAddress) String() string { return string(t) }

// NewTokenAddress validates the given string as a token address.
func NewTokenAddress(s string) (TokenAddress, error) {
	if len(s) != TokenAddressLen {
		return "", fmt.Errorf("invalid token address: %s", s)
	}
	return TokenAddress(s), nil
}

// Amount is a quantity of tokens in the smallest unit (nanomina for MINA).
type Amount uint64

func (a Amount) String() string { return strconv.FormatUint(uint64(a), 10) }

// Nonce orders the commands of a single fee payer.
type Nonce uint32

// AccountID keys the ledger: one account per (public key, token).
type AccountID struct {
	PublicKey PublicKey    `json:"public_key"`
	Token     TokenAddress `json:"token"`
}

func (id AccountID) String() string {
	return fmt.Sprintf("%s:%s", id.PublicKey, id.Token)
}
