package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// Account is one ledger entry keyed by (public key, token).
type Account struct {
	PublicKey       PublicKey        `json:"public_key"`
	Token           TokenAddress     `json:"token"`
	Balance         Amount           `json:"balance"`
	Nonce           Nonce            `json:"nonce"`
	Delegate        *PublicKey       `json:"delegate,omitempty"`
	TokenSymbol     TokenSymbol      `json:"token_symbol,omitempty"`
	Permissions     *Permissions     `json:"permissions,omitempty"`
	VerificationKey *VerificationKey `json:"verification_key,omitempty"`
	ZkappURI        ZkappURI         `json:"zkapp_uri,omitempty"`
	Timing          *Timing          `json:"timing,omitempty"`
	VotingFor       *StateHash       `json:"voting_for,omitempty"`
	ZkappState      *ZkappState      `json:"zkapp_state,omitempty"`
	ActionState     []ActionState    `json:"action_state,omitempty"`
	Username        string           `json:"username,omitempty"`

	// CreationFeePaid records that the account creation fee was deducted
	// from this account's first credit, so a reversal can settle exactly.
	CreationFeePaid bool `json:"creation_fee_paid,omitempty"`
}

// Ledger maps (public key, token) to accounts. It is owned by the single
// writer; readers only ever see persisted snapshots.
type Ledger struct {
	Accounts map[AccountID]*Account `json:"-"`

	// Minted and burned track supply adjustments per token so the
	// ledger-wide conservation check stays cheap.
	Minted map[TokenAddress]Amount `json:"-"`
	Burned map[TokenAddress]Amount `json:"-"`
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		Accounts: make(map[AccountID]*Account),
		Minted:   make(map[TokenAddress]Amount),
		Burned:   make(map[TokenAddress]Amount),
	}
}

// account fetches or creates the account for id.
func (l *Ledger) account(id AccountID) *Account {
	if acct, ok := l.Accounts[id]; ok {
		return acct
	}
	acct := &Account{PublicKey: id.PublicKey, Token: id.Token}
	l.Accounts[id] = acct
	return acct
}

// ApplyDiff mutates the ledger per the block diff. Any nonce or balance
// violation returns an error; the caller treats it as fatal since it
// indicates corrupted input or a logic bug.
func (l *Ledger) ApplyDiff(diff *LedgerDiff) error {
	for _, d := range ExpandAccountDiffs(diff.AccountDiffs) {
		if err := l.applyAccountDiff(d, diff.Height); err != nil {
			return fmt.Errorf("apply diff %s (length %d): %w", diff.StateHash, diff.Height, err)
		}
	}
	return nil
}

func (l *Ledger) applyAccountDiff(d AccountDiff, height uint32) error {
	id := AccountID{PublicKey: d.DiffPublicKey(), Token: d.DiffToken()}

	switch diff := d.(type) {
	case PaymentDiff:
		return l.applyPayment(id, diff, height)
	case FeeTransferDiff:
		return l.applyPayment(id, diff.PaymentDiff, height)
	case FeeTransferViaCoinbaseDiff:
		return l.applyPayment(id, diff.PaymentDiff, height)
	case CoinbaseDiff:
		l.credit(id, diff.Amount, height)
		return nil
	case DelegationDiff:
		acct := l.account(id)
		delegate := diff.Delegate
		acct.Delegate = &delegate
		if diff.Nonce > 0 {
			if acct.Nonce != diff.Nonce-1 {
				return fmt.Errorf("delegation nonce mismatch for %s: account %d, diff %d", id, acct.Nonce, diff.Nonce)
			}
			acct.Nonce = diff.Nonce
		}
		return nil
	case FailedTransactionNonceDiff:
		acct := l.account(id)
		if acct.Nonce != diff.Nonce-1 {
			return fmt.Errorf("failed txn nonce mismatch for %s: account %d, diff %d", id, acct.Nonce, diff.Nonce)
		}
		acct.Nonce = diff.Nonce
		return nil
	case ZkappFeePayerNonceDiff:
		acct := l.account(id)
		acct.Nonce = diff.Nonce
		return nil
	case ZkappIncrementNonceDiff:
		acct := l.account(id)
		acct.Nonce++
		return nil
	case ZkappStateDiff:
		acct := l.account(id)
		if acct.ZkappState == nil {
			acct.ZkappState = &ZkappState{}
		}
		for i, s := range diff.Diffs {
			if s != nil {
				acct.ZkappState[i] = *s
			}
		}
		return nil
	case ZkappVerificationKeyDiff:
		acct := l.account(id)
		vk := diff.VerificationKey
		acct.VerificationKey = &vk
		return nil
	case ZkappPermissionsDiff:
		acct := l.account(id)
		perms := diff.Permissions
		acct.Permissions = &perms
		return nil
	case ZkappURIDiff:
		l.account(id).ZkappURI = diff.ZkappURI
		return nil
	case ZkappTokenSymbolDiff:
		l.account(id).TokenSymbol = diff.TokenSymbol
		return nil
	case ZkappTimingDiff:
		acct := l.account(id)
		timing := diff.Timing
		acct.Timing = &timing
		return nil
	case ZkappVotingForDiff:
		acct := l.account(id)
		votingFor := diff.VotingFor
		acct.VotingFor = &votingFor
		return nil
	case ZkappActionsDiff:
		acct := l.account(id)
		acct.ActionState = append(acct.ActionState, diff.Actions...)
		return nil
	case ZkappEventsDiff:
		// events are not account state; they only surface in the
		// accounting projection
		return nil
	case ZkappDiff:
		for _, expanded := range diff.Expand() {
			if err := l.applyAccountDiff(expanded, height); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown account diff %T", d)
	}
}

// applyPayment settles one credit or debit. A user-command debit requires
// the account nonce to equal diff nonce - 1 before the update.
func (l *Ledger) applyPayment(id AccountID, diff PaymentDiff, height uint32) error {
	if !diff.Update.Debit {
		l.credit(id, diff.Amount, height)
		return nil
	}

	acct, ok := l.Accounts[id]
	if !ok {
		if id.Token != MinaTokenAddress {
			// a net token debit with no opposing credit is a burn
			l.Burned[id.Token] += diff.Amount
			return nil
		}
		return fmt.Errorf("debit from missing account %s", id)
	}
	if diff.Update.Nonce != nil {
		if acct.Nonce != *diff.Update.Nonce-1 {
			return fmt.Errorf("payment nonce mismatch for %s: account %d, diff %d", id, acct.Nonce, *diff.Update.Nonce)
		}
		acct.Nonce = *diff.Update.Nonce
	}
	if acct.Balance < diff.Amount {
		// reversing the credit that created this account: the creation fee
		// was withheld on the way in, so the account empties and disappears
		if acct.CreationFeePaid && acct.Balance+MainnetAccountCreationFee == diff.Amount {
			delete(l.Accounts, id)
			return nil
		}
		return fmt.Errorf("insufficient balance for %s: have %d, debit %d", id, acct.Balance, diff.Amount)
	}
	acct.Balance -= diff.Amount
	return nil
}

// credit adds amount to the account, creating it on first credit. The
// account creation fee is deducted from the first MINA credit; genesis and
// the block immediately after it are exempt. Token credits against unseen
// token ledgers count as mints.
func (l *Ledger) credit(id AccountID, amount Amount, height uint32) {
	_, existed := l.Accounts[id]
	acct := l.account(id)
	if !existed {
		switch {
		case id.Token != MinaTokenAddress:
			l.Minted[id.Token] += amount
		case height >= 2 && amount >= MainnetAccountCreationFee:
			amount -= MainnetAccountCreationFee
			acct.CreationFeePaid = true
		}
	}
	acct.Balance += amount
}

// Unapply reverses a previously applied diff by applying each account
// diff's inverse in reverse order.
func (l *Ledger) Unapply(diff *LedgerDiff) error {
	expanded := ExpandAccountDiffs(diff.AccountDiffs)
	for i := len(expanded) - 1; i >= 0; i-- {
		if err := l.applyAccountDiff(expanded[i].Unapply(), 0); err != nil {
			return err
		}
	}
	return nil
}

// Balance returns the account balance, zero for missing accounts.
func (l *Ledger) Balance(id AccountID) Amount {
	if acct, ok := l.Accounts[id]; ok {
		return acct.Balance
	}
	return 0
}

// NonceOf returns the MINA account nonce, zero for missing accounts.
func (l *Ledger) NonceOf(pk PublicKey) Nonce {
	if acct, ok := l.Accounts[AccountID{PublicKey: pk, Token: MinaTokenAddress}]; ok {
		return acct.Nonce
	}
	return 0
}

// TotalBalance sums the balances of the given token ledger.
func (l *Ledger) TotalBalance(token TokenAddress) Amount {
	var total Amount
	for id, acct := range l.Accounts {
		if id.Token == token {
			total += acct.Balance
		}
	}
	return total
}

// Clone deep-copies the ledger for snapshotting.
func (l *Ledger) Clone() *Ledger {
	out := NewLedger()
	for id, acct := range l.Accounts {
		cp := *acct
		out.Accounts[id] = &cp
	}
	for t, a := range l.Minted {
		out.Minted[t] = a
	}
	for t, a := range l.Burned {
		out.Burned[t] = a
	}
	return out
}

// sortedIDs returns the account ids in deterministic order.
func (l *Ledger) sortedIDs() []AccountID {
	ids := make([]AccountID, 0, len(l.Accounts))
	for id := range l.Accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].PublicKey != ids[j].PublicKey {
			return ids[i].PublicKey < ids[j].PublicKey
		}
		return ids[i].Token < ids[j].Token
	})
	return ids
}

// Hash computes a deterministic ledger hash over the sorted accounts.
func (l *Ledger) Hash() LedgerHash {
	h := sha256.New()
	for _, id := range l.sortedIDs() {
		data, err := json.Marshal(l.Accounts[id])
		if err != nil {
			logrus.Errorf("ledger hash marshal: %v", err)
			continue
		}
		h.Write([]byte(id.String()))
		h.Write(data)
	}
	return LedgerHash(hex.EncodeToString(h.Sum(nil)))
}

type ledgerJSON struct {
	Accounts []*Account              `json:"accounts"`
	Minted   map[TokenAddress]Amount `json:"minted,omitempty"`
	Burned   map[TokenAddress]Amount `json:"burned,omitempty"`
}

// MarshalJSON serializes the accounts in deterministic order.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	out := ledgerJSON{Minted: l.Minted, Burned: l.Burned}
	for _, id := range l.sortedIDs() {
		out.Accounts = append(out.Accounts, l.Accounts[id])
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var raw ledgerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	l.Accounts = make(map[AccountID]*Account, len(raw.Accounts))
	for _, acct := range raw.Accounts {
		if acct == nil {
			continue
		}
		l.Accounts[AccountID{PublicKey: acct.PublicKey, Token: acct.Token}] = acct
	}
	l.Minted = raw.Minted
	l.Burned = raw.Burned
	if l.Minted == nil {
		l.Minted = make(map[TokenAddress]Amount)
	}
	if l.Burned == nil {
		l.Burned = make(map[TokenAddress]Amount)
	}
	return nil
}
