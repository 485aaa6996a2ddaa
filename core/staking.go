package core

import "sort"

// StakingLedgerEntry is one account of a per-epoch staking ledger.
type StakingLedgerEntry struct {
	PublicKey PublicKey  `json:"public_key"`
	Balance   Amount     `json:"balance"`
	Delegate  *PublicKey `json:"delegate,omitempty"`
}

// StakingLedger is the per-epoch snapshot of stake and delegations.
type StakingLedger struct {
	Epoch            uint32               `json:"epoch"`
	LedgerHash       LedgerHash           `json:"ledger_hash"`
	GenesisStateHash StateHash            `json:"genesis_state_hash"`
	Entries          []StakingLedgerEntry `json:"entries"`
}

// DelegationTotal aggregates the stake delegated to one delegate.
type DelegationTotal struct {
	Delegate       PublicKey `json:"delegate"`
	TotalDelegated Amount    `json:"total_delegated"`
	CountDelegates int       `json:"count_delegates"`
}

// AggregateDelegations totals the delegated stake per delegate. An account
// with no delegate stakes to itself.
func (sl *StakingLedger) AggregateDelegations() []DelegationTotal {
	totals := make(map[PublicKey]*DelegationTotal)
	for _, e := range sl.Entries {
		delegate := e.PublicKey
		if e.Delegate != nil {
			delegate = *e.Delegate
		}
		agg, ok := totals[delegate]
		if !ok {
			agg = &DelegationTotal{Delegate: delegate}
			totals[delegate] = agg
		}
		agg.TotalDelegated += e.Balance
		agg.CountDelegates++
	}

	out := make([]DelegationTotal, 0, len(totals))
	for _, agg := range totals {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalDelegated != out[j].TotalDelegated {
			return out[i].TotalDelegated > out[j].TotalDelegated
		}
		return out[i].Delegate < out[j].Delegate
	})
	return out
}

// TotalStake sums every entry's balance.
func (sl *StakingLedger) TotalStake() Amount {
	var total Amount
	for _, e := range sl.Entries {
		total += e.Balance
	}
	return total
}
