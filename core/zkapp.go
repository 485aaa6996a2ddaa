package core

// Zkapp account attribute types. Each is an opaque on-chain value the
// indexer stores and surfaces without interpreting.

// AppState is one field element of a zkapp account's on-chain state.
type AppState string

// ActionState is one element of a zkapp account's action queue.
type ActionState string

// EventState is one emitted zkapp event.
type EventState string

// VerificationKey is a zkapp account's circuit verification key.
type VerificationKey string

// ZkappURI points at a zkapp's off-chain metadata.
type ZkappURI string

// TokenSymbol is an account's short token symbol.
type TokenSymbol string

// Permission is one slot of an account's permission set.
type Permission string

// Permissions controls which operations on an account require proofs,
// signatures, or nothing.
type Permissions struct {
	EditState          Permission `json:"edit_state"`
	Send               Permission `json:"send"`
	Receive            Permission `json:"receive"`
	Access             Permission `json:"access"`
	SetDelegate        Permission `json:"set_delegate"`
	SetPermissions     Permission `json:"set_permissions"`
	SetVerificationKey Permission `json:"set_verification_key"`
	SetZkappURI        Permission `json:"set_zkapp_uri"`
	EditActionState    Permission `json:"edit_action_state"`
	SetTokenSymbol     Permission `json:"set_token_symbol"`
	IncrementNonce     Permission `json:"increment_nonce"`
	SetVotingFor       Permission `json:"set_voting_for"`
	SetTiming          Permission `json:"set_timing"`
}

// Timing is an account's vesting schedule.
type Timing struct {
	InitialMinimumBalance Amount `json:"initial_minimum_balance"`
	CliffTime             uint32 `json:"cliff_time"`
	CliffAmount           Amount `json:"cliff_amount"`
	VestingPeriod         uint32 `json:"vesting_period"`
	VestingIncrement      Amount `json:"vesting_increment"`
}

// ZkappState is a zkapp account's fixed-size on-chain state array.
type ZkappState [ZkappStateFieldElementsNum]AppState

// bfsSteps walks an account-update tree level by level: the first group is
// the root update itself, then the children of every node in BFS order.
// Token minting/burning decisions are made per group.
func bfsSteps(tree AccountUpdateTree) [][]*AccountUpdateBody {
	groups := [][]*AccountUpdateBody{{&tree.Update}}
	queue := []AccountUpdateTree{tree}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if len(node.Calls) == 0 {
			continue
		}
		group := make([]*AccountUpdateBody, 0, len(node.Calls))
		for i := range node.Calls {
			group = append(group, &node.Calls[i].Update)
			queue = append(queue, node.Calls[i])
		}
		groups = append(groups, group)
	}
	return groups
}
