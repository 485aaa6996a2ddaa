package store

import "encoding/binary"

// Key prefixes for the key-value database. Data of each kind lives under
// its own prefix; heights, epochs, and sequence numbers are big-endian so
// range scans walk in natural order.
var (
	// prefixBlock || state hash -> serialized precomputed block + size
	prefixBlock = []byte{0x01}
	// prefixBlockHeight || u32 BE height || state hash -> (empty)
	prefixBlockHeight = []byte{0x02}
	// prefixCanonicalHeight || u32 BE height -> state hash || genesis hash
	prefixCanonicalHeight = []byte{0x03}
	// prefixLedger || state hash -> serialized ledger
	prefixLedger = []byte{0x04}
	// prefixSnarkByPK || pk || u32 BE height || u32 BE idx -> snark record
	prefixSnarkByPK = []byte{0x05}
	// prefixCmdByHash || txn hash -> command + containing state hash
	prefixCmdByHash = []byte{0x06}
	// prefixCmdByPK || pk || u32 BE height || u32 BE idx -> txn hash
	prefixCmdByPK = []byte{0x07}
	// prefixStakingLedger || ledger hash -> serialized staking ledger
	prefixStakingLedger = []byte{0x08}
	// prefixStakingEpoch || genesis hash || u32 BE epoch || ledger hash -> (empty)
	prefixStakingEpoch = []byte{0x09}
	// prefixEventLog || u64 BE seq -> u32 BE context || kind byte || body
	prefixEventLog = []byte{0x0a}

	keyBestBlock       = []byte{0xf0}
	keyDBVersion       = []byte{0xf1}
	keyBlocksProcessed = []byte{0xf2}
)

func u32BE(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func u64BE(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func fromU32BE(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func fromU64BE(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

// key concatenates a prefix with its components.
func key(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
