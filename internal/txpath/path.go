package txpath

import (
	"fmt"

	"github.com/pog-sim/pogsim/internal/wallet"
)

// Path is a single relay hop: the recipient address and the forwarder's
// BLS signature over H(tx) ∥ H(recipient_address).
type Path struct {
	To  wallet.Address
	Sig wallet.BLSSignature
}

// TransactionPaths is the wire-gossip unit: a transaction plus the
// ordered list of hops accumulated so far.
type TransactionPaths struct {
	Transaction *Transaction
	Paths       []Path
}

// NewTransactionPaths seeds a fresh TransactionPaths with no hops yet;
// the originator's own address is implicit as position 0 via
// Transaction.From.
func NewTransactionPaths(tx *Transaction) *TransactionPaths {
	return &TransactionPaths{Transaction: tx, Paths: nil}
}

// AddPath appends one hop to `to`, signed by forwarder with BLS over
// H(tx) ∥ H(to). Returns the extended TransactionPaths; the original is
// left untouched (append-only, copy-on-write per the node cache's
// replace-on-forward discipline).
func (tp *TransactionPaths) AddPath(to wallet.Address, forwarder *wallet.Wallet) (*TransactionPaths, error) {
	msg := HopMessage(tp.Transaction.Hash, to)
	sig, err := forwarder.SignBLS(msg)
	if err != nil {
		return nil, fmt.Errorf("txpath: sign hop: %w", err)
	}
	newPaths := make([]Path, len(tp.Paths)+1)
	copy(newPaths, tp.Paths)
	newPaths[len(tp.Paths)] = Path{To: to, Sig: sig}
	return &TransactionPaths{Transaction: tp.Transaction, Paths: newPaths}, nil
}

// Len returns the number of hops recorded so far (one per recipient; the
// originator is not counted). Once the last hop reaches the miner, this
// equals NonMinerLength.
func (tp *TransactionPaths) Len() int { return len(tp.Paths) }

// Hops returns the ordered address list originator-first, i.e.
// [from, to_1, to_2, ..., to_L].
func (tp *TransactionPaths) Hops() []wallet.Address {
	hops := make([]wallet.Address, 0, len(tp.Paths)+1)
	hops = append(hops, tp.Transaction.From)
	for _, p := range tp.Paths {
		hops = append(hops, p.To)
	}
	return hops
}

// VerifyLast checks only the newest (last) hop: its key is resolved from
// the previous hop's address (or the originator, if this is the first
// hop).
func (tp *TransactionPaths) VerifyLast() bool {
	if len(tp.Paths) == 0 {
		return true
	}
	idx := len(tp.Paths) - 1
	signerAddr := tp.Transaction.From
	if idx > 0 {
		signerAddr = tp.Paths[idx-1].To
	}
	pk, err := wallet.Registry.Get(signerAddr)
	if err != nil {
		return false
	}
	msg := HopMessage(tp.Transaction.Hash, tp.Paths[idx].To)
	return wallet.VerifyBLSWithPK(msg, tp.Paths[idx].Sig, pk)
}

// Verify runs the full chain of hops: every signature must verify
// against the BLS key resolved from its predecessor's address, and the
// terminal `to` must equal currentAddress.
func (tp *TransactionPaths) Verify(currentAddress wallet.Address) bool {
	if len(tp.Paths) == 0 {
		return tp.Transaction.From == currentAddress
	}
	signerAddr := tp.Transaction.From
	for _, hop := range tp.Paths {
		pk, err := wallet.Registry.Get(signerAddr)
		if err != nil {
			return false
		}
		msg := HopMessage(tp.Transaction.Hash, hop.To)
		if !wallet.VerifyBLSWithPK(msg, hop.Sig, pk) {
			return false
		}
		signerAddr = hop.To
	}
	if tp.Paths[len(tp.Paths)-1].To != currentAddress {
		return false
	}
	return true
}

// AggregatedSignedPaths is produced once by the miner at block-assembly
// time: one BLS aggregate signature over all hop messages, plus the
// ordered address list, originator first and miner last.
type AggregatedSignedPaths struct {
	Addresses []wallet.Address
	Aggregate wallet.BLSSignature
}

// FromTransactionPaths seals tp into an AggregatedSignedPaths. The
// addresses list is [tx.From] ++ [hop.To for hop in tp.Paths]; the last
// entry must equal the miner's address (the miner is the terminus of
// every path it includes in its block).
func FromTransactionPaths(tp *TransactionPaths) (*AggregatedSignedPaths, error) {
	if len(tp.Paths) == 0 {
		return nil, fmt.Errorf("txpath: cannot seal a transaction path with zero hops")
	}
	sigs := make([]wallet.BLSSignature, 0, len(tp.Paths))
	for _, hop := range tp.Paths {
		sigs = append(sigs, hop.Sig)
	}
	agg, err := wallet.BLSAggregate(sigs)
	if err != nil {
		return nil, fmt.Errorf("txpath: aggregate hop signatures: %w", err)
	}
	return &AggregatedSignedPaths{
		Addresses: tp.Hops(),
		Aggregate: agg,
	}, nil
}

// Verify rebuilds the per-hop messages for positions 1..last, drops the
// terminal (miner) address since the miner did not sign anything onward,
// and checks the aggregate signature against the remaining hop messages
// and BLS keys.
func (asp *AggregatedSignedPaths) Verify(txHash Hash) bool {
	if len(asp.Addresses) < 2 {
		return false
	}
	// signer addresses are positions 0..len-2 (everyone except the miner);
	// each signs the hop message addressed to the *next* position.
	signers := asp.Addresses[:len(asp.Addresses)-1]
	recipients := asp.Addresses[1:]

	messages := make([][]byte, 0, len(recipients))
	pks := make([]wallet.BLSPublicKey, 0, len(recipients))
	for i, signer := range signers {
		pk, err := wallet.Registry.Get(signer)
		if err != nil {
			return false
		}
		messages = append(messages, HopMessage(txHash, recipients[i]))
		pks = append(pks, pk)
	}
	return wallet.BLSAggregateVerify(messages, pks, asp.Aggregate)
}

// Miner returns the terminal address of the path, i.e. the block's miner.
func (asp *AggregatedSignedPaths) Miner() wallet.Address {
	if len(asp.Addresses) == 0 {
		return ""
	}
	return asp.Addresses[len(asp.Addresses)-1]
}

// Originator returns the first address of the path, i.e. the
// transaction's sender.
func (asp *AggregatedSignedPaths) Originator() wallet.Address {
	if len(asp.Addresses) == 0 {
		return ""
	}
	return asp.Addresses[0]
}

// NonMinerLength returns L, the non-miner hop count the contribution
// formula scores over. The scored set n_1..n_L is every address except
// the terminal miner, including the originator (the first forwarder of
// its own transaction), so L = len(Addresses) - 1.
func (asp *AggregatedSignedPaths) NonMinerLength() int {
	if len(asp.Addresses) == 0 {
		return 0
	}
	return len(asp.Addresses) - 1
}

// ScoredAddresses returns n_1..n_L, the non-miner addresses in path
// order, used by internal/contribution's per-slot scoring pass.
func (asp *AggregatedSignedPaths) ScoredAddresses() []wallet.Address {
	if len(asp.Addresses) == 0 {
		return nil
	}
	return asp.Addresses[:len(asp.Addresses)-1]
}
