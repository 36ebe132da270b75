// Package node implements pogsim's per-node actor: mailbox loop,
// transaction origination and relay, block proposal, block-sync, and the
// Honest/Selfish/Malicious/Unstable behavioral variants.
package node

import (
	"github.com/pog-sim/pogsim/internal/chain"
	"github.com/pog-sim/pogsim/internal/consensus"
	"github.com/pog-sim/pogsim/internal/txpath"
	"github.com/pog-sim/pogsim/internal/wallet"
)

// Kind names a message's symbolic type. Messages travel over in-process
// channels, so there is no serialized wire format.
type Kind int

const (
	SendBlock Kind = iota
	SendTransactionPaths
	GenerateBlock
	GenerateTransactionPaths
	SendRandaoSeed
	ReceiveRandaoSeed
	BecomeValidator
	ReceiveBecomeValidator
	UpdateSlot
	PrintBlockchain
	RequestBlockSync
	ResponseBlockSync
	UpdateValidatorStake
	UpdateNodeBalance
	BlockProductionFailed
)

func (k Kind) String() string {
	switch k {
	case SendBlock:
		return "SendBlock"
	case SendTransactionPaths:
		return "SendTransactionPaths"
	case GenerateBlock:
		return "GenerateBlock"
	case GenerateTransactionPaths:
		return "GenerateTransactionPaths"
	case SendRandaoSeed:
		return "SendRandaoSeed"
	case ReceiveRandaoSeed:
		return "ReceiveRandaoSeed"
	case BecomeValidator:
		return "BecomeValidator"
	case ReceiveBecomeValidator:
		return "ReceiveBecomeValidator"
	case UpdateSlot:
		return "UpdateSlot"
	case PrintBlockchain:
		return "PrintBlockchain"
	case RequestBlockSync:
		return "RequestBlockSync"
	case ResponseBlockSync:
		return "ResponseBlockSync"
	case UpdateValidatorStake:
		return "UpdateValidatorStake"
	case UpdateNodeBalance:
		return "UpdateNodeBalance"
	case BlockProductionFailed:
		return "BlockProductionFailed"
	default:
		return "Unknown"
	}
}

// Message is pogsim's envelope for every actor communication. Every
// message carries From to suppress echo-back on flood. Only the fields
// relevant to Kind are populated.
type Message struct {
	Kind Kind
	From wallet.Address

	Block            *chain.Block
	TransactionPaths *txpath.TransactionPaths
	RandaoSeed       [32]byte
	RandaoSignature  wallet.Signature
	Epoch            uint64
	Slot             uint64
	StakeMap         map[wallet.Address]float64
	Validator        consensus.Validator
	FromIndex        uint64
	SyncBlocks       []*chain.Block
	NewStake         float64
	NewBalance       float64
	Reason           string
}
