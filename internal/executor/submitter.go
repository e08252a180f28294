package executor

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
)

// TxRequest carries one transfer through the submission pipeline.
type TxRequest struct {
	TxID      string
	StepID    int
	From      common.Address
	To        common.Address
	Value     decimal.Decimal
	Nonce     uint64
	Signature []byte
}

// Digest returns the keccak256 hash the signer commits to: from || to ||
// value || nonce.
func (r TxRequest) Digest() common.Hash {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], r.Nonce)
	return crypto.Keccak256Hash(
		r.From.Bytes(),
		r.To.Bytes(),
		[]byte(r.Value.String()),
		nonce[:],
	)
}

// SimulationResult is the outcome of a dry-run submission.
type SimulationResult struct {
	Success     bool
	GasEstimate uint64
	Error       string
}

// ConfirmationResult is the outcome of waiting for on-chain confirmation.
type ConfirmationResult struct {
	Success     bool
	BlockNumber uint64
	GasUsed     uint64
	Error       string
}

// Submitter is the boundary to the transaction submission service. Each
// call models one network round trip; implementations must honour context
// cancellation.
type Submitter interface {
	Simulate(ctx context.Context, req TxRequest) (SimulationResult, error)
	Submit(ctx context.Context, req TxRequest, tier domain.WalletTier) (common.Hash, error)
	AwaitConfirmation(ctx context.Context, txHash common.Hash, confirmations int) (ConfirmationResult, error)
}

// Signer signs a transfer request before submission. Implementations live
// in the signing package; a nil signer skips the signing stage.
type Signer interface {
	SignTransfer(req *TxRequest) error
}

// SimulatedSubmitter is the default in-process Submitter. It confirms every
// transfer deterministically and exists so the engine's control flow can run
// end to end without a chain endpoint.
type SimulatedSubmitter struct {
	block atomic.Uint64
}

// NewSimulatedSubmitter creates a SimulatedSubmitter starting at the given
// block height.
func NewSimulatedSubmitter(startBlock uint64) *SimulatedSubmitter {
	s := &SimulatedSubmitter{}
	s.block.Store(startBlock)
	return s
}

// baseTransferGas approximates the cost of a token transfer.
const baseTransferGas = 65_000

// Simulate always succeeds with a deterministic gas estimate.
func (s *SimulatedSubmitter) Simulate(ctx context.Context, req TxRequest) (SimulationResult, error) {
	if err := ctx.Err(); err != nil {
		return SimulationResult{}, fmt.Errorf("submitter: simulate %s: %w", req.TxID, err)
	}
	return SimulationResult{Success: true, GasEstimate: baseTransferGas}, nil
}

// Submit derives a deterministic transaction hash from the request digest.
func (s *SimulatedSubmitter) Submit(ctx context.Context, req TxRequest, _ domain.WalletTier) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, fmt.Errorf("submitter: submit %s: %w", req.TxID, err)
	}
	return crypto.Keccak256Hash(req.Digest().Bytes(), []byte(req.TxID)), nil
}

// AwaitConfirmation confirms immediately at the next simulated block.
func (s *SimulatedSubmitter) AwaitConfirmation(ctx context.Context, txHash common.Hash, _ int) (ConfirmationResult, error) {
	if err := ctx.Err(); err != nil {
		return ConfirmationResult{}, fmt.Errorf("submitter: confirm %s: %w", txHash, err)
	}
	return ConfirmationResult{
		Success:     true,
		BlockNumber: s.block.Add(1),
		GasUsed:     baseTransferGas,
	}, nil
}

var _ Submitter = (*SimulatedSubmitter)(nil)
