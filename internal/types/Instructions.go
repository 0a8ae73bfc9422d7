/*

This file contains the token-ledger instruction and operation receipt types.

Mutating operations do not move tokens themselves; they return a list of
instructions addressed to the token contracts (or the bank module for native
coins) that the caller must execute atomically with the engine's own ledger
mutations.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// InstructionKind defines the specific token-ledger operations the engine can request.
type InstructionKind string

const (
	InstructionTransfer     InstructionKind = "TRANSFER"      // token contract: Target sends Amount to To
	InstructionTransferFrom InstructionKind = "TRANSFER_FROM" // token contract: move Amount from From to To using allowance
	InstructionMint         InstructionKind = "MINT"          // stable token: mint Amount to To
	InstructionBurnFrom     InstructionKind = "BURN_FROM"     // stable token: burn Amount held by From
	InstructionBankSend     InstructionKind = "BANK_SEND"     // native coins: send Amount of Target denom to To
)

// Instruction is a single token movement the caller must execute.
type Instruction struct {
	Kind InstructionKind `json:"kind"`
	// Target is the token contract address, or the denom for bank sends.
	Target string      `json:"target"`
	From   string      `json:"from,omitempty"`
	To     string      `json:"to,omitempty"`
	Amount sdkmath.Int `json:"amount"`
}

// OperationReceipt is the structured record of one completed mutating operation.
type OperationReceipt struct {
	ReceiptID    int64             `json:"receipt_id,omitempty"` // Auto-incremented by DB
	OperationID  string            `json:"operation_id"`
	Action       string            `json:"action"`
	Account      string            `json:"account"`
	Asset        string            `json:"asset,omitempty"`
	Amount       sdkmath.Int       `json:"amount"`
	Height       int64             `json:"height"`
	Timestamp    time.Time         `json:"timestamp"`
	Instructions []Instruction     `json:"instructions"`
	Detail       map[string]string `json:"detail,omitempty"`
}
