// ./internal/state/receipts_store.go
package state

import (
	"encoding/json"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stablefoundry/dsce/internal/types"
)

// ReceiptStore adapts the package functions to the engine's receipt interface.
type ReceiptStore struct{}

func (ReceiptStore) SaveOperationReceipt(receipt types.OperationReceipt) (int64, error) {
	return SaveOperationReceipt(receipt)
}

func (ReceiptStore) GetRecentReceipts(limit int) ([]types.OperationReceipt, error) {
	return GetRecentReceipts(limit)
}

// SaveOperationReceipt persists the structured record of one completed operation.
func SaveOperationReceipt(receipt types.OperationReceipt) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	instructionsJSON, err := json.Marshal(receipt.Instructions)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal instructions: %w", err)
	}

	var detailJSON []byte
	if receipt.Detail != nil {
		detailJSON, err = json.Marshal(receipt.Detail)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal detail: %w", err)
		}
	}

	ts := receipt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	stmt := `
		INSERT INTO operation_receipts (
			operation_id, action, account, asset, amount, height,
			operation_timestamp, instructions, detail
		) VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8, $9)
		RETURNING receipt_id;`

	var receiptID int64
	err = DB.QueryRow(
		stmt,
		receipt.OperationID, receipt.Action, receipt.Account, receipt.Asset,
		receipt.Amount.String(), receipt.Height, ts, instructionsJSON, detailJSON,
	).Scan(&receiptID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert operation receipt: %w", err)
	}

	ledgerLogger.Debug().
		Int64("receiptID", receiptID).
		Str("operationID", receipt.OperationID).
		Str("action", receipt.Action).
		Msg("Saved operation receipt")
	return receiptID, nil
}

// GetRecentReceipts returns up to limit receipts, newest first.
func GetRecentReceipts(limit int) ([]types.OperationReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT receipt_id, operation_id, action, account, COALESCE(asset, ''),
		       amount, height, operation_timestamp, instructions, detail
		FROM operation_receipts
		ORDER BY operation_timestamp DESC, receipt_id DESC
		LIMIT $1;`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.OperationReceipt
	for rows.Next() {
		var (
			receipt          types.OperationReceipt
			amountStr        string
			instructionsJSON []byte
			detailJSON       []byte
		)
		err := rows.Scan(
			&receipt.ReceiptID, &receipt.OperationID, &receipt.Action, &receipt.Account, &receipt.Asset,
			&amountStr, &receipt.Height, &receipt.Timestamp, &instructionsJSON, &detailJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation receipt: %w", err)
		}

		amount, ok := sdkmath.NewIntFromString(amountStr)
		if !ok {
			return nil, fmt.Errorf("stored receipt amount is not a valid integer: %q", amountStr)
		}
		receipt.Amount = amount

		if err := json.Unmarshal(instructionsJSON, &receipt.Instructions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal receipt instructions: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &receipt.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal receipt detail: %w", err)
			}
		}

		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operation receipts: %w", err)
	}

	return receipts, nil
}
