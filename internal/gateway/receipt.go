package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mapleaiorg/accountability-core/internal/auditstore"
	"github.com/mapleaiorg/accountability-core/internal/coreerr"
)

// ReceiptStatus is the outcome recorded on a Tool Execution Receipt.
type ReceiptStatus string

const (
	Succeeded ReceiptStatus = "succeeded"
	FailedStatus ReceiptStatus = "failed"
)

// Receipt is the Tool Execution Receipt record.
type Receipt struct {
	ReceiptID  string        `json:"receipt_id"`
	ToolCallID string        `json:"tool_call_id"`
	ContractID string        `json:"contract_id"`
	CapabilityID string      `json:"capability_id"`
	Hash       string        `json:"hash"`
	Timestamp  time.Time     `json:"timestamp"`
	Status     ReceiptStatus `json:"status"`
}

// receiptHashView is the canonical payload the receipt hash covers
//: contract_id, capability_id, status, result|error,
// and an optional summary.
type receiptHashView struct {
	ContractID   string          `json:"contract_id"`
	CapabilityID string          `json:"capability_id"`
	Status       ReceiptStatus   `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	Summary      string          `json:"summary,omitempty"`
}

// computeReceiptHash is a function of content only (round-trip law §8):
// the same inputs always produce the same hash.
func computeReceiptHash(view receiptHashView) (string, error) {
	buf, err := json.Marshal(view)
	if err != nil {
		return "", coreerr.Wrap(coreerr.Serialization, "encode receipt for hashing", err)
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

func buildSuccessReceipt(toolCallID, contractID, capabilityID, summary string, resultPayload interface{}) (*Receipt, error) {
	var raw json.RawMessage
	if resultPayload != nil {
		encoded, err := json.Marshal(resultPayload)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.Serialization, "encode execution result", err)
		}
		compacted, err := auditstore.CompactPayload(encoded)
		if err != nil {
			return nil, err
		}
		raw = compacted
	}
	hash, err := computeReceiptHash(receiptHashView{
		ContractID: contractID, CapabilityID: capabilityID, Status: Succeeded, Result: raw, Summary: summary,
	})
	if err != nil {
		return nil, err
	}
	return &Receipt{
		ReceiptID: uuid.NewString(), ToolCallID: toolCallID, ContractID: contractID,
		CapabilityID: capabilityID, Hash: hash, Timestamp: time.Now(), Status: Succeeded,
	}, nil
}

func buildFailureReceipt(toolCallID, contractID, capabilityID string, execErr error) (*Receipt, error) {
	hash, err := computeReceiptHash(receiptHashView{
		ContractID: contractID, CapabilityID: capabilityID, Status: FailedStatus, Error: execErr.Error(),
	})
	if err != nil {
		return nil, err
	}
	return &Receipt{
		ReceiptID: uuid.NewString(), ToolCallID: toolCallID, ContractID: contractID,
		CapabilityID: capabilityID, Hash: hash, Timestamp: time.Now(), Status: FailedStatus,
	}, nil
}
