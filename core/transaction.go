package core

import (
	"encoding/json"

	"github.com/iturovskiy/blockmesh/crypto"
)

// Transaction is the multi-party payload of a block. The sender builds it,
// every receiver adds its signature during the interaction phase, and after
// the last signature it is treated as immutable.
type Transaction struct {
	Sender     string            `json:"sender"`
	SenderSign string            `json:"sender_sign"`
	Receivers  []string          `json:"receivers"`
	Data       map[string]any    `json:"data,omitempty"`
	Signs      map[string]string `json:"signs,omitempty"` // receiver address → signature
}

// NewTransaction creates a transaction signed by the sender only.
// Receiver signatures are collected afterwards via AddSign.
func NewTransaction(sender, senderSign string, receivers []string, data map[string]any) *Transaction {
	return &Transaction{
		Sender:     sender,
		SenderSign: senderSign,
		Receivers:  receivers,
		Data:       data,
	}
}

// AddSign records a receiver's signature.
func (tx *Transaction) AddSign(addr, sign string) {
	if tx.Signs == nil {
		tx.Signs = make(map[string]string, len(tx.Receivers))
	}
	tx.Signs[addr] = sign
}

// Signed reports whether every receiver has signed.
func (tx *Transaction) Signed() bool {
	for _, r := range tx.Receivers {
		if _, ok := tx.Signs[r]; !ok {
			return false
		}
	}
	return true
}

// Hash returns the content hash of the transaction. encoding/json emits map
// keys in sorted order, so the digest is stable across processes.
// Returns an empty string if marshalling fails (which cannot happen in
// practice).
func (tx *Transaction) Hash() string {
	data, err := json.Marshal(tx)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Clone returns a deep copy of the transaction.
func (tx *Transaction) Clone() *Transaction {
	cp := &Transaction{
		Sender:     tx.Sender,
		SenderSign: tx.SenderSign,
		Receivers:  append([]string(nil), tx.Receivers...),
	}
	if tx.Data != nil {
		cp.Data = make(map[string]any, len(tx.Data))
		for k, v := range tx.Data {
			cp.Data[k] = v
		}
	}
	if tx.Signs != nil {
		cp.Signs = make(map[string]string, len(tx.Signs))
		for k, v := range tx.Signs {
			cp.Signs[k] = v
		}
	}
	return cp
}
