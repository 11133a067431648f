package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iturovskiy/blockmesh/crypto"
)

// GenesisBlock is the sentinel parent hash meaning "no block yet". It never
// names a stored block; chain walks and index scans stop at it.
const GenesisBlock = "GENESIS"

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// Block is the atomic unit of the mesh: one block advances the chains of
// every participant it involves. Parents, Approved and OnIter are filled in
// by storage nodes after creation and do not participate in the content
// address, so the same block deduplicates across queues and peers.
type Block struct {
	Tx        *Transaction      `json:"tx"`
	Timestamp int64             `json:"timestamp"`
	Parents   map[string]string `json:"parents,omitempty"` // participant address → parent hash
	Approved  *bool             `json:"approved,omitempty"`
	OnIter    int               `json:"on_iter,omitempty"` // commit round that included the block

	hash string // cached content address
}

// hashBody is the subset of fields covered by the content address.
type hashBody struct {
	Tx        *Transaction `json:"tx"`
	Timestamp int64        `json:"timestamp"`
}

// NewBlock wraps a fully signed transaction with the storage timestamp.
func NewBlock(tx *Transaction, timestamp int64) *Block {
	return &Block{Tx: tx, Timestamp: timestamp}
}

// Hash returns the content address of the block: SHA-256 over the canonical
// JSON of {tx, timestamp}. Mutating Parents, Approved or OnIter never
// changes it.
func (b *Block) Hash() string {
	if b.hash == "" {
		data, err := json.Marshal(hashBody{Tx: b.Tx, Timestamp: b.Timestamp})
		if err != nil {
			return ""
		}
		b.hash = crypto.Hash(data)
	}
	return b.hash
}

// Sender returns the address of the transaction sender.
func (b *Block) Sender() string {
	return b.Tx.Sender
}

// Participants returns sender ∪ receivers with order preserved and
// duplicates removed.
func (b *Block) Participants() []string {
	out := make([]string, 0, len(b.Tx.Receivers)+1)
	seen := make(map[string]bool, len(b.Tx.Receivers)+1)
	for _, p := range append([]string{b.Tx.Sender}, b.Tx.Receivers...) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// SetApproved sets the tri-state approval flag.
func (b *Block) SetApproved(v bool) {
	b.Approved = &v
}

// IsApproved reports whether the block has been explicitly approved.
func (b *Block) IsApproved() bool {
	return b.Approved != nil && *b.Approved
}

// IsRejected reports whether the block has been explicitly rejected.
func (b *Block) IsRejected() bool {
	return b.Approved != nil && !*b.Approved
}

// Clone returns a deep copy. Gossip hands clones to peers so that each
// storage node mutates only its own copy at commit time.
func (b *Block) Clone() *Block {
	cp := &Block{
		Tx:        b.Tx.Clone(),
		Timestamp: b.Timestamp,
		OnIter:    b.OnIter,
		hash:      b.hash,
	}
	if b.Parents != nil {
		cp.Parents = make(map[string]string, len(b.Parents))
		for k, v := range b.Parents {
			cp.Parents[k] = v
		}
	}
	if b.Approved != nil {
		v := *b.Approved
		cp.Approved = &v
	}
	return cp
}

// Encode serialises the block, including post-commit fields.
func (b *Block) Encode() ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal block: %w", err)
	}
	return data, nil
}

// DecodeBlock parses a serialised block.
func DecodeBlock(data []byte) (*Block, error) {
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("unmarshal block: %w", err)
	}
	if b.Tx == nil {
		return nil, errors.New("block has no transaction")
	}
	return &b, nil
}

// Less orders blocks for commit: timestamp ascending with the content hash
// as tie-break, so every storage node drains its shared set identically.
func (b *Block) Less(other *Block) bool {
	if b.Timestamp != other.Timestamp {
		return b.Timestamp < other.Timestamp
	}
	return b.Hash() < other.Hash()
}

// BlockStore is the persistence interface used by storage nodes and
// participants. Implementations live in the storage package: a
// file-per-block directory and a LevelDB backend.
type BlockStore interface {
	PutBlock(hash string, b *Block) error
	GetBlock(hash string) (*Block, error)
	// PutHead / GetHead persist the node's HEAD record (serialized state).
	PutHead(data []byte) error
	GetHead() ([]byte, error)
	Close() error
}
