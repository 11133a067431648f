package core

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Mode selects the consensus variant a node runs.
type Mode string

const (
	// Classic gossips every queued block each round and commits in
	// timestamp order. Peers may diverge temporarily under asymmetric
	// gossip pacing.
	Classic Mode = "classic"
	// Modified adds the per-round fairness cap, submission counting and
	// the gossip-quorum commit rule, making commits linearizable per round.
	Modified Mode = "modified"
)

// engine is the mode-specific half of a storage node: it owns the pending
// queue and the shared gossip buffer and implements one consensus round.
// The Storage aggregate holds exactly one engine; there are no mode
// switches anywhere else.
type engine interface {
	mode() Mode
	// submit enqueues a locally submitted block.
	submit(b *Block)
	// accept records a block gossiped by this or a peering node.
	accept(b *Block, count int)
	// gossip runs step 1: validate queued blocks and broadcast approvals.
	gossip(s *Storage)
	// commit runs step 2 for round iter, fully draining the shared buffer.
	commit(s *Storage, iter int) error
	queueLen() int
	sharedLen() int
	// marshalQueue / unmarshalQueue serialize the pending queue for the
	// HEAD record.
	marshalQueue() (json.RawMessage, error)
	unmarshalQueue(raw json.RawMessage) error
}

func newEngine(m Mode) (engine, error) {
	switch m {
	case Classic:
		return newClassicEngine(), nil
	case Modified:
		return newModifiedEngine(), nil
	default:
		return nil, fmt.Errorf("unknown mode: %q", m)
	}
}

// sortBlocks orders blocks by (timestamp, hash) so that every node drains
// its shared buffer in the same order.
func sortBlocks(blocks []*Block) {
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Less(blocks[j])
	})
}
