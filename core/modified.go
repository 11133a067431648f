package core

import (
	"encoding/json"
	"fmt"
)

// countedBlock pairs a block with the number of submissions (queue) or the
// accumulated gossip count (shared) observed for its content address.
type countedBlock struct {
	block *Block
	count int
}

// modifiedEngine counts submissions per block and withholds commits until
// every home storage node has gossiped the block (the quorum rule).
type modifiedEngine struct {
	queue  map[string]*countedBlock
	shared map[string]*countedBlock
}

func newModifiedEngine() *modifiedEngine {
	return &modifiedEngine{
		queue:  make(map[string]*countedBlock),
		shared: make(map[string]*countedBlock),
	}
}

func (e *modifiedEngine) mode() Mode { return Modified }

// submit increments the submission count; the sender's home node and every
// receiver's home node each contribute one.
func (e *modifiedEngine) submit(b *Block) {
	hash := b.Hash()
	if entry, ok := e.queue[hash]; ok {
		entry.count++
		return
	}
	e.queue[hash] = &countedBlock{block: b, count: 1}
}

func (e *modifiedEngine) accept(b *Block, count int) {
	hash := b.Hash()
	if entry, ok := e.shared[hash]; ok {
		entry.count += count
		return
	}
	e.shared[hash] = &countedBlock{block: b, count: count}
}

// gossip broadcasts at most |users| distinct blocks per invocation: a node
// never floods the mesh faster than its homed participants can produce.
func (e *modifiedEngine) gossip(s *Storage) {
	toSend := len(s.users)
	for _, entry := range e.snapshot() {
		if toSend == 0 {
			break
		}
		b := entry.block
		if !s.validate(b) {
			b.SetApproved(false)
			s.deliverRejected(b)
			delete(e.queue, b.Hash())
			continue
		}
		b.SetApproved(true)
		s.broadcast(b, entry.count)
		toSend--
	}
}

func (e *modifiedEngine) commit(s *Storage, iter int) error {
	if len(e.shared) == 0 {
		return nil
	}
	entries := make([]*countedBlock, 0, len(e.shared))
	for _, entry := range e.shared {
		entries = append(entries, entry)
	}
	e.shared = make(map[string]*countedBlock)
	sortCounted(entries)
	round := newRound()
	var firstErr error
	for _, entry := range entries {
		b := entry.block
		// Quorum rule: every participant's home storage must have
		// gossiped the block. Until then it stays queued, not dropped.
		if entry.count != len(b.Participants()) {
			continue
		}
		committed, err := s.insertBlock(b, round, iter)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if committed {
			delete(e.queue, b.Hash())
		}
	}
	return firstErr
}

func (e *modifiedEngine) queueLen() int {
	total := 0
	for _, entry := range e.queue {
		total += entry.count
	}
	return total
}

func (e *modifiedEngine) sharedLen() int { return len(e.shared) }

func (e *modifiedEngine) snapshot() []*countedBlock {
	entries := make([]*countedBlock, 0, len(e.queue))
	for _, entry := range e.queue {
		entries = append(entries, entry)
	}
	sortCounted(entries)
	return entries
}

func sortCounted(entries []*countedBlock) {
	blocks := make([]*Block, len(entries))
	byHash := make(map[string]*countedBlock, len(entries))
	for i, entry := range entries {
		blocks[i] = entry.block
		byHash[entry.block.Hash()] = entry
	}
	sortBlocks(blocks)
	for i, b := range blocks {
		entries[i] = byHash[b.Hash()]
	}
}

// The HEAD record stores the modified queue as serialized-block → count.
func (e *modifiedEngine) marshalQueue() (json.RawMessage, error) {
	m := make(map[string]int, len(e.queue))
	for _, entry := range e.queue {
		data, err := entry.block.Encode()
		if err != nil {
			return nil, err
		}
		m[string(data)] = entry.count
	}
	return json.Marshal(m)
}

func (e *modifiedEngine) unmarshalQueue(raw json.RawMessage) error {
	var m map[string]int
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("modified queue: %w", err)
	}
	e.queue = make(map[string]*countedBlock, len(m))
	for data, count := range m {
		b, err := DecodeBlock([]byte(data))
		if err != nil {
			return err
		}
		e.queue[b.Hash()] = &countedBlock{block: b, count: count}
	}
	return nil
}
