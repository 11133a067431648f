package core

import (
	"encoding/json"
	"fmt"
)

// classicEngine keeps the queue as a content-addressed set and the shared
// buffer as the gossip insertion sequence.
type classicEngine struct {
	queue  map[string]*Block
	shared []*Block
}

func newClassicEngine() *classicEngine {
	return &classicEngine{queue: make(map[string]*Block)}
}

func (e *classicEngine) mode() Mode { return Classic }

// submit is idempotent: resubmitting a block with the same content address
// is a no-op.
func (e *classicEngine) submit(b *Block) {
	hash := b.Hash()
	if _, ok := e.queue[hash]; !ok {
		e.queue[hash] = b
	}
}

func (e *classicEngine) accept(b *Block, _ int) {
	e.shared = append(e.shared, b)
}

func (e *classicEngine) gossip(s *Storage) {
	for _, b := range e.snapshot() {
		hash := b.Hash()
		if !s.validate(b) {
			b.SetApproved(false)
			s.deliverRejected(b)
			delete(e.queue, hash)
			continue
		}
		b.SetApproved(true)
		s.broadcast(b, 1)
	}
}

func (e *classicEngine) commit(s *Storage, iter int) error {
	if len(e.shared) == 0 {
		return nil
	}
	blocks := e.shared
	e.shared = nil
	sortBlocks(blocks)
	round := newRound()
	var firstErr error
	for _, b := range blocks {
		committed, err := s.insertBlock(b, round, iter)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		// A conflicting block is not committed: it stays queued and is
		// reconsidered next round.
		if committed {
			delete(e.queue, b.Hash())
		}
	}
	return firstErr
}

func (e *classicEngine) queueLen() int  { return len(e.queue) }
func (e *classicEngine) sharedLen() int { return len(e.shared) }

// snapshot returns the queued blocks in commit order. Gossip mutates the
// queue while iterating, so it never ranges over the live map.
func (e *classicEngine) snapshot() []*Block {
	blocks := make([]*Block, 0, len(e.queue))
	for _, b := range e.queue {
		blocks = append(blocks, b)
	}
	sortBlocks(blocks)
	return blocks
}

func (e *classicEngine) marshalQueue() (json.RawMessage, error) {
	list := make([]json.RawMessage, 0, len(e.queue))
	for _, b := range e.snapshot() {
		data, err := b.Encode()
		if err != nil {
			return nil, err
		}
		list = append(list, data)
	}
	return json.Marshal(list)
}

func (e *classicEngine) unmarshalQueue(raw json.RawMessage) error {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("classic queue: %w", err)
	}
	e.queue = make(map[string]*Block, len(list))
	for _, data := range list {
		b, err := DecodeBlock(data)
		if err != nil {
			return err
		}
		e.queue[b.Hash()] = b
	}
	return nil
}
