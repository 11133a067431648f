package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrNotInited is returned when a participant operates before its home
// storage has attached it to the mesh.
var ErrNotInited = errors.New("participant is not attached to a storage node")

// User is a participant: it owns one linear chain inside the mesh, signs
// transactions and receives committed blocks from its home storage node.
type User struct {
	mode  Mode
	store BlockStore
	addr  string
	sign  string
	stg   *Storage
	log   *logrus.Entry

	head       string
	blockCount int
	inited     bool
	// generationAllowed gates Modified-mode participants to one
	// uncommitted submission at a time.
	generationAllowed bool
}

// NewUser creates a participant and attaches it to its home storage node.
// head may be empty for a participant new to the mesh; a non-empty head
// that disagrees with the mesh record fails the attach.
func NewUser(mode Mode, store BlockStore, addr, sign string, stg *Storage,
	head string, lg *logrus.Logger) (*User, error) {
	switch mode {
	case Classic, Modified:
	default:
		return nil, fmt.Errorf("unknown mode: %q", mode)
	}
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	u := &User{
		mode:              mode,
		store:             store,
		addr:              addr,
		sign:              sign,
		stg:               stg,
		log:               lg.WithField("user", addr),
		head:              head,
		generationAllowed: mode == Modified,
	}
	if err := stg.ConnectUser(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Addr returns the participant address.
func (u *User) Addr() string { return u.addr }

// Head returns the hash of the participant's latest committed block.
func (u *User) Head() string { return u.head }

// BlockCount returns the number of blocks in the participant's own chain.
func (u *User) BlockCount() int { return u.blockCount }

// Storage returns the participant's home storage node.
func (u *User) Storage() *Storage { return u.stg }

// GenerationAllowed reports whether a Modified-mode participant may submit.
func (u *User) GenerationAllowed() bool { return u.generationAllowed }

// ChangeStorage re-homes the participant on another available node.
func (u *User) ChangeStorage(next *Storage) error {
	if !next.Available() {
		return fmt.Errorf("%w: %s", ErrUnavailable, next.ID())
	}
	if err := u.stg.DisconnectUser(u); err != nil {
		return err
	}
	u.stg = next
	return next.ConnectUser(u)
}

// SignTx adds this participant's signature to the transaction and returns
// the participant's current head.
func (u *User) SignTx(tx *Transaction) (string, error) {
	if !u.inited {
		return "", ErrNotInited
	}
	tx.AddSign(u.addr, u.sign)
	return u.head, nil
}

// Perform runs the interaction phase: build a transaction to the given
// receivers, resolve them through the home storage, collect their
// signatures by calling each receiver's SignTx, wrap the
// result in a timestamped block and submit it. A transient condition (home
// or receiver home unavailable, Modified throttle engaged) returns
// (nil, nil) so the caller can retry later.
func (u *User) Perform(receivers []string, data map[string]any) (*Block, error) {
	if !u.inited {
		return nil, ErrNotInited
	}
	if !u.stg.Available() {
		u.log.Info("home storage unavailable, cannot perform")
		return nil, nil
	}
	if u.mode == Modified && !u.generationAllowed {
		return nil, nil
	}

	tx := NewTransaction(u.addr, u.sign, receivers, data)
	users, err := u.stg.GetUsers(receivers)
	if err != nil {
		return nil, err
	}
	for i, recv := range users {
		if recv == nil {
			u.log.WithField("receiver", receivers[i]).
				Info("receiver home unavailable, aborting")
			return nil, nil
		}
	}
	for _, recv := range users {
		if _, err := recv.SignTx(tx); err != nil {
			return nil, fmt.Errorf("receiver %s sign: %w", recv.addr, err)
		}
	}

	b := NewBlock(tx, u.stg.Time())
	if err := u.stg.AddNewBlock(b); err != nil {
		return nil, err
	}
	if u.mode == Modified {
		// Every receiver's home node queues the block too; the quorum
		// rule needs one submission per participant home.
		for _, recv := range users {
			if err := recv.stg.AddNewBlock(b.Clone()); err != nil {
				return nil, err
			}
		}
		u.generationAllowed = false
	}
	return b, nil
}

// ReceiveFromStorage completes a commit for this participant: an approved
// block that passes the chain check is persisted and becomes the new head.
// A rejected block changes nothing. In Modified mode a committed block
// re-enables generation for its sender.
func (u *User) ReceiveFromStorage(b *Block) error {
	if !b.IsApproved() {
		return nil
	}
	ok, err := u.CheckChain(b)
	if err != nil {
		return err
	}
	if !ok {
		u.log.WithField("block", b.Hash()).Info("chain incomplete, block refused")
		return nil
	}
	hash := b.Hash()
	if err := u.store.PutBlock(hash, b); err != nil {
		return fmt.Errorf("persist block %s: %w", hash, err)
	}
	u.head = hash
	u.blockCount++
	if u.mode == Modified && b.Sender() == u.addr {
		u.generationAllowed = true
	}
	return nil
}

// CheckChain verifies that the block links onto this participant's chain
// and that the whole chain down to genesis is readable. A missing block
// file refuses the commit (false, nil); a parent that disagrees with the
// local head is corruption and returns an error.
func (u *User) CheckChain(b *Block) (bool, error) {
	if parent := b.Parents[u.addr]; parent != u.head {
		return false, fmt.Errorf("chain check: block parent %s != local head %s", parent, u.head)
	}
	for hash := u.head; hash != GenesisBlock; {
		blk, err := u.store.GetBlock(hash)
		if err != nil {
			return false, nil
		}
		hash = blk.Parents[u.addr]
	}
	return true, nil
}

// IndexBlocks walks the participant's own chain from head to genesis and
// returns the visited hashes, genesis included.
func (u *User) IndexBlocks() ([]string, error) {
	index := []string{GenesisBlock}
	for hash := u.head; hash != GenesisBlock; {
		b, err := u.store.GetBlock(hash)
		if err != nil {
			return nil, fmt.Errorf("index block %s: %w", hash, err)
		}
		index = append(index, hash)
		hash = b.Parents[u.addr]
	}
	return index, nil
}

// userState is the HEAD record of a participant.
type userState struct {
	Head string `json:"head"`
	Addr string `json:"addr"`
	Sign string `json:"sign"`
	Mode Mode   `json:"mode"`
}

// Save writes the participant state to its HEAD record.
func (u *User) Save() error {
	if !u.inited || u.head == "" {
		return fmt.Errorf("cannot save participant %s: not attached", u.addr)
	}
	data, err := json.Marshal(userState{Head: u.head, Addr: u.addr, Sign: u.sign, Mode: u.mode})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return u.store.PutHead(data)
}

// LoadUser restores a participant from its HEAD record and attaches it to
// stg. The chain is walked to recover the block count.
func LoadUser(store BlockStore, stg *Storage, lg *logrus.Logger) (*User, error) {
	data, err := store.GetHead()
	if err != nil {
		return nil, fmt.Errorf("read HEAD: %w", err)
	}
	var state userState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse HEAD: %w", err)
	}
	u, err := NewUser(state.Mode, store, state.Addr, state.Sign, stg, state.Head, lg)
	if err != nil {
		return nil, err
	}
	index, err := u.IndexBlocks()
	if err != nil {
		return nil, err
	}
	u.blockCount = len(index) - 1 // genesis is not a block of the chain
	return u, nil
}
