// Package core implements the blockmesh: per-participant linear chains
// woven together by multi-party blocks, coordinated by storage nodes that
// queue, gossip and commit blocks in a two-phase protocol.
package core

import (
	"encoding/json"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/iturovskiy/blockmesh/events"
	"github.com/iturovskiy/blockmesh/timeserver"
)

// blockCacheSize bounds the in-memory cache in front of the block store.
const blockCacheSize = 512

var (
	// ErrUnavailable is returned when a disabled node is asked to work.
	ErrUnavailable = errors.New("storage node is disabled")
	// ErrAlreadyJoined is returned on a second JoinMesh call.
	ErrAlreadyJoined = errors.New("storage node already joined a mesh")
	// ErrHeadMismatch is returned when a connecting participant supplies a
	// head that disagrees with the mesh record.
	ErrHeadMismatch = errors.New("participant head differs from mesh record")
	// ErrCorrupted is returned when the local block index disagrees with a
	// peer after a refresh. The node marks itself unavailable.
	ErrCorrupted = errors.New("local blockmesh state is corrupt")
)

// Storage is a coordinator node. It homes participants, holds the pending
// queue and shared gossip buffer of its consensus engine, replicates the
// mesh head table and drives the two-phase commit.
type Storage struct {
	id       string
	engine   engine
	store    BlockStore
	timesrv  timeserver.Source
	validate ValidateFunc
	emitter  *events.Emitter
	log      *logrus.Entry

	peers      []*Storage
	users      map[string]*User
	blockMesh  map[string]string // participant address → head hash
	blockCount int               // includes the genesis sentinel
	available  bool
	cache      *lru.Cache[string, *Block]
}

// NewStorage creates an available storage node with an empty mesh.
// A nil validate falls back to DefaultValidate, a nil logger to the logrus
// standard logger. The emitter may be nil when nothing subscribes.
func NewStorage(id string, mode Mode, store BlockStore, ts timeserver.Source,
	validate ValidateFunc, emitter *events.Emitter, lg *logrus.Logger) (*Storage, error) {
	eng, err := newEngine(mode)
	if err != nil {
		return nil, err
	}
	if validate == nil {
		validate = DefaultValidate
	}
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	cache, err := lru.New[string, *Block](blockCacheSize)
	if err != nil {
		return nil, err
	}
	return &Storage{
		id:         id,
		engine:     eng,
		store:      store,
		timesrv:    ts,
		validate:   validate,
		emitter:    emitter,
		log:        lg.WithField("node", id),
		users:      make(map[string]*User),
		blockMesh:  make(map[string]string),
		blockCount: 1, // genesis
		available:  true,
		cache:      cache,
	}, nil
}

// ID returns the node identity used for logging and peer registries.
func (s *Storage) ID() string { return s.id }

// Mode returns the consensus variant this node runs.
func (s *Storage) Mode() Mode { return s.engine.mode() }

// Available reports whether the node currently accepts work.
func (s *Storage) Available() bool { return s.available }

// BlockCount returns the number of known blocks including genesis.
func (s *Storage) BlockCount() int { return s.blockCount }

// QueueLen returns the number of pending submissions.
func (s *Storage) QueueLen() int { return s.engine.queueLen() }

// GlobalParticipants returns the number of participants in the whole mesh.
func (s *Storage) GlobalParticipants() int { return len(s.blockMesh) }

// LocalParticipants returns the number of participants homed on this node.
func (s *Storage) LocalParticipants() int { return len(s.users) }

// Time returns the current timestamp from the node's time source.
func (s *Storage) Time() int64 { return s.timesrv.Now() }

// Heads returns a copy of the mesh head table.
func (s *Storage) Heads() map[string]string {
	heads := make(map[string]string, len(s.blockMesh))
	for addr, h := range s.blockMesh {
		heads[addr] = h
	}
	return heads
}

// Head returns the recorded head for a participant address.
func (s *Storage) Head(addr string) (string, bool) {
	h, ok := s.blockMesh[addr]
	return h, ok
}

// JoinMesh attaches this node to the mesh other belongs to. Peer lists are
// unioned symmetrically so the mesh stays fully connected, then the local
// block set is refreshed from the first available peer.
func (s *Storage) JoinMesh(other *Storage) error {
	if len(s.peers) > 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyJoined, s.id)
	}
	s.peers = append(s.peers, other)
	s.peers = append(s.peers, other.peers...)
	for _, p := range s.peers {
		p.peers = append(p.peers, s)
	}
	return s.RefreshBlocks()
}

// Peers returns the sibling storage nodes.
func (s *Storage) Peers() []*Storage { return s.peers }

// Disable stops the node from accepting submissions, gossip and commits.
func (s *Storage) Disable() {
	s.available = false
}

// Enable refreshes the local block set from a peer first and only then
// resumes work; a node that missed commits while disabled must not rejoin
// with stale heads.
func (s *Storage) Enable() error {
	if s.available {
		return nil
	}
	if err := s.RefreshBlocks(); err != nil {
		return err
	}
	s.available = true
	return nil
}

// AddNewBlock accepts a block for consensus processing.
func (s *Storage) AddNewBlock(b *Block) error {
	if !s.available {
		return fmt.Errorf("%w: %s", ErrUnavailable, s.id)
	}
	s.engine.submit(b)
	return nil
}

// PerformStep1 runs the gossip phase: queued blocks are validated and the
// approved ones broadcast to every available peer's shared buffer.
// A disabled node skips the round silently.
func (s *Storage) PerformStep1() {
	if !s.available {
		return
	}
	s.engine.gossip(s)
}

// PerformStep2 runs the commit phase for round iter: the shared buffer is
// drained in (timestamp, hash) order, conflicting blocks are deferred and
// the rest are woven into the mesh. Delivery errors surface after the
// drain completes.
func (s *Storage) PerformStep2(iter int) error {
	if !s.available {
		return nil
	}
	return s.engine.commit(s, iter)
}

// ConnectUser registers a participant on this node. A participant new to
// the whole mesh starts at the genesis head on every peer; a known one has
// its head overwritten with the mesh record. A non-empty head that
// disagrees with the mesh record is a hard error.
func (s *Storage) ConnectUser(u *User) error {
	if head, known := s.blockMesh[u.addr]; known {
		if u.head != "" && u.head != head {
			return fmt.Errorf("%w: %s has %s, mesh has %s", ErrHeadMismatch, u.addr, u.head, head)
		}
		u.head = head
	} else {
		s.blockMesh[u.addr] = GenesisBlock
		for _, p := range s.peers {
			p.blockMesh[u.addr] = GenesisBlock
		}
		u.head = GenesisBlock
	}
	s.users[u.addr] = u
	u.inited = true
	s.log.WithField("user", u.addr).Debug("participant connected")
	return nil
}

// DisconnectUser removes a participant from this node.
func (s *Storage) DisconnectUser(u *User) error {
	if _, ok := s.users[u.addr]; !ok {
		return fmt.Errorf("participant %s is not homed on %s", u.addr, s.id)
	}
	delete(s.users, u.addr)
	return nil
}

// GetUsers resolves participant addresses to their User nodes, consulting
// this node first and then the peers. The result is positional: an entry is
// nil when the participant's home node is currently unavailable. An address
// no node claims is an error.
func (s *Storage) GetUsers(addrs []string) ([]*User, error) {
	if !s.available {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, s.id)
	}
	if len(addrs) == 0 {
		return nil, errors.New("no participant addresses given")
	}
	result := make([]*User, len(addrs))
	for i, addr := range addrs {
		u, err := s.requestUser(addr)
		if err != nil {
			return nil, err
		}
		result[i] = u
	}
	return result, nil
}

func (s *Storage) requestUser(addr string) (*User, error) {
	if u, ok := s.users[addr]; ok {
		return u, nil
	}
	someDown := false
	for _, p := range s.peers {
		if !p.available {
			someDown = true
			continue
		}
		if u, ok := p.users[addr]; ok {
			return u, nil
		}
	}
	if someDown {
		// The home node may be among the unavailable peers; the caller
		// retries later.
		return nil, nil
	}
	return nil, fmt.Errorf("no storage node homes participant %s", addr)
}

// LoadBlock reads a block by content address, via the LRU cache.
func (s *Storage) LoadBlock(hash string) (*Block, error) {
	if b, ok := s.cache.Get(hash); ok {
		return b, nil
	}
	b, err := s.store.GetBlock(hash)
	if err != nil {
		return nil, err
	}
	s.cache.Add(hash, b)
	return b, nil
}

// IndexBlocks walks the mesh from every head in the head table and returns
// the set of reachable block hashes, genesis sentinel included.
func (s *Storage) IndexBlocks() (mapset.Set[string], error) {
	index := mapset.NewThreadUnsafeSet(GenesisBlock)
	queue := make([]string, 0, len(s.blockMesh))
	for _, head := range s.blockMesh {
		queue = append(queue, head)
	}
	for len(queue) > 0 {
		hash := queue[0]
		queue = queue[1:]
		if hash == "" || index.Contains(hash) {
			continue
		}
		b, err := s.LoadBlock(hash)
		if err != nil {
			return nil, fmt.Errorf("index block %s: %w", hash, err)
		}
		for _, parent := range b.Parents {
			queue = append(queue, parent)
		}
		index.Add(hash)
	}
	return index, nil
}

// RefreshBlocks reconciles the local block set with the first available
// peer: missing blocks are fetched, the peer's head table is adopted, and
// the resulting index must equal the peer's. On mismatch the node marks
// itself unavailable and reports corruption. With no peer reachable the
// node keeps its current state and only logs a warning.
func (s *Storage) RefreshBlocks() error {
	selfIndex, err := s.IndexBlocks()
	if err != nil {
		return err
	}
	var peer *Storage
	var peerIndex mapset.Set[string]
	for _, p := range s.peers {
		if p.available {
			peerIndex, err = p.IndexBlocks()
			if err != nil {
				return fmt.Errorf("peer %s index: %w", p.id, err)
			}
			peer = p
			break
		}
	}
	if peer == nil {
		s.log.Warn("unable to refresh blocks: no available peer")
		return nil
	}
	if selfIndex.Equal(peerIndex) {
		return nil
	}
	check := peerIndex.Clone()
	for hash := range peerIndex.Difference(selfIndex).Iter() {
		b, err := peer.LoadBlock(hash)
		if err != nil {
			return fmt.Errorf("fetch block %s from %s: %w", hash, peer.id, err)
		}
		if err := s.store.PutBlock(hash, b); err != nil {
			return fmt.Errorf("save block %s: %w", hash, err)
		}
	}
	s.blockMesh = peer.Heads()
	selfIndex, err = s.IndexBlocks()
	if err != nil {
		return err
	}
	if !check.Equal(selfIndex) {
		s.available = false
		return fmt.Errorf("%w: local index %d blocks, peer index %d", ErrCorrupted,
			selfIndex.Cardinality(), check.Cardinality())
	}
	s.blockCount = selfIndex.Cardinality()
	s.emit(events.Event{Type: events.EventMeshRefreshed, Node: s.id,
		Data: map[string]any{"peer": peer.id, "blocks": s.blockCount}})
	s.log.WithFields(logrus.Fields{"peer": peer.id, "blocks": s.blockCount}).
		Info("mesh refreshed")
	return nil
}

// broadcast appends an approved block to the local shared buffer and hands
// clones to every available peer. Unavailable peers are skipped; they catch
// up through RefreshBlocks when re-enabled.
func (s *Storage) broadcast(b *Block, count int) {
	s.engine.accept(b, count)
	for _, p := range s.peers {
		if p.available {
			p.engine.accept(b.Clone(), count)
		}
	}
}

// newRound returns the per-round set of already-committed participants.
func newRound() mapset.Set[string] {
	return mapset.NewThreadUnsafeSet[string]()
}

// insertBlock weaves one candidate into the mesh during step 2. It returns
// false when the block shares a participant with one already committed this
// round; such a block stays queued for the next round. A failure to persist
// the block returns false with the error; an error returned with true is a
// delivery failure after the block was committed.
func (s *Storage) insertBlock(b *Block, round mapset.Set[string], iter int) (bool, error) {
	participants := b.Participants()
	for _, p := range participants {
		if round.Contains(p) {
			return false, nil
		}
	}
	round.Append(participants...)

	parents := make(map[string]string, len(participants))
	for _, p := range participants {
		head, ok := s.blockMesh[p]
		if !ok {
			head = GenesisBlock
		}
		parents[p] = head
	}
	b.Parents = parents
	b.OnIter = iter
	hash := b.Hash()
	if err := s.store.PutBlock(hash, b); err != nil {
		return false, fmt.Errorf("persist block %s: %w", hash, err)
	}
	s.cache.Add(hash, b)

	var firstErr error
	for _, p := range participants {
		s.blockMesh[p] = hash
		if u, ok := s.users[p]; ok {
			if err := u.ReceiveFromStorage(b); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	s.blockCount++
	s.emit(events.Event{Type: events.EventBlockCommitted, Node: s.id,
		BlockHash: hash, Participants: participants, Round: iter})
	s.log.WithFields(logrus.Fields{"block": hash, "round": iter}).Debug("block committed")
	return true, firstErr
}

// deliverRejected notifies the sender that its block failed validation.
// The sender may be homed elsewhere (Modified queues blocks at receiver
// homes too); only the sender's own home delivers the verdict.
func (s *Storage) deliverRejected(b *Block) {
	s.emit(events.Event{Type: events.EventBlockRejected, Node: s.id,
		BlockHash: b.Hash(), Participants: b.Participants()})
	u, ok := s.users[b.Sender()]
	if !ok {
		s.log.WithField("sender", b.Sender()).Warn("rejected block sender not homed here")
		return
	}
	if err := u.ReceiveFromStorage(b); err != nil {
		s.log.WithError(err).Warn("deliver rejected block")
	}
}

func (s *Storage) emit(ev events.Event) {
	if s.emitter != nil {
		s.emitter.Emit(ev)
	}
}

// storageState is the HEAD record of a storage node.
type storageState struct {
	Mode      Mode              `json:"mode"`
	Heads     map[string]string `json:"heads"`
	Available bool              `json:"available"`
	Queue     json.RawMessage   `json:"queue"`
	Blocks    int               `json:"blocks"`
}

// SaveState writes the node state to its HEAD record. Shared buffers are
// deliberately not persisted: gossip is repeated from the queue after a
// restart.
func (s *Storage) SaveState() error {
	queue, err := s.engine.marshalQueue()
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}
	data, err := json.Marshal(storageState{
		Mode:      s.engine.mode(),
		Heads:     s.blockMesh,
		Available: s.available,
		Queue:     queue,
		Blocks:    s.blockCount,
	})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return s.store.PutHead(data)
}

// LoadStorage restores a storage node from its HEAD record. peers and users
// re-link the node into an existing mesh: peer lists are extended
// symmetrically the way JoinMesh does. A block count that disagrees with
// the reachable index is logged, not fatal; a RefreshBlocks that fetches
// blocks from a peer resets the count to the index size, while one that
// finds the indexes already equal leaves it as loaded.
func LoadStorage(id string, store BlockStore, ts timeserver.Source,
	validate ValidateFunc, emitter *events.Emitter, lg *logrus.Logger,
	peers []*Storage, users map[string]*User) (*Storage, error) {
	data, err := store.GetHead()
	if err != nil {
		return nil, fmt.Errorf("read HEAD: %w", err)
	}
	var state storageState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse HEAD: %w", err)
	}
	s, err := NewStorage(id, state.Mode, store, ts, validate, emitter, lg)
	if err != nil {
		return nil, err
	}
	if state.Heads != nil {
		s.blockMesh = state.Heads
	}
	if err := s.engine.unmarshalQueue(state.Queue); err != nil {
		return nil, err
	}
	s.blockCount = state.Blocks
	s.available = state.Available
	index, err := s.IndexBlocks()
	if err != nil {
		return nil, err
	}
	if index.Cardinality() != s.blockCount {
		s.log.WithFields(logrus.Fields{"indexed": index.Cardinality(), "recorded": s.blockCount}).
			Warn("block count disagrees with reachable index")
	}
	for addr, u := range users {
		s.users[addr] = u
		u.stg = s
	}
	s.peers = append(s.peers, peers...)
	for _, p := range peers {
		p.peers = append(p.peers, s)
	}
	return s, nil
}
