// Package indexer maintains a secondary index over committed blocks so
// tooling can list a participant's history without walking chains.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iturovskiy/blockmesh/core"
	"github.com/iturovskiy/blockmesh/events"
	"github.com/iturovskiy/blockmesh/storage"
)

const prefixParticipant = "idx:participant:"

// Indexer subscribes to commit events and records, per participant
// address, the hashes of the blocks that advanced its chain.
type Indexer struct {
	db  storage.DB
	log *logrus.Logger
}

// New creates an Indexer backed by db and subscribes it to emitter.
func New(db storage.DB, emitter *events.Emitter, lg *logrus.Logger) *Indexer {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	idx := &Indexer{db: db, log: lg}
	emitter.Subscribe(events.EventBlockCommitted, idx.onBlockCommitted)
	return idx
}

// BlocksByParticipant returns the committed block hashes involving addr,
// oldest first.
func (idx *Indexer) BlocksByParticipant(addr string) ([]string, error) {
	return idx.getList(prefixParticipant + addr)
}

func (idx *Indexer) onBlockCommitted(ev events.Event) {
	for _, addr := range ev.Participants {
		if err := idx.appendTo(prefixParticipant+addr, ev.BlockHash); err != nil {
			idx.log.WithError(err).WithField("participant", addr).
				Warn("index block commit")
		}
	}
}

func (idx *Indexer) appendTo(key, hash string) error {
	list, err := idx.getList(key)
	if err != nil {
		return err
	}
	for _, h := range list {
		if h == hash {
			return nil // replayed commit, already indexed
		}
	}
	list = append(list, hash)
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal index %s: %w", key, err)
	}
	return idx.db.Set([]byte(key), data)
}

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse index %s: %w", key, err)
	}
	return list, nil
}
