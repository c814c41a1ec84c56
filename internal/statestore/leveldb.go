package statestore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	ldberr "github.com/syndtr/goleveldb/leveldb/errors"
)

// LevelDB is the on-disk Storer.
type LevelDB struct {
	db     *leveldb.DB
	logger *logrus.Logger
}

var _ Storer = (*LevelDB)(nil)

// NewLevelDB opens (or creates) the store at path, attempting recovery
// if the store was corrupted by an unclean shutdown.
func NewLevelDB(path string, logger *logrus.Logger) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		if !ldberr.IsCorrupted(err) {
			return nil, fmt.Errorf("statestore open: %w", err)
		}
		logger.Warnf("statestore open failed, attempting recovery: %v", err)
		db, err = leveldb.RecoverFile(path, nil)
		if err != nil {
			return nil, fmt.Errorf("statestore recovery: %w", err)
		}
		logger.Warn("statestore recovery done")
	}

	return &LevelDB{db: db, logger: logger}, nil
}

func (s *LevelDB) Get(key string, v any) error {
	data, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *LevelDB) Put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(key), data, nil)
}

func (s *LevelDB) Delete(key string) error {
	return s.db.Delete([]byte(key), nil)
}

func (s *LevelDB) Close() error {
	return s.db.Close()
}
