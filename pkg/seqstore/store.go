// Package seqstore persists per-session sequence numbers across process
// restarts, keyed by the (sender, target) identity pair. A record carries the
// calendar date it was written; a record from a previous day is ignored so
// sequences restart at 1 each trading day.
package seqstore

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"
)

// DateLayout renders the calendar date stored in every record.
const DateLayout = "20060102"

// Record is the persisted state for one (sender, target) pair. SeqNum is the
// next outbound sequence number, not the last one used.
type Record struct {
	Date   string `json:"date"`
	SeqNum uint64 `json:"msgseqnum"`
}

// Store reads and writes session records. One record per identity pair; the
// lifecycle manager touches it exactly twice, at session start and at
// termination.
type Store struct {
	db  database.Database
	log log.Logger
}

// New wraps an already opened database.
func New(db database.Database, logger log.Logger) *Store {
	return &Store{db: db, log: logger}
}

// Open creates a BadgerDB-backed store under dataDir, falling back to an
// in-memory database when the directory cannot host one.
func Open(dataDir string, logger log.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbManager := manager.NewManager(dataDir, nil)

	dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
	dbConfig.Namespace = "fix"

	db, err := dbManager.New(dbConfig)
	if err != nil {
		logger.Warn("Failed to open BadgerDB", "error", err)
		memConfig := manager.DefaultMemoryConfig()
		db, err = dbManager.New(memConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		logger.Info("Using in-memory sequence store")
	} else {
		logger.Info("Sequence store opened", "path", dataDir)
	}

	return &Store{db: db, log: logger}, nil
}

func sessionKey(sender, target string) []byte {
	return []byte(sender + "-" + target)
}

// Load returns the next outbound sequence number for the pair. A missing or
// unreadable record, or one written on a different calendar day, yields 1.
func (s *Store) Load(sender, target string, now time.Time) uint64 {
	val, err := s.db.Get(sessionKey(sender, target))
	if err != nil {
		if err == database.ErrNotFound {
			s.log.Info("No previous session state, starting at 1", "sender", sender, "target", target)
		} else {
			s.log.Warn("Failed to read session state, starting at 1", "error", err)
		}
		return 1
	}

	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		s.log.Warn("Corrupt session record, starting at 1", "error", err)
		return 1
	}

	today := now.UTC().Format(DateLayout)
	if rec.Date != today {
		s.log.Info("Session record from another day, starting at 1",
			"recordDate", rec.Date, "today", today)
		return 1
	}

	s.log.Info("Loaded session state", "sender", sender, "target", target, "seqNum", rec.SeqNum)
	return rec.SeqNum
}

// Save writes the record for the pair, stamping today's date.
func (s *Store) Save(sender, target string, seqNum uint64, now time.Time) error {
	rec := Record{
		Date:   now.UTC().Format(DateLayout),
		SeqNum: seqNum,
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.db.Put(sessionKey(sender, target), val); err != nil {
		return fmt.Errorf("failed to persist session state: %w", err)
	}
	s.log.Info("Persisted session state", "sender", sender, "target", target,
		"seqNum", seqNum, "date", rec.Date)
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
