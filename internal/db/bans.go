package db

import (
	"github.com/rs/zerolog/log"
)

// BanStore persists the server-wide /24 ban list. It satisfies the
// abuse.BanStore interface so the in-memory list mirrors every mutation
// here.
type BanStore struct {
	db *Database
}

// NewBanStore wraps an open database.
func NewBanStore(database *Database) *BanStore {
	return &BanStore{db: database}
}

// LoadBans returns every banned block, oldest first.
func (s *BanStore) LoadBans() ([]string, error) {
	rows, err := s.db.Query(`SELECT block FROM bans ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []string
	for rows.Next() {
		var block string
		if err := rows.Scan(&block); err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, rows.Err()
}

// AddBan inserts a block; re-banning an existing block is a no-op.
func (s *BanStore) AddBan(block string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO bans (block) VALUES (?)`, block)
	if err == nil {
		log.Debug().Str("block", block).Msg("ban persisted")
	}
	return err
}

// RemoveBan deletes a block.
func (s *BanStore) RemoveBan(block string) error {
	_, err := s.db.Exec(`DELETE FROM bans WHERE block = ?`, block)
	return err
}
