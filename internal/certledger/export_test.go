package certledger

import "database/sql"

// Tamper edits the stored record at position in place, bypassing the
// Sequencer. It exists so tests can simulate storage-level corruption.
func (s *MemoryStore) Tamper(position int64, fn func(*Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.records[position])
}

// DB exposes the underlying handle for raw-SQL tampering in tests.
func (s *SQLiteStore) DB() *sql.DB { return s.db }
