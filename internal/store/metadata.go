package store

import "database/sql"

// SetMetadata upserts a key-value pair in the exam_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO exam_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM exam_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// StorageStats aggregates compression metadata across the persisted payloads
// of one exam for storage-efficiency reporting.
type StorageStats struct {
	Payloads       int     `json:"payloads"`
	OriginalSize   int64   `json:"original_size"`
	CompressedSize int64   `json:"compressed_size"`
	Ratio          float64 `json:"compression_ratio"`
}

// StorageStatsForExam sums the recorded payload sizes over messages,
// submissions and snapshots of the exam's sessions.
func (s *Store) StorageStatsForExam(examID int64) (StorageStats, error) {
	var stats StorageStats
	for _, table := range []string{"messages", "submissions", "session_snapshots"} {
		var n int
		var orig, comp sql.NullInt64
		err := s.db.QueryRow(
			`SELECT COUNT(*), SUM(original_size), SUM(compressed_size) FROM `+table+
				` WHERE session_id IN (SELECT id FROM sessions WHERE exam_id = ?)`, examID,
		).Scan(&n, &orig, &comp)
		if err != nil {
			return stats, err
		}
		stats.Payloads += n
		stats.OriginalSize += orig.Int64
		stats.CompressedSize += comp.Int64
	}
	var n int
	var orig, comp sql.NullInt64
	err := s.db.QueryRow(
		`SELECT COUNT(*), SUM(original_size), SUM(compressed_size) FROM materials WHERE exam_id = ?`, examID,
	).Scan(&n, &orig, &comp)
	if err != nil {
		return stats, err
	}
	stats.Payloads += n
	stats.OriginalSize += orig.Int64
	stats.CompressedSize += comp.Int64

	if stats.OriginalSize > 0 {
		stats.Ratio = float64(stats.CompressedSize) / float64(stats.OriginalSize)
	}
	return stats, nil
}

// StaleChunkCount returns how many chunks of an exam were embedded with a
// model version other than the currently configured one. A nonzero count
// means the material needs reindexing before vector search is trustworthy.
func (s *Store) StaleChunkCount(examID int64, modelVersion string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM chunks WHERE exam_id = ? AND model_version != ?`,
		examID, modelVersion,
	).Scan(&count)
	return count, err
}
