package db

import (
	"time"
)

// RoomLog records room lifecycle events for operator forensics: when a
// room opened, when it closed, and whether it ran with mods.
type RoomLog struct {
	db *Database
}

// RoomRecord is one row of the lifecycle log.
type RoomRecord struct {
	ID       int64      `json:"id"`
	RoomID   string     `json:"room_id"`
	IsMod    bool       `json:"is_mod"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// NewRoomLog wraps an open database.
func NewRoomLog(database *Database) *RoomLog {
	return &RoomLog{db: database}
}

// RoomOpened appends an open row for the room id.
func (l *RoomLog) RoomOpened(roomID string, isMod bool) error {
	_, err := l.db.Exec(
		`INSERT INTO room_log (room_id, is_mod) VALUES (?, ?)`,
		roomID, boolToInt(isMod),
	)
	return err
}

// RoomClosed stamps the most recent open row for the room id.
func (l *RoomLog) RoomClosed(roomID string) error {
	_, err := l.db.Exec(
		`UPDATE room_log SET closed_at = CURRENT_TIMESTAMP
		 WHERE id = (SELECT id FROM room_log WHERE room_id = ? AND closed_at IS NULL ORDER BY id DESC LIMIT 1)`,
		roomID,
	)
	return err
}

// Recent returns the latest rows, newest first.
func (l *RoomLog) Recent(limit int) ([]RoomRecord, error) {
	rows, err := l.db.Query(
		`SELECT id, room_id, is_mod, opened_at, closed_at FROM room_log ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoomRecord
	for rows.Next() {
		var rec RoomRecord
		var isMod int
		if err := rows.Scan(&rec.ID, &rec.RoomID, &isMod, &rec.OpenedAt, &rec.ClosedAt); err != nil {
			return nil, err
		}
		rec.IsMod = isMod != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneBefore deletes closed rows that opened before the cutoff and
// returns the number of rows removed.
func (l *RoomLog) PruneBefore(cutoff time.Time) (int64, error) {
	res, err := l.db.Exec(
		`DELETE FROM room_log WHERE closed_at IS NOT NULL AND opened_at < ?`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
