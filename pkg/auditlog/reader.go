package auditlog

import (
	"errors"
	"io"
	"os"
	"time"
)

// DefaultQueryLimit bounds a query that doesn't set its own limit.
const DefaultQueryLimit = 500

// Query filters entries read from the log.
type Query struct {
	// Since excludes entries before this time when set.
	Since time.Time

	// Until excludes entries at or after this time when set.
	Until time.Time

	// Category keeps only entries of this category when non-zero.
	Category Category

	// StationID keeps only entries for this station when set.
	StationID string

	// Limit caps the number of returned entries. Zero means
	// DefaultQueryLimit. When more entries match, the oldest are
	// dropped so the result holds the most recent ones.
	Limit int
}

func (q Query) matches(e Entry) bool {
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !e.Timestamp.Before(q.Until) {
		return false
	}
	if q.Category != CategoryUnknown && e.Category != q.Category {
		return false
	}
	if q.StationID != "" && e.StationID != q.StationID {
		return false
	}
	return true
}

// Read scans the log file and returns entries matching the query,
// oldest first. A missing file yields no entries. A truncated final
// record is tolerated; anything already decoded is returned.
func Read(path string, q Query) ([]Entry, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	dec := NewDecoder(file)
	var out []Entry
	for {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return out, err
		}
		if !q.matches(e) {
			continue
		}
		out = append(out, e)
		if len(out) > limit {
			out = out[1:]
		}
	}
	return out, nil
}
