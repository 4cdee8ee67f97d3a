package domain

// Qid is a cached query context: a large or repeated query stored once
// and referred to by a short key.
type Qid struct {
	Key      string    `json:"rowKey"`
	Q        string    `json:"q"`
	DisplayQ string    `json:"displayString"`
	WKT      string    `json:"wkt,omitempty"`
	BBox     []float64 `json:"bbox,omitempty"` // minX, minY, maxX, maxY
	Fqs      []string  `json:"fqs,omitempty"`
	MaxAgeMs int64     `json:"maxAge"` // -1 = no expiry
	Source   string    `json:"source,omitempty"`

	// LastUse is a unix-millisecond touch timestamp maintained by the
	// cache under its own lock.
	LastUse int64 `json:"lastUse"`
}

// Size returns the approximate in-memory footprint in bytes, used for
// cache accounting.
func (q *Qid) Size() int64 {
	n := int64(len(q.Q) + len(q.DisplayQ) + len(q.WKT) + len(q.Source))
	for _, fq := range q.Fqs {
		n += int64(len(fq))
	}
	n += int64(8 * len(q.BBox))
	return 2*n + 48
}

// Expired reports whether the entry is older than its max age.
func (q *Qid) Expired(nowMs int64) bool {
	return q.MaxAgeMs >= 0 && nowMs-q.LastUse > q.MaxAgeMs
}
