package invoice

import "time"

// SeriesCounter is the last allocated value of a numbering series
type SeriesCounter struct {
	Series    string    `db:"series" json:"series"`
	Value     int64     `db:"value" json:"value"`
	Start     int64     `db:"start_value" json:"start"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
