package store

import "time"

// Encrypted columns are []byte and hold nonce || ciphertext. Plaintext
// columns carry only what queries filter or sort on.

type scanRow struct {
	ID          string `gorm:"primaryKey"`
	StartedAt   time.Time
	CompletedAt time.Time
	Cancelled   bool
	SourcePath  []byte
}

func (scanRow) TableName() string { return "scans" }

type fileRow struct {
	ID             string `gorm:"primaryKey"`
	ScanID         string `gorm:"index;not null"`
	Seq            int
	Path           []byte
	Label          string
	ErrorKind      string
	ErrorCode      string
	ErrorDetail    []byte
	SizeBytes      int64
	ModifiedAt     time.Time
	ScanDurationNS int64
}

func (fileRow) TableName() string { return "files" }

type matchRow struct {
	ID            string `gorm:"primaryKey"`
	ScanID        string `gorm:"index;not null"`
	FileID        string `gorm:"index;not null"`
	Seq           int
	EntityType    string `gorm:"index"`
	Confidence    float64
	Verdict       string `gorm:"index"`
	IsTest        bool
	SpanStart     int
	SpanEnd       int
	Line          int
	ModelVersion  string
	ReviewedBy    string
	RedactedValue []byte
	Context       []byte
	Sources       []byte
}

func (matchRow) TableName() string { return "matches" }

type metaRow struct {
	Name  string `gorm:"primaryKey"`
	Value []byte
}

func (metaRow) TableName() string { return "meta" }

const (
	tableScans   = "scans"
	tableFiles   = "files"
	tableMatches = "matches"
	tableMeta    = "meta"

	metaKeyCheck = "key_check"
	keyCheckText = "docleek"
)
