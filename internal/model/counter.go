package model

// Counter is one named monotonic sequence. Rows are created by upsert and
// only ever changed by an atomic increment.
type Counter struct {
	Key string `gorm:"column:key;primaryKey;type:varchar(100)"`
	Seq int64  `gorm:"column:seq;not null"`
}

// TableName implements the gorm tabler interface.
func (Counter) TableName() string { return "counters" }
