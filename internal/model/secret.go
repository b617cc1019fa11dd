package model

import "time"

// Secret is an encrypted credential row. Values are AES-GCM sealed with the
// master key before they reach the database.
type Secret struct {
	ID      int64     `gorm:"primaryKey" json:"id"`
	Name    string    `gorm:"size:100;uniqueIndex;not null" json:"name"`
	Value   []byte    `gorm:"type:blob" json:"-"`
	Created time.Time `gorm:"autoCreateTime" json:"created"`
	Updated time.Time `gorm:"autoUpdateTime" json:"updated"`
}

func (Secret) TableName() string {
	return "secrets"
}
