package model

import "time"

// DJSet 保存的双deck组合（GORM模型，新模块统一走GORM）
// 记录一次会话里两个deck的曲目与混音参数，便于之后一键恢复。
type DJSet struct {
	ID         int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string  `gorm:"size:255;not null" json:"name"`
	TrackAID   int64   `gorm:"column:track_a_id" json:"trackAId"`
	TrackBID   int64   `gorm:"column:track_b_id" json:"trackBId"`
	Crossfader float64 `gorm:"default:0" json:"crossfader"`
	MasterDeck string  `gorm:"size:1" json:"masterDeck"`
	SyncOn     bool    `gorm:"default:false" json:"syncOn"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (DJSet) TableName() string {
	return "dj_sets"
}
