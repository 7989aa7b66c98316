package store

import "time"

// 持久化模型。本层只暴露 insert/find/update 面给上层，
// 实时核心（cache/relay/ws）从不感知这里的 schema。

type User struct {
	ID           uint64 `gorm:"primaryKey"`
	Username     string `gorm:"size:64;uniqueIndex"`
	PasswordHash []byte `gorm:"size:80"`
	CreatedAt    time.Time
}

// Music 是一首生成完成（或生成中）的作品。
type Music struct {
	ID          uint64 `gorm:"primaryKey"`
	UserID      uint64 `gorm:"index"`
	Name        string `gorm:"size:128"`
	Description string `gorm:"size:1024"`
	VoiceType   string `gorm:"size:16"` // instrumental / male / female / both
	Genre       string `gorm:"size:64"`
	Lyrics      string `gorm:"type:text"`
	URL         string `gorm:"size:512"`
	Status      string `gorm:"size:16"` // processing / ready / failed
	CreatedAt   time.Time
}

// Notification 是持久化的通知记录：实时投递错过了，
// 下次拉列表还能看到，它是事件的兜底真相。
type Notification struct {
	ID        uint64 `gorm:"primaryKey"`
	UserID    uint64 `gorm:"index"`
	Title     string `gorm:"size:128"`
	Message   string `gorm:"size:1024"`
	Type      string `gorm:"size:16"` // info / success / error
	Read      bool
	Metadata  string `gorm:"type:text"` // JSON
	CreatedAt time.Time
}

// ProcessHistory 是一次生成过程里各个检查点的留痕。
type ProcessHistory struct {
	ID        uint64 `gorm:"primaryKey"`
	UserID    uint64 `gorm:"index"`
	ProcessID string `gorm:"size:64;index"`
	Step      string `gorm:"size:32"`
	Status    string `gorm:"size:16"` // in_progress / success / failed
	Message   string `gorm:"size:512"`
	CreatedAt time.Time
}
