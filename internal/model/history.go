package model

import (
	"time"

	"gorm.io/gorm"
)

type Action string

const (
	ActionUpload Action = "UPLOAD"
	ActionDelete Action = "DELETE"
)

type History struct {
	gorm.Model
	Action     Action `gorm:"not null;index"`
	Path       string `gorm:"not null"`
	Size       int64
	Checksum   string
	RemoteAddr string
	ErrMsg     string
	At         time.Time `gorm:"not null;index"`
}

func (h History) Failed() bool {
	return h.ErrMsg != ""
}

type HistoryStats struct {
	Total   int64 `json:"total"`
	Uploads int64 `json:"uploads"`
	Deletes int64 `json:"deletes"`
	Failed  int64 `json:"failed"`
}
