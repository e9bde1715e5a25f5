package model

import "time"

type CacheStatus struct {
	Root        string     `json:"root"`
	Ready       bool       `json:"ready"`
	Folders     int        `json:"folders"`
	Files       int        `json:"files"`
	Version     uint64     `json:"version"`
	Fingerprint string     `json:"fingerprint"`
	StartedAt   time.Time  `json:"started_at"`
	LastChange  *time.Time `json:"last_change"`
}
