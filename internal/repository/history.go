package repository

import (
	"time"

	"filedrop/internal/db"
	"filedrop/internal/model"
)

type HistoryRepository struct{}

func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{}
}

// Record stores the outcome of an upload or delete. A nil err marks success.
func (r *HistoryRepository) Record(action model.Action, path string, size int64, checksum, remoteAddr string, err error) error {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}

	history := model.History{
		Action:     action,
		Path:       path,
		Size:       size,
		Checksum:   checksum,
		RemoteAddr: remoteAddr,
		ErrMsg:     errMsg,
		At:         time.Now(),
	}

	return db.DB.Create(&history).Error
}

func (r *HistoryRepository) GetStats() (model.HistoryStats, error) {
	var stats model.HistoryStats
	if err := db.DB.Model(&model.History{}).Count(&stats.Total).Error; err != nil {
		return stats, err
	}

	if err := db.DB.Model(&model.History{}).
		Where("action = ?", model.ActionUpload).
		Count(&stats.Uploads).Error; err != nil {
		return stats, err
	}

	if err := db.DB.Model(&model.History{}).
		Where("err_msg <> ?", "").
		Count(&stats.Failed).Error; err != nil {
		return stats, err
	}

	stats.Deletes = stats.Total - stats.Uploads
	return stats, nil
}

func (r *HistoryRepository) GetRecent(limit int) ([]model.History, error) {
	var histories []model.History
	result := db.DB.
		Order("at desc").
		Order("id desc").
		Limit(limit).
		Find(&histories)

	return histories, result.Error
}

func (r *HistoryRepository) GetFailed(limit int) ([]model.History, error) {
	var histories []model.History
	result := db.DB.
		Where("err_msg <> ?", "").
		Order("at desc").
		Order("id desc").
		Limit(limit).
		Find(&histories)

	return histories, result.Error
}
