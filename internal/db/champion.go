package db

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PromoteChampion records a new champion model. The previous active
// record is deactivated and a fresh row inserted in one transaction,
// so two concurrent comparison runs can never both believe they hold
// the current pointer.
func PromoteChampion(gdb *gorm.DB, modelID string, metrics map[string]any) (*ChampionModel, error) {
	row := &ChampionModel{
		ModelID:    modelID,
		Metrics:    datatypes.JSONMap(metrics),
		PromotedAt: time.Now().UTC(),
		Active:     true,
	}
	err := gdb.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ChampionModel{}).Where("active = ?", true).Update("active", false).Error; err != nil {
			return err
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// ActiveChampion returns the current champion, or nil if none has been
// promoted yet.
func ActiveChampion(gdb *gorm.DB) (*ChampionModel, error) {
	var row ChampionModel
	err := gdb.Where("active = ?", true).Order("promoted_at DESC").First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ChampionHistory lists promotion records, newest first.
func ChampionHistory(gdb *gorm.DB, limit int) ([]ChampionModel, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var rows []ChampionModel
	if err := gdb.Order("promoted_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
