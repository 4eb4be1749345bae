package repository

import (
	"fmt"

	"Bt2Deck/model"

	"gorm.io/gorm"
)

// SetRepository 保存的DJ组合数据操作（新模块，走GORM）
type SetRepository interface {
	CreateSet(set *model.DJSet) error
	GetSetByID(id int64) (*model.DJSet, error)
	GetAllSets() ([]*model.DJSet, error)
	DeleteSet(id int64) error
}

type gormSetRepository struct {
	db *gorm.DB
}

// NewGormSetRepository 创建GORM版本的SetRepository
func NewGormSetRepository(db *gorm.DB) SetRepository {
	return &gormSetRepository{db: db}
}

// CreateSet 保存一个DJ组合
func (r *gormSetRepository) CreateSet(set *model.DJSet) error {
	if err := r.db.Create(set).Error; err != nil {
		return fmt.Errorf("failed to create dj set: %w", err)
	}
	return nil
}

// GetSetByID 按ID查找，不存在时返回 (nil, nil)
func (r *gormSetRepository) GetSetByID(id int64) (*model.DJSet, error) {
	var set model.DJSet
	err := r.db.First(&set, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get dj set %d: %w", id, err)
	}
	return &set, nil
}

// GetAllSets 列出全部保存的组合
func (r *gormSetRepository) GetAllSets() ([]*model.DJSet, error) {
	var sets []*model.DJSet
	if err := r.db.Order("created_at DESC").Find(&sets).Error; err != nil {
		return nil, fmt.Errorf("failed to list dj sets: %w", err)
	}
	return sets, nil
}

// DeleteSet 删除组合
func (r *gormSetRepository) DeleteSet(id int64) error {
	if err := r.db.Delete(&model.DJSet{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete dj set %d: %w", id, err)
	}
	return nil
}
