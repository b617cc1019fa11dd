package repository

import (
	"gorm.io/gorm"

	"github.com/coveworks/memberd/internal/model"
)

type BadgeChangeRepository struct {
	db *gorm.DB
}

func NewBadgeChangeRepository(db *gorm.DB) *BadgeChangeRepository {
	return &BadgeChangeRepository{db: db}
}

func (r *BadgeChangeRepository) Create(change *model.BadgeChange) error {
	return r.db.Create(change).Error
}

func (r *BadgeChangeRepository) ListByUsername(username string) ([]*model.BadgeChange, error) {
	var changes []*model.BadgeChange
	err := r.db.Where("username = ?", username).Order("created ASC").Find(&changes).Error
	return changes, err
}
