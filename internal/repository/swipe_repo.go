package repository

import (
	"gorm.io/gorm"

	"github.com/coveworks/memberd/internal/model"
)

type SwipeRepository struct {
	db *gorm.DB
}

func NewSwipeRepository(db *gorm.DB) *SwipeRepository {
	return &SwipeRepository{db: db}
}

func (r *SwipeRepository) Create(swipe *model.RFIDSwipe) error {
	return r.db.Create(swipe).Error
}

func (r *SwipeRepository) ListRecent(limit int) ([]*model.RFIDSwipe, error) {
	var swipes []*model.RFIDSwipe
	err := r.db.Order("created DESC").Limit(limit).Find(&swipes).Error
	return swipes, err
}
