package repository

import (
	"gorm.io/gorm"

	"github.com/coveworks/memberd/internal/model"
)

type UsedCodeRepository struct {
	db *gorm.DB
}

func NewUsedCodeRepository(db *gorm.DB) *UsedCodeRepository {
	return &UsedCodeRepository{db: db}
}

func (r *UsedCodeRepository) Create(code *model.UsedCode) error {
	return r.db.Create(code).Error
}

// GetByCode returns the earliest record for a code, or gorm.ErrRecordNotFound
// if the code has never been attempted.
func (r *UsedCodeRepository) GetByCode(code string) (*model.UsedCode, error) {
	var used model.UsedCode
	err := r.db.Where("code = ?", code).Order("created ASC").First(&used).Error
	if err != nil {
		return nil, err
	}
	return &used, nil
}

func (r *UsedCodeRepository) ListByCode(code string) ([]*model.UsedCode, error) {
	var used []*model.UsedCode
	err := r.db.Where("code = ?", code).Order("created ASC").Find(&used).Error
	return used, err
}
