package repository

import (
	"context"
	"errors"

	"coopcredit/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TermsRepository holds the local replica of catalog credit terms.
type TermsRepository struct {
	db *gorm.DB
}

func NewTermsRepository(db *gorm.DB) *TermsRepository {
	return &TermsRepository{db: db}
}

func (r *TermsRepository) GetByProductID(ctx context.Context, productID string) (*model.ProductCreditTerms, error) {
	var terms model.ProductCreditTerms
	err := r.db.WithContext(ctx).Where("product_id = ?", productID).First(&terms).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTermsNotFound
		}
		return nil, err
	}
	return &terms, nil
}

// Upsert replaces the terms for a product. Purchases already on the ledger
// keep the snapshot they were recorded with.
func (r *TermsRepository) Upsert(ctx context.Context, terms *model.ProductCreditTerms) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"due_days", "penalty_type", "penalty_value", "updated_at"}),
		}).
		Create(terms).Error
}
