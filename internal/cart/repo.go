package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
)

// ErrVersionConflict is returned when the stored document moved past the expected version.
var ErrVersionConflict = errors.New("cart document version conflict")

// Repository defines the persistence surface for cart documents.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByUser(ctx context.Context, userID uuid.UUID) (*models.CartDocument, error)
	FindByUserForUpdate(ctx context.Context, userID uuid.UUID) (*models.CartDocument, error)
	Save(ctx context.Context, doc *models.CartDocument, expectedVersion int64) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindByUser returns gorm.ErrRecordNotFound when the user has never written a cart.
func (r *repository) FindByUser(ctx context.Context, userID uuid.UUID) (*models.CartDocument, error) {
	var doc models.CartDocument
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByUserForUpdate locks the cart row for the rest of the transaction.
func (r *repository) FindByUserForUpdate(ctx context.Context, userID uuid.UUID) (*models.CartDocument, error) {
	var doc models.CartDocument
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Save writes doc when the stored version still equals expectedVersion and bumps doc.Version.
// Version 0 means the document does not exist yet.
func (r *repository) Save(ctx context.Context, doc *models.CartDocument, expectedVersion int64) error {
	next := *doc
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()
	if next.Lines == nil {
		next.Lines = emptyLines()
	}

	var result *gorm.DB
	if expectedVersion == 0 {
		next.CreatedAt = next.UpdatedAt
		result = r.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
			Create(&next)
	} else {
		result = r.db.WithContext(ctx).
			Model(&models.CartDocument{UserID: doc.UserID}).
			Where("version = ?", expectedVersion).
			Select("lines", "version", "applied_seq", "updated_at").
			Updates(&next)
	}
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	doc.Version = next.Version
	doc.UpdatedAt = next.UpdatedAt
	return nil
}
