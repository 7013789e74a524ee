package postgres

import (
	"context"

	credentialmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/credential"
	credentialpkg "github.com/billoapp/tabz-payments/internal/credential"
	"gorm.io/gorm"
)

type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) credentialpkg.RepositoryAPI {
	return &CredentialRepository{
		db: db,
	}
}

func (r *CredentialRepository) GetActive(ctx context.Context, barID int64, environment string) (*credentialmodel.Credential, error) {
	var c credentialmodel.Credential
	err := r.db.WithContext(ctx).
		Where("bar_id = ? AND environment = ?", barID, environment).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}
