package credential

import (
	"context"

	credentialmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/credential"
)

// RepositoryAPI is the storage contract for encrypted credential rows.
type RepositoryAPI interface {
	GetActive(ctx context.Context, barID int64, environment string) (*credentialmodel.Credential, error)
}

// VaultAPI resolves and decrypts one bar's provider credentials. Resolution
// happens fresh per operation; decrypted material is never cached.
type VaultAPI interface {
	Resolve(ctx context.Context, barID int64, environment string) (*credentialmodel.Decrypted, error)
}
