package credential

import (
	"context"
	"errors"
	"log/slog"

	apperrors "github.com/billoapp/tabz-payments/internal"
	credentialmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/credential"
	"gorm.io/gorm"
)

// Vault resolves per-bar provider credentials and decrypts them in memory
// for the duration of one outbound call.
type Vault struct {
	repository RepositoryAPI
	cipher     *Cipher
	logger     *slog.Logger
}

func NewVault(repository RepositoryAPI, cipher *Cipher, logger *slog.Logger) *Vault {
	return &Vault{
		repository: repository,
		cipher:     cipher,
		logger:     logger,
	}
}

func (v *Vault) Resolve(ctx context.Context, barID int64, environment string) (*credentialmodel.Decrypted, error) {
	record, err := v.repository.GetActive(ctx, barID, environment)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			v.logger.Error("no credentials configured for bar",
				"bar_id", barID,
				"environment", environment)
			return nil, apperrors.ErrCredentialsNotFound
		}
		v.logger.Error("credential lookup failed", "error", err, "bar_id", barID)
		return nil, apperrors.NewInternalError("credential lookup failed", err)
	}

	if !record.Active {
		v.logger.Error("credentials are inactive", "bar_id", barID, "environment", environment)
		return nil, apperrors.ErrCredentialsInactive
	}

	consumerKey, err := v.cipher.Open(record.ConsumerKeyEnc)
	if err != nil {
		v.logger.Error("credential decryption failed", "error", err, "bar_id", barID, "field", "consumer_key")
		return nil, apperrors.ErrDecryptionFailed
	}

	consumerSecret, err := v.cipher.Open(record.ConsumerSecretEnc)
	if err != nil {
		v.logger.Error("credential decryption failed", "error", err, "bar_id", barID, "field", "consumer_secret")
		return nil, apperrors.ErrDecryptionFailed
	}

	passkey, err := v.cipher.Open(record.PasskeyEnc)
	if err != nil {
		v.logger.Error("credential decryption failed", "error", err, "bar_id", barID, "field", "passkey")
		return nil, apperrors.ErrDecryptionFailed
	}

	return &credentialmodel.Decrypted{
		BarID:          record.BarID,
		Environment:    record.Environment,
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		Shortcode:      record.Shortcode,
		Passkey:        passkey,
		CallbackURL:    record.CallbackURL,
	}, nil
}
