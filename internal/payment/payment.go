package payment

import (
	"context"
	"time"

	callbackmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/callback"
	credentialmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/credential"
	tabmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/tab"
	transactionmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/transaction"
	"github.com/billoapp/tabz-payments/internal/mpesa"
)

// RepositoryAPI is the transaction store. State transitions go exclusively
// through UpdateStatusFrom, which applies only when the record still holds
// the expected status; a mismatch reports applied=false and is treated as a
// benign race by every caller.
type RepositoryAPI interface {
	Create(ctx context.Context, t *transactionmodel.Transaction) error
	GetByID(ctx context.Context, id string) (*transactionmodel.Transaction, error)
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*transactionmodel.Transaction, error)
	UpdateStatusFrom(ctx context.Context, id, fromStatus, toStatus string, updates map[string]interface{}) (bool, error)
	ListSentBefore(ctx context.Context, cutoff time.Time, limit int) ([]*transactionmodel.Transaction, error)
}

// TabRepositoryAPI is the thin view of the ordering system's tabs the
// payment core needs.
type TabRepositoryAPI interface {
	GetByID(ctx context.Context, id int64) (*tabmodel.Tab, error)
	GetByBarAndCustomer(ctx context.Context, barID int64, customerIdentifier string) (*tabmodel.Tab, error)
	ReduceBalance(ctx context.Context, id int64, amount int64) error
}

// CallbackEventRepositoryAPI stores the immutable callback audit trail.
type CallbackEventRepositoryAPI interface {
	Create(ctx context.Context, e *callbackmodel.Event) error
	IncrementAttempts(ctx context.Context, id int64) error
	MarkPermanentlyFailed(ctx context.Context, id int64) error
}

// ProviderAPI is the outbound provider surface the service depends on.
type ProviderAPI interface {
	STKPush(ctx context.Context, accessToken string, push *mpesa.STKPushRequest) (*mpesa.STKPushResponse, error)
}

// TokenManagerAPI hands out cached provider tokens.
type TokenManagerAPI interface {
	AccessToken(ctx context.Context, cred *credentialmodel.Decrypted) (string, error)
	Invalidate(cred *credentialmodel.Decrypted)
}

// ServiceAPI is what the HTTP handlers consume.
type ServiceAPI interface {
	Initiate(ctx context.Context, req *InitiateRequest, sourceIP string) (*InitiateResponse, error)
	Retry(ctx context.Context, transactionID, sourceIP string) (*InitiateResponse, error)
	Status(ctx context.Context, transactionID string) (*TransactionView, error)
}
