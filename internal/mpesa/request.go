package mpesa

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	credentialmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/credential"
)

const (
	transactionTypePayBill = "CustomerPayBillOnline"

	maxAccountReferenceLen = 12
	maxTransactionDescLen  = 13

	timestampLayout = "20060102150405"
)

// provider timestamps are in Kenyan local time
var nairobi = time.FixedZone("EAT", 3*60*60)

// Password returns base64(shortcode + passkey + timestamp), the time-boxed
// digest the provider validates against the shortcode's passkey.
func Password(shortcode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
}

// Timestamp formats t as YYYYMMDDHHmmss in provider local time.
func Timestamp(t time.Time) string {
	return t.In(nairobi).Format(timestampLayout)
}

// BuildSTKPush assembles the push payload for one transaction. Account
// reference and description are truncated to the provider's field limits.
func BuildSTKPush(cred *credentialmodel.Decrypted, amount int64, phoneNumber, accountReference, description string, now time.Time) (*STKPushRequest, error) {
	if cred == nil {
		return nil, fmt.Errorf("credential is required")
	}
	if cred.Shortcode == "" {
		return nil, fmt.Errorf("credential shortcode is empty")
	}
	if cred.Passkey == "" {
		return nil, fmt.Errorf("credential passkey is empty")
	}
	if cred.CallbackURL == "" {
		return nil, fmt.Errorf("credential callback URL is empty")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d", amount)
	}
	if phoneNumber == "" {
		return nil, fmt.Errorf("phone number is empty")
	}
	if accountReference == "" {
		return nil, fmt.Errorf("account reference is empty")
	}
	if description == "" {
		return nil, fmt.Errorf("transaction description is empty")
	}

	timestamp := Timestamp(now)

	return &STKPushRequest{
		BusinessShortCode: cred.Shortcode,
		Password:          Password(cred.Shortcode, cred.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionTypePayBill,
		Amount:            strconv.FormatInt(amount, 10),
		PartyA:            phoneNumber,
		PartyB:            cred.Shortcode,
		PhoneNumber:       phoneNumber,
		CallBackURL:       cred.CallbackURL,
		AccountReference:  truncate(accountReference, maxAccountReferenceLen),
		TransactionDesc:   truncate(description, maxTransactionDescLen),
	}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
