package payment

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Provider result codes that matter to the state machine. Zero is success;
// 1032 is the customer dismissing the prompt. Everything else is a failure.
const (
	resultCodeSuccess   = 0
	resultCodeCancelled = 1032
)

type callbackEnvelope struct {
	Body struct {
		StkCallback stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  struct {
		Item []metadataItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

type metadataItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// CallbackResult is the discriminated form of a provider callback: exactly
// one variant is populated, chosen by result code at the parse boundary.
type CallbackResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        int
	ResultDesc        string

	// success variant
	Success         bool
	ReceiptNumber   string
	Amount          int64
	PhoneNumber     string
	TransactionDate string

	// cancellation is a distinct terminal outcome
	Cancelled bool
}

// ParseCallback validates and decodes a raw provider callback. Success
// results must carry receipt, amount, phone and date in the metadata list;
// lookup is by item name, order-independent.
func ParseCallback(raw []byte) (*CallbackResult, error) {
	var envelope callbackEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("malformed callback payload: %w", err)
	}

	cb := envelope.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return nil, fmt.Errorf("callback missing CheckoutRequestID")
	}

	result := &CallbackResult{
		CheckoutRequestID: cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}

	switch cb.ResultCode {
	case resultCodeSuccess:
		result.Success = true
		items := indexItems(cb.CallbackMetadata.Item)

		receipt, ok := itemString(items, "MpesaReceiptNumber")
		if !ok {
			return nil, fmt.Errorf("success callback missing MpesaReceiptNumber")
		}
		amount, ok := itemInt(items, "Amount")
		if !ok {
			return nil, fmt.Errorf("success callback missing Amount")
		}
		phone, ok := itemString(items, "PhoneNumber")
		if !ok {
			return nil, fmt.Errorf("success callback missing PhoneNumber")
		}
		date, ok := itemString(items, "TransactionDate")
		if !ok {
			return nil, fmt.Errorf("success callback missing TransactionDate")
		}

		result.ReceiptNumber = receipt
		result.Amount = amount
		result.PhoneNumber = phone
		result.TransactionDate = date
	case resultCodeCancelled:
		result.Cancelled = true
	}

	return result, nil
}

func indexItems(items []metadataItem) map[string]interface{} {
	indexed := make(map[string]interface{}, len(items))
	for _, item := range items {
		indexed[item.Name] = item.Value
	}
	return indexed
}

func itemString(items map[string]interface{}, name string) (string, bool) {
	v, ok := items[name]
	if !ok || v == nil {
		return "", false
	}
	switch value := v.(type) {
	case string:
		return value, value != ""
	case float64:
		return strconv.FormatInt(int64(value), 10), true
	}
	return "", false
}

func itemInt(items map[string]interface{}, name string) (int64, bool) {
	v, ok := items[name]
	if !ok || v == nil {
		return 0, false
	}
	switch value := v.(type) {
	case float64:
		return int64(value), true
	case string:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// RedactCallbackPayload masks customer phone numbers before the payload is
// written to the audit trail.
func RedactCallbackPayload(raw []byte) json.RawMessage {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return json.RawMessage(`{"redacted":"unparsable payload"}`)
	}

	redactValue(payload)

	redacted, err := json.Marshal(payload)
	if err != nil {
		return json.RawMessage(`{"redacted":"unserializable payload"}`)
	}
	return redacted
}

func redactValue(v interface{}) {
	switch value := v.(type) {
	case map[string]interface{}:
		for key, nested := range value {
			if strings.EqualFold(key, "Name") {
				continue
			}
			if name, ok := value["Name"].(string); ok && strings.EqualFold(name, "PhoneNumber") && strings.EqualFold(key, "Value") {
				value[key] = maskPhone(nested)
				continue
			}
			if strings.Contains(strings.ToLower(key), "phone") {
				value[key] = maskPhone(nested)
				continue
			}
			redactValue(nested)
		}
	case []interface{}:
		for _, item := range value {
			redactValue(item)
		}
	}
}

func maskPhone(v interface{}) string {
	var s string
	switch value := v.(type) {
	case string:
		s = value
	case float64:
		s = strconv.FormatInt(int64(value), 10)
	default:
		return "[REDACTED]"
	}
	if len(s) <= 3 {
		return "[REDACTED]"
	}
	return strings.Repeat("*", len(s)-3) + s[len(s)-3:]
}
