package credential

import (
	"time"
)

// Credential holds one bar's provider secrets for one environment. Secret
// columns store sealed blobs (nonce, ciphertext and auth tag together);
// plaintext exists only in memory for the duration of a single outbound call.
type Credential struct {
	ID                int64  `json:"id" gorm:"primaryKey"`
	BarID             int64  `json:"bar_id" gorm:"column:bar_id;not null;uniqueIndex:idx_credentials_bar_env"`
	Environment       string `json:"environment" gorm:"column:environment;not null;uniqueIndex:idx_credentials_bar_env"`
	ConsumerKeyEnc    string `json:"-" gorm:"column:consumer_key_enc;not null"`
	ConsumerSecretEnc string `json:"-" gorm:"column:consumer_secret_enc;not null"`
	PasskeyEnc        string `json:"-" gorm:"column:passkey_enc;not null"`
	Shortcode         string `json:"shortcode" gorm:"column:shortcode;not null"`
	CallbackURL       string `json:"callback_url" gorm:"column:callback_url;not null"`
	// no default tag: gorm would skip the zero value false on insert
	Active    bool      `json:"active" gorm:"column:active;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (Credential) TableName() string {
	return "credentials"
}

// Decrypted is the in-memory form handed to the token manager and request
// builder. It is never persisted and never crosses a tenant boundary.
type Decrypted struct {
	BarID          int64
	Environment    string
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
}
