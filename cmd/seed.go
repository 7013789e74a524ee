package cmd

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	credentialpkg "github.com/billoapp/tabz-payments/internal/credential"
)

// seedCmd loads sandbox provider credentials and a demo tab so a fresh
// environment can run an end-to-end push without manual inserts. Secrets
// come from SEED_* environment variables and are sealed before they touch
// the database.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sandbox credentials and a demo tab",
	Long:  `Seed the database with sandbox provider credentials and sample data for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		sqlxDB, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer sqlxDB.Close()

		db, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: sqlxDB.DB}), &gorm.Config{})
		if err != nil {
			log.Fatalf("failed to init orm: %v", err)
		}

		masterKey, err := cfg.Security.GetMasterKey()
		if err != nil {
			log.Fatalf("failed to load master encryption key: %v", err)
		}
		cipher, err := credentialpkg.NewCipher(masterKey)
		if err != nil {
			log.Fatalf("failed to init cipher: %v", err)
		}

		if clearData {
			for _, table := range []string{"payment_attempts", "callback_events", "transactions", "credentials", "tabs"} {
				if err := db.Exec("DELETE FROM " + table).Error; err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing data")
		}

		consumerKey := requireSeedEnv("SEED_CONSUMER_KEY")
		consumerSecret := requireSeedEnv("SEED_CONSUMER_SECRET")
		passkey := requireSeedEnv("SEED_PASSKEY")
		shortcode := getEnvOrDefault("SEED_SHORTCODE", "174379")

		consumerKeyEnc, err := cipher.Seal(consumerKey)
		if err != nil {
			log.Fatalf("failed to seal consumer key: %v", err)
		}
		consumerSecretEnc, err := cipher.Seal(consumerSecret)
		if err != nil {
			log.Fatalf("failed to seal consumer secret: %v", err)
		}
		passkeyEnc, err := cipher.Seal(passkey)
		if err != nil {
			log.Fatalf("failed to seal passkey: %v", err)
		}

		callbackURL := strings.TrimRight(cfg.Mpesa.CallbackBaseURL, "/") + "/api/v1/payments/callback"

		const demoBarID = 1

		var exists int
		row := db.Raw("SELECT 1 FROM credentials WHERE bar_id = ? AND environment = ?", demoBarID, cfg.Mpesa.Environment).Row()
		if err := row.Scan(&exists); err == nil {
			fmt.Println("sandbox credentials already exist for demo bar; skipping")
		} else {
			if err := db.Exec(
				"INSERT INTO credentials (bar_id, environment, consumer_key_enc, consumer_secret_enc, passkey_enc, shortcode, callback_url, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, true, now(), now())",
				demoBarID, cfg.Mpesa.Environment, consumerKeyEnc, consumerSecretEnc, passkeyEnc, shortcode, callbackURL,
			).Error; err != nil {
				log.Fatalf("failed to insert credentials: %v", err)
			}
			fmt.Printf("Seeded %s credentials for bar %d (shortcode %s)\n", cfg.Mpesa.Environment, demoBarID, shortcode)
		}

		demoCustomer := "demo-customer"
		row = db.Raw("SELECT 1 FROM tabs WHERE bar_id = ? AND customer_identifier = ?", demoBarID, demoCustomer).Row()
		if err := row.Scan(&exists); err == nil {
			fmt.Println("demo tab already exists; skipping")
		} else {
			if err := db.Exec(
				"INSERT INTO tabs (bar_id, customer_identifier, balance, created_at, updated_at) VALUES (?, ?, ?, now(), now())",
				demoBarID, demoCustomer, int64(1500),
			).Error; err != nil {
				log.Fatalf("failed to insert demo tab: %v", err)
			}
			fmt.Printf("Seeded demo tab for bar %d, customer %s\n", demoBarID, demoCustomer)
		}

		fmt.Println("Seeding complete")
	},
}

func requireSeedEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("%s is required for seeding", key)
	}
	return value
}

func getEnvOrDefault(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}
