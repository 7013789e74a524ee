package postgres

import (
	"context"
	"encoding/json"
	"time"

	callbackmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/callback"
	paymentpkg "github.com/billoapp/tabz-payments/internal/payment"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type SQLiteCallbackEvent struct {
	ID                int64     `gorm:"primaryKey"`
	CheckoutRequestID string    `gorm:"column:checkout_request_id"`
	Disposition       string    `gorm:"column:disposition;not null"`
	Payload           string    `gorm:"column:payload"`
	ResultCode        *int      `gorm:"column:result_code"`
	Attempts          int       `gorm:"column:attempts;default:0"`
	PermanentlyFailed bool      `gorm:"column:permanently_failed;default:false"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (SQLiteCallbackEvent) TableName() string {
	return "callback_events"
}

var _ = Describe("CallbackEventRepository", func() {
	var (
		db   *gorm.DB
		repo paymentpkg.CallbackEventRepositoryAPI
		ctx  context.Context
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()

		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		Expect(err).NotTo(HaveOccurred())

		err = db.AutoMigrate(&SQLiteCallbackEvent{})
		Expect(err).NotTo(HaveOccurred())

		repo = NewCallbackEventRepository(db)
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		err = sqlDB.Close()
		Expect(err).NotTo(HaveOccurred())
	})

	seedEvent := func() *callbackmodel.Event {
		code := 0
		event := &callbackmodel.Event{
			CheckoutRequestID: "ws_CO_123",
			Disposition:       callbackmodel.DispositionAccepted,
			Payload:           json.RawMessage(`{"CheckoutRequestID":"ws_CO_123"}`),
			ResultCode:        &code,
		}
		Expect(repo.Create(ctx, event)).To(Succeed())
		return event
	}

	Describe("Create", func() {
		It("should persist the audit record and assign an ID", func() {
			event := seedEvent()
			Expect(event.ID).To(BeNumerically(">", 0))

			var stored SQLiteCallbackEvent
			err := db.First(&stored, event.ID).Error
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.CheckoutRequestID).To(Equal("ws_CO_123"))
			Expect(stored.Disposition).To(Equal(callbackmodel.DispositionAccepted))
			Expect(stored.Attempts).To(Equal(0))
			Expect(stored.PermanentlyFailed).To(BeFalse())
		})
	})

	Describe("IncrementAttempts", func() {
		It("should add one to the attempt counter each call", func() {
			event := seedEvent()

			Expect(repo.IncrementAttempts(ctx, event.ID)).To(Succeed())
			Expect(repo.IncrementAttempts(ctx, event.ID)).To(Succeed())

			var stored SQLiteCallbackEvent
			err := db.First(&stored, event.ID).Error
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Attempts).To(Equal(2))
		})

		It("should leave other events untouched", func() {
			first := seedEvent()
			second := seedEvent()

			Expect(repo.IncrementAttempts(ctx, first.ID)).To(Succeed())

			var stored SQLiteCallbackEvent
			err := db.First(&stored, second.ID).Error
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Attempts).To(Equal(0))
		})
	})

	Describe("MarkPermanentlyFailed", func() {
		It("should set the permanent failure flag", func() {
			event := seedEvent()

			Expect(repo.MarkPermanentlyFailed(ctx, event.ID)).To(Succeed())

			var stored SQLiteCallbackEvent
			err := db.First(&stored, event.ID).Error
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.PermanentlyFailed).To(BeTrue())
		})
	})
})
