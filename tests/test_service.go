package tests

import (
	"fmt"
	"os"
	"testing"

	"gorm.io/gorm"

	"github.com/Marfusios/strike-lightning-bridge/config"
	"github.com/Marfusios/strike-lightning-bridge/db"
	"github.com/Marfusios/strike-lightning-bridge/db/migrations"
	"github.com/Marfusios/strike-lightning-bridge/events"
	"github.com/Marfusios/strike-lightning-bridge/logger"
)

// BOLT11 test vector: 2500uBTC invoice, "1 cup coffee", created
// 2017-06-01, 60 second expiry.
const MockBolt11Invoice = "lnbc2500u1pvjluezpp5qqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqypqdq5xysxxatsyp3k7enxv4jsxqzpuaztrnwngzn3kdzw5hydlzf03qdgm2hdq27cqv3agm2awhz5se903vruatfhq77w3ls4evs3ch9zw97j25emudupq63nyw24cg27h2rspfj9srp"
const MockPaymentHash = "0001020304050607080900010203040506070809000102030405060708090102"

type TestService struct {
	DB             *gorm.DB
	EventPublisher events.EventPublisher
	Filename       string
}

func CreateTestService(t *testing.T) (*TestService, error) {
	logger.Init("4")

	filename := fmt.Sprintf("%s/test.db", t.TempDir())
	gormDB, err := db.NewDB(filename, false)
	if err != nil {
		return nil, err
	}
	err = migrations.Migrate(gormDB)
	if err != nil {
		return nil, err
	}

	return &TestService{
		DB:             gormDB,
		EventPublisher: events.NewEventPublisher(),
		Filename:       filename,
	}, nil
}

func (svc *TestService) Remove() {
	db.Stop(svc.DB)
	os.Remove(svc.Filename)
}

// DefaultSettings is a BTC denominated tenant connection.
func DefaultSettings() *config.StrikeSettings {
	return &config.StrikeSettings{
		ApiKey:   "test-api-key",
		Currency: "BTC",
	}
}
