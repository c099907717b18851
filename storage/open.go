package storage

import (
	"time"

	"github.com/rotisserie/eris"

	"pricewatch/config"
	"pricewatch/utils"
)

// Open connects to the backend selected by cfg.DBDriver.
func Open(cfg *config.Config, logger *utils.Logger) (*Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		return OpenPostgres(cfg.DSN(), &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Logger:      logger,
		})
	case "sqlite":
		return OpenSQLite(cfg.DSN())
	default:
		return nil, eris.Errorf("storage: unknown driver %q", cfg.DBDriver)
	}
}
