package tests

import (
	"os"

	"github.com/meridian-labs/emissions-engine/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// TestDatabaseUrlEnvVar gates database-backed tests; they skip when unset.
const TestDatabaseUrlEnvVar = "EMISSIONS_ENGINE_TEST_DATABASE_URL"

func GetConfig() *config.Config {
	return config.NewConfig()
}

// GetTestDatabaseConnection opens a gorm connection to the test database,
// or returns ("", nil, nil) when no test database is configured.
func GetTestDatabaseConnection() (string, *gorm.DB, error) {
	dsn := os.Getenv(TestDatabaseUrlEnvVar)
	if dsn == "" {
		return "", nil, nil
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return dsn, nil, err
	}
	return dsn, db, nil
}

func ReplaceEnv(newValues map[string]string, previousValues *map[string]string) {
	for k, v := range newValues {
		(*previousValues)[k] = os.Getenv(k)
		os.Setenv(k, v)
	}
}

func RestoreEnv(previousValues map[string]string) {
	for k, v := range previousValues {
		os.Setenv(k, v)
	}
}
