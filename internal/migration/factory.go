package migration

import (
	"fmt"

	appconfig "github.com/BaSui01/agentflow/config"
)

// NewMigratorFromConfig creates a new migrator from application configuration
func NewMigratorFromConfig(cfg *appconfig.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	return NewMigratorFromDatabaseConfig(cfg.Database)
}

// NewMigratorFromDatabaseConfig creates a new migrator from database
// configuration. The gateway is SQLite-only; dbCfg.Path holds the file path.
func NewMigratorFromDatabaseConfig(dbCfg appconfig.DatabaseConfig) (*DefaultMigrator, error) {
	if dbCfg.Path == "" {
		return nil, fmt.Errorf("database.path is required")
	}

	migCfg := &Config{
		DatabaseType: DatabaseTypeSQLite,
		DatabaseURL:  BuildDatabaseURL(dbCfg.Path),
		TableName:    "schema_migrations",
	}

	return NewMigrator(migCfg)
}

// NewMigratorFromURL creates a new migrator from a database URL
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	if _, err := ParseDatabaseType(dbType); err != nil {
		return nil, err
	}

	return NewMigrator(&Config{
		DatabaseType: DatabaseTypeSQLite,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
	})
}
