package db

import (
	"testing"

	"github.com/memohai/supportbot/internal/config"
)

var testPostgres = config.PostgresConfig{
	Host:     "localhost",
	Port:     5432,
	User:     "support",
	Password: "secret",
	Database: "supportbot",
	SSLMode:  "disable",
}

func TestRunMigrateUnknownCommand(t *testing.T) {
	if err := RunMigrate(nil, testPostgres, nil, "invalid", nil); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestRunMigrateForceArguments(t *testing.T) {
	if err := RunMigrate(nil, testPostgres, nil, MigrateForce, nil); err == nil {
		t.Fatal("expected error for missing force version")
	}
	if err := RunMigrate(nil, testPostgres, nil, MigrateForce, []string{"x"}); err == nil {
		t.Fatal("expected error for non numeric force version")
	}
}
