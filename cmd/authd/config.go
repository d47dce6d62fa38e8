package main

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/goliatone/go-tenant-auth/repository"
)

// AppConfig is loaded from config/app.json and APP_ prefixed env vars.
type AppConfig struct {
	Server      ServerConfig   `koanf:"server" json:"server"`
	Persistence DatabaseConfig `koanf:"persistence" json:"persistence"`
	Auth        auth.Options   `koanf:"auth" json:"auth"`
	UseHashid   bool           `koanf:"use_hashid" json:"use_hashid"`
}

type ServerConfig struct {
	Address string `koanf:"address" json:"address"`
	// PruneInterval drives the expired refresh token sweep. Zero disables it.
	PruneInterval time.Duration `koanf:"prune_interval" json:"prune_interval"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" json:"driver"`
	DSN    string `koanf:"dsn" json:"dsn"`
}

func (c *AppConfig) GetAddress() string {
	if c.Server.Address == "" {
		return ":8572"
	}
	return c.Server.Address
}

func (c *AppConfig) GetDriver() string {
	if c.Persistence.Driver == "" {
		return repository.DriverSQLite
	}
	return c.Persistence.Driver
}

func (c *AppConfig) GetDSN() string {
	if c.Persistence.DSN == "" && c.GetDriver() == repository.DriverSQLite {
		return "file:authd.db?cache=shared"
	}
	return c.Persistence.DSN
}

// Validate is called by the config container after loading.
func (c *AppConfig) Validate() error {
	err := validation.Errors{
		"driver": validation.Validate(c.GetDriver(),
			validation.In(repository.DriverSQLite, repository.DriverPostgres)),
		"dsn":         validation.Validate(c.GetDSN(), validation.Required),
		"signing_key": validation.Validate(c.Auth.SigningKey, validation.Required, validation.Length(32, 0)),
	}.Filter()
	if err != nil {
		return err
	}
	if c.Server.PruneInterval < 0 {
		return errors.New("server.prune_interval must not be negative")
	}
	return nil
}
