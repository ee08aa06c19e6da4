package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("JWT_EXPIRATION", "30m")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, ,http://b.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.JWT.Expiration)
	assert.Equal(t, 31*time.Minute, cfg.Sessions.RevocationTTL)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 5*time.Minute, cfg.Cache.CatalogTTL)
	assert.True(t, cfg.Migrations.AutoApply)
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsDevSecretInProduction(t *testing.T) {
	cfg := &Config{Env: EnvProduction, Port: 8080, JWT: JWTConfig{Secret: "dev_secret"}}
	assert.Error(t, cfg.Validate())

	cfg.JWT.Secret = "s3cret"
	assert.NoError(t, cfg.Validate())

	cfg.Port = 0
	assert.Error(t, cfg.Validate())
}

func TestDatabaseURL(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "roster", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5433/roster?sslmode=disable", db.URL())
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=roster sslmode=disable", db.DSN())
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Second, parseDuration("nonsense", time.Second))
	assert.Equal(t, 2*time.Hour, parseDuration("2h", time.Second))
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
