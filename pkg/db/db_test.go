package db

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fulfillment-controlplane/pkg/config"
)

func TestDialect(t *testing.T) {
	cfg := &config.Config{}

	cfg.Database.Type = "postgres"
	cfg.Database.DBNAME = "fulfillment"
	d, err := Dialect(cfg)
	require.NoError(t, err)
	require.Equal(t, "postgres", d.Name())
	require.Equal(t, "fulfillment", getDBNameFromDialector(d))

	cfg.Database.Type = "mysql"
	d, err = Dialect(cfg)
	require.NoError(t, err)
	require.Equal(t, "mysql", d.Name())
	require.Equal(t, "fulfillment", getDBNameFromDialector(d))

	cfg.Database.Type = "sqlite"
	cfg.Database.DBNAME = "file::memory:"
	d, err = Dialect(cfg)
	require.NoError(t, err)
	require.Equal(t, "sqlite", d.Name())

	cfg.Database.Type = "oracle"
	_, err = Dialect(cfg)
	require.Error(t, err)
}

func TestExtractDBNameFromDSN(t *testing.T) {
	require.Equal(t, "app", extractDBNameFromDSN("host=db user=u dbname=app port=5432"))
	require.Equal(t, "app", extractDBNameFromDSN("u:p@tcp(db:3306)/app?parseTime=True"))
	require.Equal(t, "unknown", extractDBNameFromDSN("host=db"))
}
