package database

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// sqlxWithDriverName builds an unconnected sqlx.DB, enough for Rebind
func sqlxWithDriverName(driverName string) *sqlx.DB {
	return sqlx.NewDb(&sql.DB{}, driverName)
}
