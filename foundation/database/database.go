// Package database provides support for access the database.
package database

import (
	"context"
	"fmt"
	logger "log"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/stdlib"
	"github.com/jmoiron/sqlx"
)

// Config is the required properties to use the database.
type Config struct {
	User         string
	Password     string
	Host         string
	Name         string
	DisableTLS   bool
	MaxOpenConns int
	// ConnectTimeout bounds how long Open keeps retrying, zero means a single attempt
	ConnectTimeout time.Duration
}

// connectionUrl builds the postgres url for cfg
func connectionUrl(cfg Config) string {
	sslMode := "require"
	if cfg.DisableTLS {
		sslMode = "disable"
	}

	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host,
		Path:     cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Open knows how to open a database connection based on the configuration.
// When cfg.ConnectTimeout is set the connection is retried with exponential backoff until it succeeds
// or the timeout passes, a database coming up alongside the service is common in deployments.
func Open(log *logger.Logger, cfg Config) (*sqlx.DB, error) {
	dbUrl := connectionUrl(cfg)
	if cfg.ConnectTimeout <= 0 {
		return connect(dbUrl, cfg.MaxOpenConns)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = cfg.ConnectTimeout

	var db *sqlx.DB
	err := backoff.RetryNotify(func() error {
		var err error
		db, err = connect(dbUrl, cfg.MaxOpenConns)
		return err
	}, b, func(err error, d time.Duration) {
		log.Printf("unable to connect to database on %s, retrying in %v. error: %v", cfg.Host, d, err)
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database on %s: %w", cfg.Host, err)
	}
	return db, nil
}

func connect(dbUrl string, maxOpenConns int) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", dbUrl)
	if err != nil {
		return nil, err
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	return db, nil
}

// StatusCheck returns nil if it can successfully talk to the database.
func StatusCheck(ctx context.Context, db *sqlx.DB) error {
	var result bool
	return db.QueryRowContext(ctx, "select true").Scan(&result)
}

// PrepareNamedQueryFromMap wraps boilerplate sqlx to prepare named query from map of ddl parameters
// returns rebound query string and arguments slice
func PrepareNamedQueryFromMap(
	statementString string,
	db *sqlx.DB,
	sqlArgMap map[string]interface{}) (string, []interface{}, error) {

	query, args, err := sqlx.Named(statementString, sqlArgMap)
	if err != nil {
		return query, nil, err
	}
	query, args, err = sqlx.In(query, args...)
	if err != nil {
		return query, nil, err
	}
	query = db.Rebind(query)
	return query, args, nil
}

// PrepareNamedQueryRowsFromMap wraps boilerplate sqlx to prepare named query from map of ddl parameters
// returns sqlx.Rows after executing query with db.QueryxContext
func PrepareNamedQueryRowsFromMap(
	ctx context.Context,
	statementString string,
	db *sqlx.DB,
	sqlArgMap map[string]interface{}) (*sqlx.Rows, error) {

	query, args, err := PrepareNamedQueryFromMap(statementString, db, sqlArgMap)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
