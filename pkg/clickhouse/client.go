package clickhouse

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Client owns a database/sql pool opened through the clickhouse-go v2 driver.
type Client struct {
	db       *sql.DB
	database string
}

// NewClient opens the pool, pings it and makes sure cfg.Database exists.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("clickhouse host is required")
	}
	cfg = cfg.withDefaults()

	db := clickhouse.OpenDB(cfg.options())
	c := &Client{db: db, database: cfg.Database}

	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	if err := c.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+quoteIdent(cfg.Database)); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) DB() *sql.DB { return c.db }

// Table qualifies name with the client's database.
func (c *Client) Table(name string) string {
	return quoteIdent(c.database) + "." + quoteIdent(name)
}

func (c *Client) Health(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Exec runs idempotent DDL statements in order and stops at the first failure.
func (c *Client) Exec(ctx context.Context, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clickhouse exec: %w", err)
		}
	}
	return nil
}

func quoteIdent(s string) string { return "`" + s + "`" }
