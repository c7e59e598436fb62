// Package neo4jdb provides the Neo4j driver wrapper used by all stores.
package neo4jdb

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/kgforge/kgforge/internal/config"
)

const connectTimeout = 10 * time.Second

// Runner executes a single Cypher statement in its own transaction and
// returns the eager result records. Stores depend on this interface so tests
// can substitute a fake.
type Runner interface {
	Run(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error)
}

// Client wraps a neo4j.DriverWithContext bound to one database.
// Each Run call executes in a single managed write transaction, which is what
// gives the state CAS its atomicity.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	log      *logrus.Logger
}

// New connects to Neo4j and verifies connectivity before returning.
func New(ctx context.Context, cfg config.Neo4jConfig, password config.Secret, log *logrus.Logger) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, password.Value(), ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)

		return nil, fmt.Errorf("verifying neo4j connectivity: %w", err)
	}

	return &Client{driver: driver, database: cfg.Database, log: log}, nil
}

// Run executes one Cypher statement and collects all records eagerly.
func (c *Client) Run(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := neo4j.ExecuteQuery(ctx, c.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.database))
	if err != nil {
		return nil, fmt.Errorf("running cypher: %w", err)
	}

	return result.Records, nil
}

// HealthCheck verifies database reachability with a trivial query.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.Run(ctx, "RETURN 1 AS ok", nil); err != nil {
		return fmt.Errorf("health check query: %w", err)
	}

	return nil
}

// Close shuts down the underlying driver.
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}
