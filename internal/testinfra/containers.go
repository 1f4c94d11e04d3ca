//go:build integration

// Package testinfra starts throwaway PostgreSQL, MongoDB and Redis containers
// for integration tests using testcontainers-go.
package testinfra

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Container is a running test dependency reachable at URL.
type Container struct {
	URL       string
	terminate func(context.Context) error
}

// Terminate stops the container. It is safe to call on a nil Container.
func (c *Container) Terminate(ctx context.Context) {
	if c == nil || c.terminate == nil {
		return
	}
	if err := c.terminate(ctx); err != nil {
		log.Printf("failed to terminate container: %v", err)
	}
}

// StartPostgreSQL starts a PostgreSQL container.
func StartPostgreSQL(ctx context.Context) (*Container, error) {
	log.Println("Starting PostgreSQL container...")
	pg, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("promptgate_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	url, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pg.Terminate(ctx)
		return nil, fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
	}
	return &Container{URL: url, terminate: func(ctx context.Context) error { return pg.Terminate(ctx) }}, nil
}

// StartMongoDB starts a MongoDB container.
func StartMongoDB(ctx context.Context) (*Container, error) {
	log.Println("Starting MongoDB container...")
	mg, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		return nil, fmt.Errorf("failed to start MongoDB container: %w", err)
	}

	url, err := mg.ConnectionString(ctx)
	if err != nil {
		_ = mg.Terminate(ctx)
		return nil, fmt.Errorf("failed to get MongoDB connection string: %w", err)
	}
	return &Container{URL: url, terminate: func(ctx context.Context) error { return mg.Terminate(ctx) }}, nil
}

// StartRedis starts a Redis container.
func StartRedis(ctx context.Context) (*Container, error) {
	log.Println("Starting Redis container...")
	rd, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis container: %w", err)
	}

	url, err := rd.ConnectionString(ctx)
	if err != nil {
		_ = rd.Terminate(ctx)
		return nil, fmt.Errorf("failed to get Redis connection string: %w", err)
	}
	return &Container{URL: url, terminate: func(ctx context.Context) error { return rd.Terminate(ctx) }}, nil
}
