package management

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/jenkins-relay/pkg/log"
	"github.com/cuemby/jenkins-relay/pkg/metrics"
	"github.com/cuemby/jenkins-relay/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultRetries is the number of retries after the first attempt
	DefaultRetries = 2

	// DefaultRetryDelay is the fixed delay between attempts
	DefaultRetryDelay = 2 * time.Second
)

// Config holds retry configuration
type Config struct {
	Retries    int
	RetryDelay time.Duration
	RemoteFS   string
}

// Client performs idempotent node registration against the coordinator.
// Creating an existing node and deleting a missing one are no-ops.
type Client struct {
	api    API
	cfg    Config
	logger zerolog.Logger
}

// NewClient wraps api with the idempotence and retry policy
func NewClient(api API, cfg *Config) *Client {
	c := Config{Retries: DefaultRetries, RetryDelay: DefaultRetryDelay}
	if cfg != nil {
		c = *cfg
		if c.Retries < 0 {
			c.Retries = 0
		}
		if c.RetryDelay < 0 {
			c.RetryDelay = 0
		}
	}
	return &Client{
		api:    api,
		cfg:    c,
		logger: log.WithComponent("management"),
	}
}

// Exists reports whether the node is registered
func (c *Client) Exists(ctx context.Context, creds types.Credentials, hostname string) (bool, error) {
	return c.api.NodeExists(ctx, creds, hostname)
}

// Create registers the worker unless a node with its hostname exists. The
// executor count is scaled by types.ExecutorMultiplier. Every attempt checks
// for the node first, so a create that landed before a transient error is
// not repeated.
func (c *Client) Create(ctx context.Context, creds types.Credentials, rec *types.WorkerRecord) error {
	logger := c.logger.With().Str("hostname", rec.Hostname).Logger()

	description := "registered by jenkins-relay"
	if rec.Endpoint != "" {
		description += " (" + rec.Endpoint + ")"
	}
	spec := NodeSpec{
		Name:        rec.Hostname,
		Executors:   rec.EffectiveExecutors(),
		Labels:      rec.LabelString(),
		RemoteFS:    c.cfg.RemoteFS,
		Description: description,
	}

	attempt := 0
	created := false
	err := c.retry(ctx, "create", func() error {
		attempt++
		exists, err := c.api.NodeExists(ctx, creds, rec.Hostname)
		if err != nil {
			return fmt.Errorf("failed to check node %s: %w", rec.Hostname, err)
		}
		if exists {
			return nil
		}
		if err := c.api.CreateNode(ctx, creds, spec); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		metrics.NodeOperationsTotal.WithLabelValues("create", "error").Inc()
		return fmt.Errorf("failed to create node %s after %d attempt(s): %w", rec.Hostname, attempt, err)
	}

	if !created && attempt == 1 {
		logger.Info().Msg("Node already registered, skipping creation")
		metrics.NodeOperationsTotal.WithLabelValues("create", "noop").Inc()
		return nil
	}

	logger.Info().
		Int("executors", spec.Executors).
		Str("labels", spec.Labels).
		Int("attempts", attempt).
		Msg("Node created")
	metrics.NodeOperationsTotal.WithLabelValues("create", "success").Inc()

	// The API is eventually consistent; a miss here is reported, not retried.
	if ok, err := c.api.NodeExists(ctx, creds, rec.Hostname); err != nil {
		logger.Warn().Err(err).Msg("Could not verify node after creation")
	} else if !ok {
		logger.Warn().Msg("Node not visible after successful creation")
		metrics.PostconditionMismatches.Inc()
	}
	return nil
}

// Delete removes the node if it is registered. Like Create, every attempt
// checks for the node first.
func (c *Client) Delete(ctx context.Context, creds types.Credentials, hostname string) error {
	logger := c.logger.With().Str("hostname", hostname).Logger()

	attempt := 0
	deleted := false
	err := c.retry(ctx, "delete", func() error {
		attempt++
		exists, err := c.api.NodeExists(ctx, creds, hostname)
		if err != nil {
			return fmt.Errorf("failed to check node %s: %w", hostname, err)
		}
		if !exists {
			return nil
		}
		err = c.api.DeleteNode(ctx, creds, hostname)
		if err != nil && !errors.Is(err, ErrNodeNotFound) {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		metrics.NodeOperationsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("failed to delete node %s after %d attempt(s): %w", hostname, attempt, err)
	}

	if !deleted && attempt == 1 {
		logger.Info().Msg("Node not registered, nothing to delete")
		metrics.NodeOperationsTotal.WithLabelValues("delete", "noop").Inc()
		return nil
	}

	logger.Info().Int("attempts", attempt).Msg("Node deleted")
	metrics.NodeOperationsTotal.WithLabelValues("delete", "success").Inc()
	return nil
}

// retry runs op with a constant backoff. Only TransientError is retried and
// a cancelled context stops before the next attempt.
func (c *Client) retry(ctx context.Context, operation string, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), uint64(c.cfg.Retries)),
		ctx,
	)

	return backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := op()
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		metrics.APIRetriesTotal.WithLabelValues(operation).Inc()
		c.logger.Warn().Err(err).Dur("retry_in", next).Str("operation", operation).Msg("Transient API error, retrying")
	})
}
