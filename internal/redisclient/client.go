package redisclient

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client wraps a Redis client with OpenTelemetry tracing
type Client struct {
	cmdable redis.Cmdable
	closer  func() error
}

// NewClient creates a new traced Redis client for single Redis instance
func NewClient(client *redis.Client) *Client {
	return &Client{cmdable: client, closer: client.Close}
}

// NewClusterClient creates a new traced Redis client for Redis cluster
func NewClusterClient(client *redis.ClusterClient) *Client {
	return &Client{cmdable: client, closer: client.Close}
}

// startSpan opens a span for one command; the returned func ends it
func startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(cmd redis.Cmder)) {
	start := time.Now()
	attrs = append(attrs,
		attribute.String("redis.operation", operation),
		attribute.String("redis.client", "app-resume-cache"),
	)
	ctx, span := otel.Tracer("redis").Start(ctx, "redis."+operation, trace.WithAttributes(attrs...))

	return ctx, func(cmd redis.Cmder) {
		duration := time.Since(start)
		span.SetAttributes(
			attribute.Int64("redis.duration_ms", duration.Milliseconds()),
			attribute.String("redis.duration", duration.String()),
		)
		if err := cmd.Err(); err != nil && !errors.Is(err, redis.Nil) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("redis.error", err.Error()))
		} else {
			span.SetStatus(codes.Ok, "success")
		}
		span.End()
	}
}

// Ping wraps Redis Ping with tracing
func (c *Client) Ping(ctx context.Context) *redis.StatusCmd {
	ctx, end := startSpan(ctx, "ping")
	cmd := c.cmdable.Ping(ctx)
	end(cmd)
	return cmd
}

// Del wraps Redis Del with tracing
func (c *Client) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	ctx, end := startSpan(ctx, "del",
		attribute.StringSlice("redis.keys", keys),
		attribute.Int("redis.key_count", len(keys)),
	)
	cmd := c.cmdable.Del(ctx, keys...)
	end(cmd)
	return cmd
}

// Keys wraps Redis Keys with tracing
func (c *Client) Keys(ctx context.Context, pattern string) *redis.StringSliceCmd {
	ctx, end := startSpan(ctx, "keys", attribute.String("redis.pattern", pattern))
	cmd := c.cmdable.Keys(ctx, pattern)
	end(cmd)
	return cmd
}

// RPush wraps Redis RPush with tracing
func (c *Client) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	ctx, end := startSpan(ctx, "rpush",
		attribute.String("redis.key", key),
		attribute.Int("redis.value_count", len(values)),
		attribute.String("redis.type", "list"),
	)
	cmd := c.cmdable.RPush(ctx, key, values...)
	end(cmd)
	return cmd
}

// LRange wraps Redis LRange with tracing
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	ctx, end := startSpan(ctx, "lrange",
		attribute.String("redis.key", key),
		attribute.Int64("redis.start", start),
		attribute.Int64("redis.stop", stop),
		attribute.String("redis.type", "list"),
	)
	cmd := c.cmdable.LRange(ctx, key, start, stop)
	end(cmd)
	return cmd
}

// LRem wraps Redis LRem with tracing
func (c *Client) LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd {
	ctx, end := startSpan(ctx, "lrem",
		attribute.String("redis.key", key),
		attribute.Int64("redis.count", count),
		attribute.String("redis.type", "list"),
	)
	cmd := c.cmdable.LRem(ctx, key, count, value)
	end(cmd)
	return cmd
}

// LLen wraps Redis LLen with tracing
func (c *Client) LLen(ctx context.Context, key string) *redis.IntCmd {
	ctx, end := startSpan(ctx, "llen",
		attribute.String("redis.key", key),
		attribute.String("redis.type", "list"),
	)
	cmd := c.cmdable.LLen(ctx, key)
	end(cmd)
	return cmd
}

// TxPipelined runs fn inside MULTI/EXEC with tracing
func (c *Client) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	ctx, end := startSpan(ctx, "multi")
	cmds, err := c.cmdable.TxPipelined(ctx, fn)
	status := redis.NewStatusCmd(ctx)
	status.SetErr(err)
	end(status)
	return cmds, err
}

// Close releases the underlying connection pool
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
