package ratelimit

import (
	"context"
	"fmt"
	"strings"
)

// RateLimiter paces gateway sends per key. Keys are built with RobotKey.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// RobotKey is the limiter key of a sending robot.
func RobotKey(robot int) string {
	return fmt.Sprintf("robot-%d", robot)
}

// NormalizeKey lower-cases and trims a limiter key.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
