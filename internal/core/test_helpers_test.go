package core

import (
	"context"
	"time"
)

type metricsCall struct {
	op      string
	success bool
}

type captureRecorder struct {
	calls []metricsCall
}

func (c *captureRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureLogger struct {
	debugs []string
	infos  []string
	errors []string
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.debugs = append(c.debugs, msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.infos = append(c.infos, msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.errors = append(c.errors, msg) }
