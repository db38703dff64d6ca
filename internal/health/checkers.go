package health

import (
	"context"
	"errors"

	"github.com/dray-io/vacuum/internal/metadata"
	"github.com/dray-io/vacuum/internal/metadata/keys"
)

// HealthCheckKey is read by MetadataChecker. It is never written.
const HealthCheckKey = keys.Prefix + "/health-check"

// Pinger is a backend that can verify its connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker probes a Pinger.
type PingChecker struct {
	name   string
	pinger Pinger
}

// NewPingChecker creates a PingChecker reported under name.
func NewPingChecker(name string, p Pinger) *PingChecker {
	return &PingChecker{name: name, pinger: p}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) CheckReady(ctx context.Context) error {
	if c.pinger == nil {
		return errors.New(c.name + " not configured")
	}
	return c.pinger.Ping(ctx)
}

// MetadataChecker verifies the metadata store answers a Get.
type MetadataChecker struct {
	store metadata.MetadataStore
}

// NewMetadataChecker creates a MetadataChecker.
func NewMetadataChecker(store metadata.MetadataStore) *MetadataChecker {
	return &MetadataChecker{store: store}
}

func (c *MetadataChecker) Name() string { return "metadata_store" }

// CheckReady reads HealthCheckKey. An absent key is healthy.
func (c *MetadataChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New("metadata store not configured")
	}
	_, err := c.store.Get(ctx, HealthCheckKey)
	return err
}

// FuncChecker wraps a function.
type FuncChecker struct {
	name  string
	check func(context.Context) error
}

// NewFuncChecker creates a FuncChecker.
func NewFuncChecker(name string, check func(context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: check}
}

func (c *FuncChecker) Name() string { return c.name }

func (c *FuncChecker) CheckReady(ctx context.Context) error {
	if c.check == nil {
		return nil
	}
	return c.check(ctx)
}
