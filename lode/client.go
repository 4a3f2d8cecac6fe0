package lode

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/kiln/policy"
	"github.com/pithecene-io/kiln/types"
)

// DefaultDataset is the dataset id telemetry is written to.
const DefaultDataset = "kiln"

// partitionKeys is the Hive layout shared by the write and read paths.
var partitionKeys = []string{"role", "method", "day", "record_kind"}

// Config holds telemetry client configuration.
type Config struct {
	// Dataset is the Lode dataset id (default "kiln").
	Dataset string
}

func (c Config) dataset() string {
	if c.Dataset == "" {
		return DefaultDataset
	}
	return c.Dataset
}

// Client writes telemetry records to a Lode dataset partitioned by
// role/method/day/record_kind. It implements policy.Sink.
type Client struct {
	dataset lode.Dataset
	config  Config

	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error
}

// NewFSClient creates a client with filesystem storage under root.
func NewFSClient(cfg Config, root string) (*Client, error) {
	return NewClient(cfg, lode.NewFSFactory(root))
}

// NewClient creates a client over any store factory.
// Use lode.NewMemoryFactory() in tests.
func NewClient(cfg Config, factory lode.StoreFactory) (*Client, error) {
	ds, err := newDataset(cfg.dataset(), factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.dataset())
	}
	return &Client{dataset: ds, config: cfg, storeFactory: factory}, nil
}

func newDataset(id string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(id),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// Write validates and writes a batch of records as one snapshot.
// An invalid record rejects the whole batch.
func (c *Client) Write(ctx context.Context, records []*types.TelemetryRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]any, 0, len(records))
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("telemetry batch record %d: %w", i, err)
		}
		rows = append(rows, toRecordMap(r))
	}
	if _, err := c.dataset.Write(ctx, rows, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.config.dataset())
	}
	return nil
}

// PutSource archives generated program source next to the dataset at
//
//	datasets/<dataset>/partitions/role=<r>/method=<m>/files/<checksum>.go
//
// bypassing the snapshot machinery. Rewriting the same checksum is
// harmless since the content is identical.
func (c *Client) PutSource(ctx context.Context, role, method, checksum string, code []byte) error {
	store, err := c.getOrCreateStore()
	if err != nil {
		return WrapInitError(err, c.config.dataset())
	}
	p := c.sourcePath(role, method, checksum)
	if err := store.Put(ctx, p, bytes.NewReader(code)); err != nil {
		return wrap(err, "put", p)
	}
	return nil
}

func (c *Client) getOrCreateStore() (lode.Store, error) {
	c.storeOnce.Do(func() {
		c.store, c.storeErr = c.storeFactory()
	})
	return c.store, c.storeErr
}

func (c *Client) sourcePath(role, method, checksum string) string {
	return path.Join("datasets", c.config.dataset(), "partitions",
		"role="+role, "method="+method, "files", checksum+".go")
}

// Close releases client resources. Datasets hold none.
func (c *Client) Close() error {
	return nil
}

var _ policy.Sink = (*Client)(nil)
