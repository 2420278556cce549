// Command api serves the read-mostly HTTP query surface over every
// robot's index, plus the label-patch and clip-creation write paths.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"sync"

	"github.com/framebucket/framebucket/internal/api"
	"github.com/framebucket/framebucket/internal/config"
	"github.com/framebucket/framebucket/internal/index"
	"github.com/framebucket/framebucket/internal/logx"
	"github.com/framebucket/framebucket/internal/store"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the configuration document")
	flag.Parse()

	logger := logx.New("api")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	ctx := context.Background()
	upload, err := store.New(ctx, store.Options{
		Region: cfg.AwsS3.Region,
		Bucket: cfg.API.LabelledDataBucket,
	})
	if err != nil {
		logger.Fatalf("connect to labelled-data store: %v", err)
	}
	if err := upload.EnsureBucket(ctx, cfg.AwsS3.Region); err != nil {
		logger.Fatalf("ensure labelled-data bucket: %v", err)
	}

	opener := newIndexCache(cfg.Database.Path)
	defer opener.closeAll()

	srv := api.New(api.Config{
		DBDir:              cfg.Database.Path,
		RustfsPublicURL:    cfg.API.RustfsPublicURL,
		RustfsBucket:       cfg.API.RustfsBucket,
		LabelledDataBucket: cfg.API.LabelledDataBucket,
	}, opener.open, uploadAdapter{store: upload}, logger)

	addr := fmt.Sprintf(":%d", cfg.API.Port)
	logger.Printf("listening on %s", addr)
	if err := http.ListenAndServe(addr, srv); err != nil {
		logger.Fatalf("serve: %v", err)
	}
}

// uploadAdapter narrows store.Store's Put (which takes a context and a
// captured-at timestamp for session-index accounting) down to the
// plain key/data/content-type signature api.Store expects for
// clip-manifest uploads, which carry no capture timestamp of their own.
type uploadAdapter struct {
	store *store.Store
}

func (u uploadAdapter) Put(key string, data []byte, contentType string) error {
	return u.store.Put(context.Background(), key, data, contentType, 0)
}

// indexCache opens one index.DB per robot and reuses it across
// requests. The API both reads and writes (labels, collections, clips)
// through it; index.DB serializes those writes behind its own mutex, so
// one long-lived connection per robot is shared by every handler.
type indexCache struct {
	dbDir string
	mu    sync.Mutex
	dbs   map[string]*index.DB
}

func newIndexCache(dbDir string) *indexCache {
	return &indexCache{dbDir: dbDir, dbs: make(map[string]*index.DB)}
}

func (c *indexCache) open(robotID string) (*index.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if db, ok := c.dbs[robotID]; ok {
		return db, nil
	}
	db, err := index.Open(c.dbDir, robotID)
	if err != nil {
		return nil, err
	}
	c.dbs[robotID] = db
	return db, nil
}

func (c *indexCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, db := range c.dbs {
		db.Close()
	}
}
