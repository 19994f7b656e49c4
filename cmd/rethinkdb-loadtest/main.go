// Command rethinkdb-loadtest writes generated documents through the
// adapter with a number of concurrent workers and reports throughput and
// pool statistics.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jasonkayzk/waterline-rethinkdb/adapter"
	"github.com/jasonkayzk/waterline-rethinkdb/config"
	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

var json = jsoniter.ConfigFastest

var (
	configPath  = pflag.StringP("config", "c", "", "adapter config file (json, yaml or toml)")
	envFile     = pflag.String("env", ".env", "dotenv file with RETHINKDB_* variables")
	table       = pflag.StringP("table", "t", "loadtest_users", "collection to write to")
	count       = pflag.IntP("count", "n", 1000, "documents to create")
	concurrency = pflag.IntP("concurrency", "j", 10, "concurrent writers")
	drop        = pflag.Bool("drop", false, "drop the table before and after the run")
	watch       = pflag.Bool("watch", false, "reconfigure the pool when the config file changes")
	logLevel    = pflag.String("log-level", "", "log level, overrides the config")
	fixture     = pflag.String("fixture", "", "JSON file with the collection definition")
)

type result struct {
	Table    string        `json:"table"`
	Created  int64         `json:"created"`
	Failed   int64         `json:"failed"`
	Elapsed  time.Duration `json:"elapsed"`
	PerSec   float64       `json:"perSec"`
	Pool     interface{}   `json:"pool"`
	Messages []string      `json:"errors,omitempty"`
}

func main() {
	pflag.Parse()
	if err := run(); err != nil {
		log.WithError(err).Fatal("load test failed")
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := adapter.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Teardown(tctx); err != nil {
			log.WithError(err).Warn("teardown")
		}
	}()

	if *watch && *configPath != "" {
		go watchConfig(ctx, a)
	}

	coll, err := loadCollection()
	if err != nil {
		return err
	}
	if coll, err = a.RegisterCollection(ctx, coll); err != nil {
		return err
	}

	res := write(ctx, a, coll)
	res.Pool = a.Stats()
	log.WithFields(a.Stats().Fields()).WithFields(log.Fields{
		"created": res.Created,
		"failed":  res.Failed,
		"elapsed": res.Elapsed,
		"perSec":  fmt.Sprintf("%.1f", res.PerSec),
	}).Info("load test done")

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if *drop {
		return a.Drop(ctx, coll.Identity)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(*envFile); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if *drop {
		cfg.Migrate = config.MigrateDrop
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	return cfg, cfg.Validate()
}

func watchConfig(ctx context.Context, a *adapter.Adapter) {
	err := config.Watch(ctx, *configPath, func(next *config.Config) {
		if err := config.ApplyEnv(next); err != nil {
			log.WithError(err).Warn("config reload ignored")
			return
		}
		next.Migrate = a.Config().Migrate
		if err := a.Apply(ctx, next); err != nil {
			log.WithError(err).Warn("pool reconfigure")
		}
	})
	if err != nil {
		log.WithError(err).Error("config watch stopped")
	}
}

type fixtureFile struct {
	Identity   string                 `json:"identity"`
	Attributes map[string]interface{} `json:"attributes"`
}

func loadCollection() (*adapter.Collection, error) {
	if *fixture == "" {
		return &adapter.Collection{
			Identity: *table,
			Definition: map[string]*adapter.Attribute{
				"first_name": {Type: "string"},
				"last_name":  {Type: "string"},
				"email":      {Type: "string", Unique: true},
			},
		}, nil
	}

	data, err := os.ReadFile(*fixture)
	if err != nil {
		return nil, err
	}
	var f fixtureFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", *fixture, err)
	}
	attrs, err := adapter.DecodeAttributes(f.Attributes)
	if err != nil {
		return nil, err
	}
	if f.Identity == "" {
		f.Identity = *table
	}
	return &adapter.Collection{Identity: f.Identity, Definition: attrs}, nil
}

func write(ctx context.Context, a *adapter.Adapter, coll *adapter.Collection) result {
	var (
		created, failed int64
		mu              sync.Mutex
		messages        []string
		wg              sync.WaitGroup
	)
	jobs := make(chan int)

	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range jobs {
				_, err := a.Create(ctx, coll.Identity, document(coll, n))
				if err == nil {
					atomic.AddInt64(&created, 1)
					continue
				}
				atomic.AddInt64(&failed, 1)
				if errors.Is(err, context.Canceled) {
					continue
				}
				mu.Lock()
				if len(messages) < 10 {
					messages = append(messages, err.Error())
				}
				mu.Unlock()
				log.WithError(err).Debug("create failed")
			}
		}()
	}

feed:
	for n := 0; n < *count; n++ {
		select {
		case jobs <- n:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	elapsed := time.Since(start)
	return result{
		Table:    coll.Identity,
		Created:  created,
		Failed:   failed,
		Elapsed:  elapsed,
		PerSec:   float64(created) / elapsed.Seconds(),
		Messages: messages,
	}
}

// document fills every attribute with a value of its type, strings are
// random so unique attributes never collide.
func document(coll *adapter.Collection, n int) map[string]interface{} {
	doc := make(map[string]interface{}, len(coll.Definition))
	for name, attr := range coll.Definition {
		if attr.PrimaryKey {
			continue
		}
		switch attr.Type {
		case "integer", "number", "float":
			doc[name] = n
		case "boolean":
			doc[name] = n%2 == 0
		case "datetime", "date":
			doc[name] = time.Now().UTC()
		default:
			doc[name] = name + "-" + uuid.New().String()
		}
	}
	if _, ok := coll.Definition["email"]; ok {
		doc["email"] = uuid.New().String() + "@loadtest.local"
	}
	return doc
}
