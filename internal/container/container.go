package container

import (
	"errors"
	"fmt"
	"time"

	"github.com/serroba/shortlink/internal/shortener"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Click dispatch modes.
const (
	DispatchWorker = "worker"
	DispatchQueue  = "queue"
)

type Options struct {
	Port          int    `default:"8888"           help:"Port to listen on"                                 short:"p"`
	BaseURL       string `default:""               help:"Public base URL of short links, http://localhost:<port> if empty"`
	CodeLength    int    `default:"6"              help:"Length of generated short codes"                   short:"c"`
	MappingTTL    string `default:"720h"           help:"How long a short URL stays valid"`
	Store         string `default:"memory"         help:"Storage backend: memory, redis or postgres"`
	RedisAddr     string `default:"localhost:6379" help:"Redis server address"                              short:"r"`
	DatabaseURL   string `default:""               help:"PostgreSQL connection string"`
	CacheTTL      string `default:"10m"            help:"Redis cache TTL in front of PostgreSQL, 0 disables it"`
	Dispatch      string `default:"worker"         help:"Where click tasks go: worker or queue (queue needs a redis or postgres store)"`
	Workers       int    `default:"4"              help:"Click worker goroutines"`
	QueueSize     int    `default:"1024"           help:"Click worker queue size"`
	ClickTimeout  string `default:"3s"             help:"Timeout of one click recording attempt"`
	ClickAttempts int    `default:"3"              help:"Attempts before a click is dead-lettered"`
	EventLogCap   int    `default:"10000"          help:"Click events retained per short code"`
	Feed          string `default:"memory"         help:"Live feed transport: memory or redis"`
	Development   bool   `default:"false"          help:"Expose error details in responses"`
	LogFormat     string `default:"json"           help:"Log output format: json or console"`
}

// PublicBaseURL is the prefix of generated short URLs.
func (o *Options) PublicBaseURL() string {
	if o.BaseURL != "" {
		return o.BaseURL
	}

	return fmt.Sprintf("http://localhost:%d", o.Port)
}

// ErrQueueNeedsSharedStore rejects queue dispatch over the memory store: the
// consumer process would record clicks into a ledger nobody else reads.
var ErrQueueNeedsSharedStore = errors.New("queue dispatch needs a redis or postgres store")

func (o *Options) checkDispatch() error {
	if o.Dispatch == DispatchQueue && o.Store == BackendMemory {
		return ErrQueueNeedsSharedStore
	}

	return nil
}

func (o *Options) mappingTTL() (time.Duration, error) {
	return parseDuration("mapping ttl", o.MappingTTL, shortener.DefaultTTL)
}

func (o *Options) cacheTTL() (time.Duration, error) {
	return parseDuration("cache ttl", o.CacheTTL, 0)
}

func (o *Options) clickTimeout() (time.Duration, error) {
	return parseDuration("click timeout", o.ClickTimeout, 0)
}

func parseDuration(name, raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}

	return d, nil
}
