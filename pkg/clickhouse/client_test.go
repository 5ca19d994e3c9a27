package clickhouse

import (
	"testing"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
)

func TestOptions(t *testing.T) {
	cfg := defaultConfig()
	for _, opt := range []ClientOption{
		WithHost("db.local"),
		WithPort(8123),
		WithCredentials("eos", "secret"),
		WithHTTP(true),
		WithAsyncInsert(true, true),
		WithMaxExecutionTime(30 * time.Second),
		WithTimeouts(time.Second, 2*time.Second),
	} {
		opt(&cfg)
	}

	o := options(cfg)
	assert.Equal(t, ch.HTTP, o.Protocol)
	assert.Equal(t, []string{"db.local:8123"}, o.Addr)
	assert.Equal(t, "eos", o.Auth.Username)
	assert.Equal(t, "default", o.Auth.Database)
	assert.Equal(t, 30, o.Settings["max_execution_time"])
	assert.Equal(t, 1, o.Settings["async_insert"])
	assert.Equal(t, 1, o.Settings["wait_for_async_insert"])
	assert.Equal(t, time.Second, o.DialTimeout)
	assert.Equal(t, 2*time.Second, o.ReadTimeout)
}

func TestOptionsNative(t *testing.T) {
	cfg := defaultConfig()
	WithHost("::1")(&cfg)
	o := options(cfg)
	assert.Equal(t, ch.Native, o.Protocol)
	assert.Equal(t, []string{"[::1]:9000"}, o.Addr)
	assert.Empty(t, o.Settings)
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient()
	assert.Error(t, err)
}
