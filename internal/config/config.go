// Package config centralizes the tunables that the storage engine's
// subsystems would otherwise hard-code: page geometry, cache capacity, WAL
// buffering, B+ tree fan-out, and lock wait timeout.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every engine-wide tunable. Zero value is invalid; use
// Default() or Load().
type Config struct {
	PageSize int // bytes per page, fixed for the lifetime of a database

	CacheCapacity int // max resident pages in the page cache

	WALRingBufferSize int // bytes in the WAL producer/writer ring buffer
	WALStagingSize    int // bytes in the writer's staging buffer

	BalanceNumber int // B+ tree keys per half-node after a split

	LockWaitTimeout time.Duration // acquire() wait before LockWaitTimeout

	SeqEndpoint string // Seq log sink address; logging.SetupLogger does not read it and always targets http://localhost:5341
	TCPPort     int    // wire protocol listen port
}

// Default returns the engine's baseline configuration.
func Default() Config {
	return Config{
		PageSize:          8192,
		CacheCapacity:     1024,
		WALRingBufferSize: 1 << 20,
		WALStagingSize:    8192,
		BalanceNumber:     16,
		LockWaitTimeout:   30 * time.Second,
		SeqEndpoint:       "http://localhost:5341",
		TCPPort:           9999,
	}
}

// Load applies environment overrides on top of Default(). Unset or
// unparsable variables are ignored (the default wins).
func Load() Config {
	cfg := Default()

	if v, ok := lookupInt("MINISQL_PAGE_SIZE"); ok {
		cfg.PageSize = v
	}
	if v, ok := lookupInt("MINISQL_CACHE_CAPACITY"); ok {
		cfg.CacheCapacity = v
	}
	if v, ok := lookupInt("MINISQL_WAL_RING_BYTES"); ok {
		cfg.WALRingBufferSize = v
	}
	if v, ok := lookupInt("MINISQL_BALANCE_NUMBER"); ok {
		cfg.BalanceNumber = v
	}
	if v, ok := lookupInt("MINISQL_LOCK_TIMEOUT_SECONDS"); ok {
		cfg.LockWaitTimeout = time.Duration(v) * time.Second
	}
	if v, ok := os.LookupEnv("MINISQL_SEQ_ENDPOINT"); ok {
		cfg.SeqEndpoint = v
	}
	if v, ok := lookupInt("MINISQL_TCP_PORT"); ok {
		cfg.TCPPort = v
	}

	return cfg
}

func lookupInt(key string) (int, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
