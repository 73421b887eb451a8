package constants

import "time"

// API Server Constants
const (
	// DefaultAPIHost is the default API server host
	DefaultAPIHost = "localhost"

	// DefaultAPIPort is the default API server port
	DefaultAPIPort = 8080

	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultMaxHeaderBytes is the default maximum request header size (1 MB)
	DefaultMaxHeaderBytes = 1 << 20 // 1 MB

	// DefaultEnableCORS enables the CORS middleware unless configured off
	DefaultEnableCORS = true

	// DefaultRateLimitPerSecond is the default rate limit (requests per second)
	DefaultRateLimitPerSecond = 1000

	// DefaultRateLimitBurst is the default rate limit burst size
	DefaultRateLimitBurst = 2000
)

// API Paths
const (
	// DefaultSearchPath is the default contact search endpoint path
	DefaultSearchPath = "/contacts/search"

	// DefaultMetricsPath is the default Prometheus endpoint path
	DefaultMetricsPath = "/metrics"
)

// Storage Constants
const (
	// DefaultDatabasePath is the default database location
	DefaultDatabasePath = "./data/contacts"

	// DefaultBackend is the default storage engine
	DefaultBackend = "pebble"

	// ContactsCollection is the collection searched for contacts
	ContactsCollection = "contacts"
)

// Search Constants
const (
	// RecordPolicyStrict fails a search on the first malformed record
	RecordPolicyStrict = "strict"

	// RecordPolicySkip skips malformed records and keeps scanning
	RecordPolicySkip = "skip"

	// DefaultRecordPolicy is the default malformed record policy
	DefaultRecordPolicy = RecordPolicyStrict

	// MetricsNamespace is the Prometheus namespace for all metrics
	MetricsNamespace = "contactstore"
)
