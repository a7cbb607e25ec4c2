package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerPort            = 8080
	DefaultServerMode            = "release"
	DefaultServerReadTimeout     = 15 * time.Second
	DefaultServerWriteTimeout    = 15 * time.Second
	DefaultServerShutdownTimeout = 10 * time.Second

	DefaultWSReadLimit    = 64 << 10
	DefaultWSWriteTimeout = 5 * time.Second
	DefaultWSPingInterval = 30 * time.Second
	DefaultWSSendBuffer   = 64

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMetricsNamespace = "mapsync"
	DefaultMetricsPath      = "/metrics"

	DefaultQuiescence     = 100 * time.Millisecond
	DefaultSettle         = 250 * time.Millisecond
	DefaultPollInterval   = 200 * time.Millisecond
	DefaultEpsilonDegrees = 1e-5
	DefaultEpsilonZoom    = 1e-6

	// Seoul City Hall.
	DefaultInitialLat  = 37.5665
	DefaultInitialLng  = 126.9780
	DefaultInitialZoom = 15

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "mapsync:"
	DefaultRedisPoolSize  = 10
	DefaultRedisStateTTL  = 24 * time.Hour

	DefaultKafkaBroker   = "localhost:9092"
	DefaultKafkaTopic    = "mapsync.sync-journal"
	DefaultKafkaClientID = "mapsync"

	DefaultMirrorQueueSize = 256
)

// Quiescence window bounds accepted by Validate.
const (
	MinQuiescence = 50 * time.Millisecond
	MaxQuiescence = 350 * time.Millisecond
)

// ApplyDefaults fills every zero-value field in cfg with the service default.
// Fields that have already been set by the caller (non-zero values) are left
// unchanged so that explicit configuration always wins.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultServerShutdownTimeout
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if cfg.WebSocket.ReadLimit == 0 {
		cfg.WebSocket.ReadLimit = DefaultWSReadLimit
	}
	if cfg.WebSocket.WriteTimeout == 0 {
		cfg.WebSocket.WriteTimeout = DefaultWSWriteTimeout
	}
	if cfg.WebSocket.PingInterval == 0 {
		cfg.WebSocket.PingInterval = DefaultWSPingInterval
	}
	if cfg.WebSocket.SendBuffer == 0 {
		cfg.WebSocket.SendBuffer = DefaultWSSendBuffer
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}

	// ── Sync ──────────────────────────────────────────────────────────────────
	if cfg.Sync.Quiescence == 0 {
		cfg.Sync.Quiescence = DefaultQuiescence
	}
	if cfg.Sync.Settle == 0 {
		cfg.Sync.Settle = DefaultSettle
	}
	if cfg.Sync.PollInterval == 0 {
		cfg.Sync.PollInterval = DefaultPollInterval
	}
	if cfg.Sync.EpsilonDegrees == 0 {
		cfg.Sync.EpsilonDegrees = DefaultEpsilonDegrees
	}
	if cfg.Sync.EpsilonZoom == 0 {
		cfg.Sync.EpsilonZoom = DefaultEpsilonZoom
	}

	// ── Initial viewport ──────────────────────────────────────────────────────
	// (0, 0) is in the Gulf of Guinea; treat an all-zero section as unset.
	if cfg.InitialViewport == (ViewportConfig{}) {
		cfg.InitialViewport = ViewportConfig{Lat: DefaultInitialLat, Lng: DefaultInitialLng, Zoom: DefaultInitialZoom}
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = DefaultRedisPoolSize
	}
	if cfg.Redis.StateTTL == 0 {
		cfg.Redis.StateTTL = DefaultRedisStateTTL
	}
	if cfg.Redis.QueueSize == 0 {
		cfg.Redis.QueueSize = DefaultMirrorQueueSize
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = DefaultKafkaTopic
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = DefaultKafkaClientID
	}
	if cfg.Kafka.QueueSize == 0 {
		cfg.Kafka.QueueSize = DefaultMirrorQueueSize
	}
}
