package api

// Config holds server configuration.
type Config struct {
	Port    int
	Version string
	// StoreDir is the snapshot store root used by Start.
	StoreDir string
	// JournalPath is the journal database used by Start.
	JournalPath string
	// MaxUpload caps the size of an uploaded document in bytes. Zero means
	// validation.MaxFileSize.
	MaxUpload int64
	// SnapshotCacheBytes bounds the in-memory cache of decompressed
	// snapshots. Zero uses the cache default; negative disables it.
	SnapshotCacheBytes int64

	// Defaults applied to every annotation request.
	DefaultAuthor string
	MaxParagraphs int
	Strict        bool

	RateLimitRequests int        // Requests per minute (0 = disabled)
	RateLimitBurst    int        // Burst size
	Auth              AuthConfig // Authentication configuration
	TLS               TLSConfig  // TLS configuration
	AllowedOrigins    []string   // CORS and websocket allowed origins (empty = allow all)
}

// TLSConfig holds TLS/HTTPS configuration.
type TLSConfig struct {
	Enabled  bool   // Enable HTTPS
	CertFile string // Path to TLS certificate file
	KeyFile  string // Path to TLS private key file
}
