package config

import "time"

// Config holds runtime settings for the relay client.
//
// Fields:
//   - ServerEndpointAddr: host:port of the relay gRPC endpoint.
//   - Token: device credential; prompted for when empty.
//   - RequestTimeout: how long a request waits for its response.
//   - HistoryDB: path of the local SQLite message history.
//   - DownloadDir: where fetched attachments are written.
type Config struct {
	ServerEndpointAddr string
	Token              string
	RequestTimeout     time.Duration
	HistoryDB          string
	DownloadDir        string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.RequestTimeout = 10 * time.Second
	c.HistoryDB = "history.db"
	c.DownloadDir = "downloads"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
