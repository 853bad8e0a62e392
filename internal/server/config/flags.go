package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/flagx"
)

var serverFlags = []string{"-a", "-w", "-d", "-s", "-f", "-t", "-q", "-l", "-k", "-u", "-p", "-b", "-g", "-e", "-v"}

// parseFlags populates server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-w string   HTTP bind address for /ws, /metrics, /healthz
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-f int      device freshness window, minutes
//	-t int      request timeout, seconds
//	-q int      outbound queue size per connection
//	-l float    requests per second per connection
//	-k int      request burst per connection
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-v string   log level
//
// Flags not listed here are filtered out first with flagx.FilterArgs.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], serverFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "gRPC address and port")
	fs.StringVar(&config.EndpointAddrHTTP, "w", config.EndpointAddrHTTP, "HTTP address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	freshness := fs.Int("f", int(config.DeviceFreshnessWindow.Minutes()), "device freshness window (in minutes)")
	timeout := fs.Int("t", int(config.RequestTimeout.Seconds()), "request timeout (in seconds)")

	fs.IntVar(&config.OutboundQueueSize, "q", config.OutboundQueueSize, "outbound queue size")
	fs.Float64Var(&config.RateLimitRPS, "l", config.RateLimitRPS, "requests per second per connection")
	fs.IntVar(&config.RateLimitBurst, "k", config.RateLimitBurst, "request burst per connection")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.DeviceFreshnessWindow = time.Duration(*freshness) * time.Minute
	config.RequestTimeout = time.Duration(*timeout) * time.Second
}
