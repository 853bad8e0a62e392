package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
// Only -a, -t, -r, -s and -d are considered; other arguments are filtered out with
// flagx.FilterArgs.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-t", "-r", "-s", "-d"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	fs.StringVar(&cfg.Token, "t", cfg.Token, "device credential")
	fs.StringVar(&cfg.HistoryDB, "s", cfg.HistoryDB, "local message history database")
	fs.StringVar(&cfg.DownloadDir, "d", cfg.DownloadDir, "directory for fetched attachments")
	requestTimeout := fs.Int("r", int(cfg.RequestTimeout.Seconds()), "request timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RequestTimeout = time.Duration(*requestTimeout) * time.Second
}
