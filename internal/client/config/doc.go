// Package config loads runtime configuration for the relay client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c / -config or CHATRELAY_CONFIG.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-a string   address:port of the relay gRPC endpoint
//	-t string   device credential
//	-r int      request timeout (seconds)
//	-s string   local history database path
//	-d string   attachment download directory
//
// # JSON schema
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "token": "eyJ...",
//	  "request_timeout": "10s",
//	  "history_db": "history.db",
//	  "download_dir": "downloads"
//	}
package config
