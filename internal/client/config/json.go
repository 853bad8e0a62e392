package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/flagx"
	"github.com/dmitrijs2005/chatrelay/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Absent keys
// leave the current value alone.
type JsonConfig struct {
	ServerEndpointAddr *string         `json:"server_endpoint_addr"`
	Token              *string         `json:"token"`
	RequestTimeout     *timex.Duration `json:"request_timeout"`
	HistoryDB          *string         `json:"history_db"`
	DownloadDir        *string         `json:"download_dir"`
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c / -config (or CHATRELAY_CONFIG). Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.ConfigFile()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerEndpointAddr != nil {
		cfg.ServerEndpointAddr = *jc.ServerEndpointAddr
	}
	if jc.Token != nil {
		cfg.Token = *jc.Token
	}
	if jc.RequestTimeout != nil {
		cfg.RequestTimeout = time.Duration(jc.RequestTimeout.Duration)
	}
	if jc.HistoryDB != nil {
		cfg.HistoryDB = *jc.HistoryDB
	}
	if jc.DownloadDir != nil {
		cfg.DownloadDir = *jc.DownloadDir
	}
}
