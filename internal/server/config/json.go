package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/chatrelay/internal/flagx"
	"github.com/dmitrijs2005/chatrelay/internal/timex"
)

// JsonConfig is the on-disk shape of the server config file. Durations use
// timex.Duration so they can be written as "30m" or as integer nanoseconds.
// Pointer fields distinguish "absent" from zero so a partial file only
// overrides the keys it names.
type JsonConfig struct {
	EndpointAddrGRPC      *string         `json:"endpoint_addr_grpc"`
	EndpointAddrHTTP      *string         `json:"endpoint_addr_http"`
	DatabaseDSN           *string         `json:"database_dsn"`
	SecretKey             *string         `json:"secret_key"`
	DeviceFreshnessWindow *timex.Duration `json:"device_freshness_window"`
	DeviceTokenValidity   *timex.Duration `json:"device_token_validity"`
	RequestTimeout        *timex.Duration `json:"request_timeout"`
	OutboundQueueSize     *int            `json:"outbound_queue_size"`
	RateLimitRPS          *float64        `json:"rate_limit_rps"`
	RateLimitBurst        *int            `json:"rate_limit_burst"`
	S3RootUser            *string         `json:"s3_root_user"`
	S3RootPassword        *string         `json:"s3_root_password"`
	S3Bucket              *string         `json:"s3_bucket"`
	S3Region              *string         `json:"s3_region"`
	S3BaseEndpoint        *string         `json:"s3_base_endpoint"`
	AttachmentURLValidity *timex.Duration `json:"attachment_url_validity"`
	LogLevel              *string         `json:"log_level"`
}

// parseJson overlays values from the JSON file named by -c / -config (or
// CHATRELAY_CONFIG). No file means no changes. An unreadable file or invalid
// JSON panics, matching parseFlags.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFile()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.LogLevel, c.LogLevel)

	if c.DeviceFreshnessWindow != nil {
		config.DeviceFreshnessWindow = c.DeviceFreshnessWindow.Duration
	}
	if c.DeviceTokenValidity != nil {
		config.DeviceTokenValidity = c.DeviceTokenValidity.Duration
	}
	if c.RequestTimeout != nil {
		config.RequestTimeout = c.RequestTimeout.Duration
	}
	if c.AttachmentURLValidity != nil {
		config.AttachmentURLValidity = c.AttachmentURLValidity.Duration
	}
	if c.OutboundQueueSize != nil {
		config.OutboundQueueSize = *c.OutboundQueueSize
	}
	if c.RateLimitRPS != nil {
		config.RateLimitRPS = *c.RateLimitRPS
	}
	if c.RateLimitBurst != nil {
		config.RateLimitBurst = *c.RateLimitBurst
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
