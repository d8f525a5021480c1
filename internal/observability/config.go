package observability

import (
	"os"
	"strings"
	"time"

	"github.com/smallbiznis/reconciler/internal/config"
	"github.com/spf13/cast"
)

const (
	defaultServiceName        = "reconciler"
	defaultSamplingRatio      = 0.1
	defaultSlowQueryThreshold = 200 * time.Millisecond
)

// Config holds observability settings. Values come from config.Config and
// may be overridden by the standard OTEL_* and LOG_* environment variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	// NodeID is the snowflake node of this instance; it tells apart sweeper
	// and webhook logs from replicas sharing one database.
	NodeID int64

	LogLevel  string
	LogFormat string
	// LogSQL logs every statement at debug level instead of only slow or
	// failed ones.
	LogSQL             bool
	SlowQueryThreshold time.Duration

	// ProductionEnvironments are attached to startup logs so operators can
	// see which provider traffic carries financial effects.
	ProductionEnvironments []string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	protocol := lookup("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if traces := lookup("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", ""); traces != "" {
		protocol = traces
	}

	return Config{
		ServiceName:            serviceName,
		Environment:            lookup("DEPLOYMENT_ENV", cfg.Environment),
		Version:                lookup("SERVICE_VERSION", cfg.AppVersion),
		NodeID:                 cfg.NodeID,
		LogLevel:               strings.ToLower(lookup("LOG_LEVEL", "info")),
		LogFormat:              strings.ToLower(lookup("LOG_FORMAT", "json")),
		LogSQL:                 lookupBool("LOG_SQL", false),
		SlowQueryThreshold:     lookupDuration("DB_SLOW_QUERY_THRESHOLD", defaultSlowQueryThreshold),
		ProductionEnvironments: append([]string(nil), cfg.Webhook.ProductionEnvironments...),
		OtelEnabled:            lookupBool("OTEL_ENABLED", true),
		OtelExporterEndpoint:   lookup("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol:   strings.ToLower(protocol),
		OtelSamplingRatio:      lookupFloat("OTEL_SAMPLING_RATIO", defaultSamplingRatio),
	}
}

// Debug enables verbose HTTP logging and error stacks.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func lookup(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(def)
}

func lookupBool(key string, def bool) bool {
	value := lookup(key, "")
	if value == "" {
		return def
	}
	switch strings.ToLower(value) {
	case "y", "yes", "on":
		return true
	case "n", "no", "off":
		return false
	}
	parsed, err := cast.ToBoolE(value)
	if err != nil {
		return def
	}
	return parsed
}

func lookupFloat(key string, def float64) float64 {
	value := lookup(key, "")
	if value == "" {
		return def
	}
	parsed, err := cast.ToFloat64E(value)
	if err != nil || parsed < 0 || parsed > 1 {
		return def
	}
	return parsed
}

func lookupDuration(key string, def time.Duration) time.Duration {
	value := lookup(key, "")
	if value == "" {
		return def
	}
	parsed, err := cast.ToDurationE(value)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}
