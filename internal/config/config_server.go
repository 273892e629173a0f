package config

// ServerConfig configures the optional HTTP surface (health/metrics) a
// host process exposes alongside the engine.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}
