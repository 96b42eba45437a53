package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Redis     RedisConfig
	Mongo     MongoConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address               string
	Auth                  AuthConfig
	ConnectionLimit       ConnectionLimitConfig `mapstructure:"connectionLimit"`
	MaxRoomsPerConnection int                   `mapstructure:"maxRoomsPerConnection"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// RedisConfig configures the pub/sub bridge. An empty Addr means no broker:
// the service runs in single-instance mode with local-only fan-out.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
}

type MongoConfig struct {
	URI      string
	Database string
}

type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}
