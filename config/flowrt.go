package config

import "time"

// RuntimeConfig is the flow runtime's own configuration, built on top
// of the generic EnvConfig/ServerConfig/ServiceConfig primitives above
// rather than introducing a parallel loading mechanism.
type RuntimeConfig struct {
	Service ServiceConfig
	Server  ServerConfig
	CORS    CORSConfig

	PostgresDSN  string
	RedisAddr    string
	RedisDB      int
	CSRFSecret   string
	CookieSecure bool

	WorkerCount int
	TaskTimeout time.Duration
}

// LoadRuntimeConfig loads RuntimeConfig from the environment, using
// prefix the same way LoadAll does for the shared config blocks.
func LoadRuntimeConfig(prefix string) (*RuntimeConfig, error) {
	env := NewEnvConfig(prefix)
	cfg := &RuntimeConfig{
		Service: LoadServiceConfig(prefix),
		Server:  LoadServerConfig(prefix),
		CORS:    LoadCORSConfig(prefix + "_CORS"),

		PostgresDSN:  env.GetString("POSTGRES_DSN", "postgres://localhost:5432/flowrt?sslmode=disable"),
		RedisAddr:    env.GetString("REDIS_ADDR", "localhost:6379"),
		RedisDB:      env.GetInt("REDIS_DB", 0),
		CSRFSecret:   env.GetString("CSRF_SECRET", ""),
		CookieSecure: env.GetBool("COOKIE_SECURE", true),

		WorkerCount: env.GetInt("WORKER_COUNT", 5),
		TaskTimeout: env.GetDuration("TASK_TIMEOUT", 30*time.Second),
	}

	v := NewValidator()
	v.RequireOneOf("Service.Environment", cfg.Service.Environment, []string{"development", "staging", "production"})
	v.RequirePositiveInt("Server.Port", cfg.Server.Port)
	v.RequirePositiveInt("WorkerCount", cfg.WorkerCount)
	if err := v.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
