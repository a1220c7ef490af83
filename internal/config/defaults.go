package config

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Session: SessionConfig{
			StorePath:  "~/.wabridge/session.db",
			TerminalQR: true,
		},
		Phone: PhoneConfig{
			CountryCode: "62",
		},
		Dispatch: DispatchConfig{
			Serialize:      "none",
			LockTTLSeconds: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Responder: ResponderConfig{
			Enabled: true,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
