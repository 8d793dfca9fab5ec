package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			AgentName: "John Doe",
		},
		Web: WebConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Timeline: TimelineConfig{
			DeliverDelayMs:  500,
			TypingDelayMs:   1000,
			TakeOverDelayMs: 500,
		},
		Directory: DirectoryConfig{
			DBPath: ":memory:",
		},
		Login: LoginConfig{
			Email:         "agent@csa.com",
			Password:      "password123",
			DelayMs:       2000,
			RatePerSecond: 0.2,
			Burst:         5,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Client: ClientConfig{
			BaseURL:        "http://localhost:8080/api",
			TimeoutSeconds: 30,
			Retries:        1,
		},
	}
}
