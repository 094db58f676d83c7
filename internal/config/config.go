package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // postgres | mysql
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Auth struct {
		// tenant -> API key
		APIKeys map[string]string `yaml:"apiKeys"`
	} `yaml:"auth"`

	RateLimit struct {
		Capacity   int `yaml:"capacity"`
		RefillRate int `yaml:"refillRate"`
	} `yaml:"rateLimit"`

	Tools struct {
		Nmap struct {
			Bin   string   `yaml:"bin"`
			Args  []string `yaml:"args"`
			Ports string   `yaml:"ports"`
		} `yaml:"nmap"`
		Nuclei struct {
			Bin       string `yaml:"bin"`
			Severity  string `yaml:"severity"`
			RateLimit int    `yaml:"rateLimit"`
		} `yaml:"nuclei"`
		GVM struct {
			Endpoint string `yaml:"endpoint"`
			Username string `yaml:"username"`
			Password string `yaml:"password"`
			Insecure bool   `yaml:"insecure"`
		} `yaml:"gvm"`
		ZAP struct {
			BaseURL string `yaml:"baseURL"`
			APIKey  string `yaml:"apiKey"`
		} `yaml:"zap"`
	} `yaml:"tools"`

	Resilience struct {
		BreakerThreshold int           `yaml:"breakerThreshold"`
		BreakerCooldown  time.Duration `yaml:"breakerCooldown"`
		RetryAttempts    int           `yaml:"retryAttempts"`
		RetryBaseDelay   time.Duration `yaml:"retryBaseDelay"`
	} `yaml:"resilience"`

	Orchestrator struct {
		Workers       int           `yaml:"workers"`
		ClaimInterval time.Duration `yaml:"claimInterval"`
		PollInterval  time.Duration `yaml:"pollInterval"`
		JobTimeout    time.Duration `yaml:"jobTimeout"`
	} `yaml:"orchestrator"`

	Correlation struct {
		TitleSimilarity float64 `yaml:"titleSimilarity"`
	} `yaml:"correlation"`

	KEV struct {
		URL string        `yaml:"url"`
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"kev"`

	OpenAI struct {
		APIKey string `yaml:"apiKey"`
		Model  string `yaml:"model"`
	} `yaml:"openai"`
}

// Load reads config.yaml
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.RateLimit.Capacity == 0 {
		c.RateLimit.Capacity = 60
	}
	if c.RateLimit.RefillRate == 0 {
		c.RateLimit.RefillRate = 1
	}
	if c.Resilience.BreakerThreshold == 0 {
		c.Resilience.BreakerThreshold = 5
	}
	if c.Resilience.BreakerCooldown == 0 {
		c.Resilience.BreakerCooldown = 30 * time.Second
	}
	if c.Resilience.RetryAttempts == 0 {
		c.Resilience.RetryAttempts = 3
	}
	if c.Resilience.RetryBaseDelay == 0 {
		c.Resilience.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.Orchestrator.Workers == 0 {
		c.Orchestrator.Workers = 4
	}
	if c.Orchestrator.ClaimInterval == 0 {
		c.Orchestrator.ClaimInterval = 2 * time.Second
	}
	if c.Orchestrator.PollInterval == 0 {
		c.Orchestrator.PollInterval = 5 * time.Second
	}
	if c.Orchestrator.JobTimeout == 0 {
		c.Orchestrator.JobTimeout = 2 * time.Hour
	}
	if c.Correlation.TitleSimilarity == 0 {
		c.Correlation.TitleSimilarity = 0.85
	}
}

// PostgresDSN builds a lib/pq connection string
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// MySQLDSN builds a go-sql-driver DSN
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}
