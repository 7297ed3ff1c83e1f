package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config
// files. CLI flags take precedence over everything loaded here.
type Config struct {
	Download struct {
		Dir            string
		Threads        int
		MaxConcurrent  int
		Quality        string
		SegmentRetries int
		RetryBackoff   string
		ChunkSizeKB    int
		StatusInterval string
		LimitRate      string
	}
	History struct {
		Path string
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Mux struct {
		FFmpegPath string
	}
	Server struct {
		StatusAddr string
	}
	Log struct {
		Level string
	}
}

// Load reads configuration from environment variables and optional config
// files. configFile, when non-empty, names an explicit file to read instead
// of searching the working directory.
func Load(configFile string) (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("HDGET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("download.dir", "downloads")
	v.SetDefault("download.threads", 4)
	v.SetDefault("download.maxconcurrent", 4)
	v.SetDefault("download.quality", "best")
	v.SetDefault("download.segmentretries", 3)
	v.SetDefault("download.retrybackoff", "500ms")
	v.SetDefault("download.chunksizekb", 128)
	v.SetDefault("download.statusinterval", "2s")
	v.SetDefault("download.limitrate", "")
	v.SetDefault("history.path", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "hdget")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("mux.ffmpegpath", "ffmpeg")
	v.SetDefault("server.statusaddr", "")
	v.SetDefault("log.level", "info")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		_ = v.ReadInConfig() // optional file
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Download.Threads < 1 {
		return fmt.Errorf("download.threads must be at least 1")
	}
	if c.Download.MaxConcurrent < 1 {
		return fmt.Errorf("download.maxconcurrent must be at least 1")
	}
	if c.Download.ChunkSizeKB < 1 {
		return fmt.Errorf("download.chunksizekb must be at least 1")
	}
	if _, err := time.ParseDuration(c.Download.RetryBackoff); err != nil {
		return fmt.Errorf("invalid download.retrybackoff: %w", err)
	}
	if _, err := time.ParseDuration(c.Download.StatusInterval); err != nil {
		return fmt.Errorf("invalid download.statusinterval: %w", err)
	}
	return nil
}

// RetryBackoffDuration returns the segment retry backoff as a duration.
// Load has already validated the string.
func (c Config) RetryBackoffDuration() time.Duration {
	d, _ := time.ParseDuration(c.Download.RetryBackoff)
	return d
}

// StatusIntervalDuration returns the progress report interval as a duration.
func (c Config) StatusIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Download.StatusInterval)
	return d
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
