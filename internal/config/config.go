package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	// GFSBaseURL is the provider's filter endpoint.
	GFSBaseURL string
	// GFSProduct names the product in the per-cycle filename,
	// e.g. "pgrb2.1p00" -> gfs.t00z.pgrb2.1p00.f000.
	GFSProduct string

	// CacheDir is the root of the on-disk artifact cache.
	CacheDir string
	// ConverterPath locates the external grib-to-json executable.
	ConverterPath string

	// CacheMaxAge is the freshness threshold after which a structured
	// artifact is re-fetched in the background.
	CacheMaxAge time.Duration
	// MaintenanceInterval controls how often reconciliation and the
	// freshness pass run.
	MaintenanceInterval time.Duration

	// HTTPTimeout bounds each outbound provider request.
	HTTPTimeout time.Duration

	Port string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.GFSBaseURL = getenvDefault("GFS_BASE_URL", "https://nomads.ncep.noaa.gov/cgi-bin/filter_gfs_1p00.pl")
	cfg.GFSProduct = getenvDefault("GFS_PRODUCT", "pgrb2.1p00")

	cfg.CacheDir = getenvDefault("CACHE_DIR", "cache")
	cfg.ConverterPath = getenvDefault("CONVERTER_PATH", "grib2json")

	maxAgeStr := getenvDefault("CACHE_MAX_AGE", "24h")
	maxAge, err := time.ParseDuration(maxAgeStr)
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_MAX_AGE: %w", err)
	}
	cfg.CacheMaxAge = maxAge

	intervalStr := getenvDefault("MAINTENANCE_INTERVAL", "1h")
	interval, err := time.ParseDuration(intervalStr)
	if err != nil {
		return nil, fmt.Errorf("invalid MAINTENANCE_INTERVAL: %w", err)
	}
	cfg.MaintenanceInterval = interval

	timeoutStr := getenvDefault("HTTP_TIMEOUT", "60s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}
	cfg.HTTPTimeout = timeout

	cfg.Port = getenvDefault("PORT", "8080")

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
