package config

import (
	"os"
	"strconv"
	"strings"
)

// Defaults for the CRM InCloud remote. The rate budget and the Intelligence
// activity subtype are deployment-specific and must stay overridable.
const (
	DefaultInCloudRateLimitPerMin = 40
	DefaultIntelligenceSubtype    = 63705
	DefaultTicketCodeFamily       = "I24"
	DefaultSyncErrorRatioMax      = 0.5
)

// InCloudConfig is everything the remote client needs. It is built once in
// main() and passed explicitly to jobs; no process-wide singleton holds it.
type InCloudConfig struct {
	BaseURL         string
	APIKey          string
	Username        string
	Password        string
	RateLimitPerMin int
}

func LoadInCloudConfig() InCloudConfig {
	baseURL := strings.TrimSpace(os.Getenv("INCLOUD_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.crmincloud.it"
	}
	rateLimit := intFromEnv("INCLOUD_RATE_LIMIT_PER_MIN", DefaultInCloudRateLimitPerMin)
	if rateLimit <= 0 {
		rateLimit = DefaultInCloudRateLimitPerMin
	}
	return InCloudConfig{
		BaseURL:         strings.TrimRight(baseURL, "/"),
		APIKey:          strings.TrimSpace(os.Getenv("INCLOUD_API_KEY")),
		Username:        strings.TrimSpace(os.Getenv("INCLOUD_USERNAME")),
		Password:        os.Getenv("INCLOUD_PASSWORD"),
		RateLimitPerMin: rateLimit,
	}
}

func IntelligenceSubtype() int {
	return intFromEnv("INCLOUD_INTELLIGENCE_SUBTYPE", DefaultIntelligenceSubtype)
}

func TicketCodeFamily() string {
	family := strings.TrimSpace(os.Getenv("TICKET_CODE_FAMILY"))
	if family == "" {
		family = DefaultTicketCodeFamily
	}
	return family
}

// SyncErrorRatioMax is the per-record error ratio above which a run is
// reported as failed even when no fatal error occurred.
func SyncErrorRatioMax() float64 {
	v := strings.TrimSpace(os.Getenv("SYNC_ERROR_RATIO_THRESHOLD"))
	if v == "" {
		return DefaultSyncErrorRatioMax
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || f > 1 {
		return DefaultSyncErrorRatioMax
	}
	return f
}
