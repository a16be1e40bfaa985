package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/afsheen-enterprise/concierge/geo"
)

// Server types
const (
	ServerWebsocket = "websocket"
	ServerTwilio    = "twilio"
	ServerBoth      = "both"
)

// Config holds all server configuration
type Config struct {
	Port            int
	TwilioPort      int    // Port for Twilio server (used when ServerType is "both")
	ServerType      string // "websocket", "twilio", or "both"
	RedisURL        string
	RedisPassword   string
	MaxSessions     int
	SessionTimeout  time.Duration
	GeminiAPIKey    string
	AllowedOrigins  []string
	KeepAlivePeriod time.Duration
	MaxMessageSize  int64 // Largest inbound WebSocket frame in bytes

	LiveModel    string // empty keeps the gemini package default
	ConsultModel string
	MapModel     string
	VoiceName    string

	VoiceStartTimeout time.Duration
	CaptureBufferSize int

	MapPadding      int
	MapMaxZoom      int
	DefaultLocation geo.LatLng // map centre and search bias before the user shares a position

	CatalogPath string
	LogLevel    string
}

// Default returns the configuration used when no variable is set.
func Default() *Config {
	return &Config{
		Port:              8080,
		TwilioPort:        8081,
		ServerType:        ServerWebsocket,
		RedisURL:          "localhost:6379",
		MaxSessions:       100,
		SessionTimeout:    30 * time.Minute,
		AllowedOrigins:    []string{"*"},
		KeepAlivePeriod:   30 * time.Second,
		MaxMessageSize:    512 * 1024,
		VoiceStartTimeout: 30 * time.Second,
		CaptureBufferSize: 4096,
		MapPadding:        50,
		MapMaxZoom:        15,
		DefaultLocation:   geo.LatLng{Lat: 37.5665, Lng: 126.9780},
		LogLevel:          "info",
	}
}

// LoadConfig loads configuration from environment variables with defaults.
// Every invalid variable is reported, not only the first.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := Default()
	var errs []error

	// Required: GEMINI_API_KEY
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if config.GeminiAPIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY environment variable is required"))
	}

	intVar(&errs, "PORT", &config.Port)
	intVar(&errs, "TWILIO_PORT", &config.TwilioPort)
	intVar(&errs, "MAX_SESSIONS", &config.MaxSessions)
	intVar(&errs, "CAPTURE_BUFFER_SIZE", &config.CaptureBufferSize)
	intVar(&errs, "MAP_PADDING", &config.MapPadding)
	intVar(&errs, "MAP_MAX_ZOOM", &config.MapMaxZoom)
	durationVar(&errs, "SESSION_TIMEOUT", time.Minute, &config.SessionTimeout)
	durationVar(&errs, "KEEPALIVE_PERIOD", time.Second, &config.KeepAlivePeriod)
	durationVar(&errs, "VOICE_START_TIMEOUT", time.Second, &config.VoiceStartTimeout)
	floatVar(&errs, "DEFAULT_LAT", &config.DefaultLocation.Lat)
	floatVar(&errs, "DEFAULT_LNG", &config.DefaultLocation.Lng)

	if v := os.Getenv("MAX_MESSAGE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid MAX_MESSAGE_SIZE: %w", err))
		} else {
			config.MaxMessageSize = n
		}
	}

	stringVar("REDIS_URL", &config.RedisURL)
	stringVar("REDIS_PASSWORD", &config.RedisPassword)
	stringVar("LIVE_MODEL", &config.LiveModel)
	stringVar("CONSULT_MODEL", &config.ConsultModel)
	stringVar("MAP_MODEL", &config.MapModel)
	stringVar("VOICE_NAME", &config.VoiceName)
	stringVar("CATALOG_PATH", &config.CatalogPath)
	stringVar("LOG_LEVEL", &config.LogLevel)

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				config.AllowedOrigins = append(config.AllowedOrigins, o)
			}
		}
	}

	// Optional: SERVER_TYPE ("websocket", "twilio", or "both")
	stringVar("SERVER_TYPE", &config.ServerType)

	if err := config.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return config, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	switch c.ServerType {
	case ServerWebsocket, ServerTwilio, ServerBoth:
	default:
		errs = append(errs, fmt.Errorf("invalid SERVER_TYPE %q: must be 'websocket', 'twilio', or 'both'", c.ServerType))
	}
	if c.ServerType == ServerBoth && c.Port == c.TwilioPort {
		errs = append(errs, fmt.Errorf("PORT and TWILIO_PORT must differ when SERVER_TYPE is both (got %d)", c.Port))
	}
	if c.MaxSessions <= 0 {
		errs = append(errs, errors.New("MAX_SESSIONS must be positive"))
	}
	if c.CaptureBufferSize <= 0 {
		errs = append(errs, errors.New("CAPTURE_BUFFER_SIZE must be positive"))
	}
	if c.MapMaxZoom < 0 || c.MapMaxZoom > 19 {
		errs = append(errs, fmt.Errorf("MAP_MAX_ZOOM %d out of range [0,19]", c.MapMaxZoom))
	}
	if c.DefaultLocation.Lat < -90 || c.DefaultLocation.Lat > 90 || c.DefaultLocation.Lng < -180 || c.DefaultLocation.Lng > 180 {
		errs = append(errs, fmt.Errorf("default location %v out of range", c.DefaultLocation))
	}
	return errors.Join(errs...)
}

func stringVar(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func intVar(errs *[]error, name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", name, err))
		return
	}
	*dst = n
}

func floatVar(errs *[]error, name string, dst *float64) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", name, err))
		return
	}
	*dst = f
}

// durationVar reads an integer count of unit.
func durationVar(errs *[]error, name string, unit time.Duration, dst *time.Duration) {
	if os.Getenv(name) == "" {
		return
	}
	var n int
	before := len(*errs)
	intVar(errs, name, &n)
	if len(*errs) == before {
		*dst = time.Duration(n) * unit
	}
}
