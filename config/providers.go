package config

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxProvidersFileSize = 1024 * 1024 // 1MB

// Provider kinds known to the provider builder
const (
	ProviderKindCalendar      = "calendar"
	ProviderKindHomeAssistant = "homeassistant"
	ProviderKindWeather       = "weather"
	ProviderKindStatic        = "static"
)

// ProvidersFile is the provider and tenant layout read from PROVIDERS_CONFIG_PATH.
//
//	providers:
//	  - name: weather
//	    kind: weather
//	    weather:
//	      station_id: ON/s0000430
//	tenants:
//	  - id: alice
//	    token: secret-token
//	    providers:
//	      - name: calendar
//	        kind: calendar
//	        calendar:
//	          calendars:
//	            - url: https://example.com/alice.ics
type ProvidersFile struct {
	Providers []ProviderConfig `koanf:"providers"`
	Tenants   []TenantConfig   `koanf:"tenants"`
}

// TenantConfig declares a tenant, its static bearer token and its own providers
type TenantConfig struct {
	ID        string           `koanf:"id"`
	Token     string           `koanf:"token"`
	Providers []ProviderConfig `koanf:"providers"`
}

// ProviderConfig is one provider block. Exactly the sub-block matching Kind is read.
type ProviderConfig struct {
	Name          string               `koanf:"name"`
	Kind          string               `koanf:"kind"`
	Calendar      *CalendarConfig      `koanf:"calendar"`
	HomeAssistant *HomeAssistantConfig `koanf:"homeassistant"`
	Weather       *WeatherConfig       `koanf:"weather"`
	Static        *StaticConfig        `koanf:"static"`
}

// CalendarConfig configures the ICS calendar provider
type CalendarConfig struct {
	Calendars []CalendarSource `koanf:"calendars"`
	Timezone  string           `koanf:"timezone"`
	Lookahead time.Duration    `koanf:"lookahead"`
}

// CalendarSource is one ICS feed, optionally behind basic auth
type CalendarSource struct {
	URL      string `koanf:"url"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// HomeAssistantConfig configures the Home Assistant provider
type HomeAssistantConfig struct {
	BaseURL        string   `koanf:"base_url"`
	AccessToken    string   `koanf:"access_token"`
	IgnoreEntities []string `koanf:"ignore_entities"`
}

// CitypageBaseURL is where Environment Canada publishes citypage feeds
const CitypageBaseURL = "https://dd.weather.gc.ca/citypage_weather/xml"

// WeatherConfig configures the weather provider. URL wins over StationID.
type WeatherConfig struct {
	URL string `koanf:"url"`
	// StationID is a citypage site code with its province, like ON/s0000430
	StationID string `koanf:"station_id"`
}

// FeedURL returns the English citypage feed to download
func (w WeatherConfig) FeedURL() (string, error) {
	if w.URL != "" {
		return w.URL, nil
	}
	if w.StationID == "" {
		return "", errors.New("weather url or station_id is required")
	}
	province, site, ok := strings.Cut(w.StationID, "/")
	if !ok || len(province) != 2 || !strings.HasPrefix(site, "s") || len(site) != 8 {
		return "", fmt.Errorf("invalid weather station_id %q: want PROVINCE/sNNNNNNN", w.StationID)
	}
	return fmt.Sprintf("%s/%s/%s_e.xml", CitypageBaseURL, strings.ToUpper(province), site), nil
}

// StaticConfig holds documents defined inline
type StaticConfig struct {
	Documents []StaticDocument `koanf:"documents"`
}

// StaticDocument is one inline document with the fragment it expands to
type StaticDocument struct {
	Title    string          `koanf:"title"`
	Text     string          `koanf:"text"`
	Examples []StaticExample `koanf:"examples"`
}

// StaticExample is an example Q/A pair attached to a static document
type StaticExample struct {
	Question string `koanf:"question"`
	Answer   string `koanf:"answer"`
}

// LoadProvidersFile reads the providers YAML file. A missing file yields an empty layout.
func LoadProvidersFile(path string) (*ProvidersFile, error) {
	if path == "" {
		return &ProvidersFile{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ProvidersFile{}, nil
		}
		return nil, fmt.Errorf("failed to open providers file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat providers file: %w", err)
	}
	if info.Size() > maxProvidersFileSize {
		return nil, fmt.Errorf("providers file too large: %d bytes (max %d)", info.Size(), maxProvidersFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}

	return ParseProviders(content)
}

// ParseProviders parses a providers YAML document
func ParseProviders(content []byte) (*ProvidersFile, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse providers file: %w", err)
	}

	var pf ProvidersFile
	if err := k.Unmarshal("", &pf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal providers file: %w", err)
	}
	return &pf, nil
}

// Validate checks names are unique per scope and every block matches its kind
func (p *ProvidersFile) Validate() error {
	if err := validateProviderList("global", p.Providers); err != nil {
		return err
	}

	tenantIDs := make(map[string]bool, len(p.Tenants))
	tokens := make(map[string]string, len(p.Tenants))
	for _, t := range p.Tenants {
		if t.ID == "" {
			return fmt.Errorf("tenant id is required")
		}
		if tenantIDs[t.ID] {
			return fmt.Errorf("duplicate tenant %q", t.ID)
		}
		tenantIDs[t.ID] = true

		if t.Token != "" {
			if other, ok := tokens[t.Token]; ok {
				return fmt.Errorf("tenants %q and %q share a token", other, t.ID)
			}
			tokens[t.Token] = t.ID
		}

		if err := validateProviderList("tenant "+t.ID, t.Providers); err != nil {
			return err
		}
	}
	return nil
}

// Tenant returns the tenant with the given ID
func (p *ProvidersFile) Tenant(id string) (TenantConfig, bool) {
	for _, t := range p.Tenants {
		if t.ID == id {
			return t, true
		}
	}
	return TenantConfig{}, false
}

// TenantForToken returns the tenant whose static token matches
func (p *ProvidersFile) TenantForToken(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	for _, t := range p.Tenants {
		if t.Token != "" && subtle.ConstantTimeCompare([]byte(t.Token), []byte(token)) == 1 {
			return t.ID, true
		}
	}
	return "", false
}

func validateProviderList(scope string, list []ProviderConfig) error {
	seen := make(map[string]bool, len(list))
	for _, pc := range list {
		if pc.Name == "" {
			return fmt.Errorf("%s: provider name is required", scope)
		}
		if seen[pc.Name] {
			return fmt.Errorf("%s: duplicate provider %q", scope, pc.Name)
		}
		seen[pc.Name] = true

		if err := pc.validate(); err != nil {
			return fmt.Errorf("%s: provider %q: %w", scope, pc.Name, err)
		}
	}
	return nil
}

func (pc ProviderConfig) validate() error {
	switch pc.Kind {
	case ProviderKindCalendar:
		if pc.Calendar == nil || len(pc.Calendar.Calendars) == 0 {
			return fmt.Errorf("calendar block with at least one calendar is required")
		}
		for _, c := range pc.Calendar.Calendars {
			if c.URL == "" {
				return fmt.Errorf("calendar url is required")
			}
		}
		if pc.Calendar.Timezone != "" {
			if _, err := time.LoadLocation(pc.Calendar.Timezone); err != nil {
				return fmt.Errorf("invalid timezone: %w", err)
			}
		}
	case ProviderKindHomeAssistant:
		if pc.HomeAssistant == nil || pc.HomeAssistant.BaseURL == "" {
			return fmt.Errorf("homeassistant base_url is required")
		}
		if pc.HomeAssistant.AccessToken == "" {
			return fmt.Errorf("homeassistant access_token is required")
		}
	case ProviderKindWeather:
		if pc.Weather == nil {
			return fmt.Errorf("weather url or station_id is required")
		}
		if _, err := pc.Weather.FeedURL(); err != nil {
			return err
		}
	case ProviderKindStatic:
		if pc.Static == nil || len(pc.Static.Documents) == 0 {
			return fmt.Errorf("static block with at least one document is required")
		}
		for _, d := range pc.Static.Documents {
			if d.Title == "" {
				return fmt.Errorf("static document title is required")
			}
		}
	case "":
		return fmt.Errorf("kind is required")
	default:
		return fmt.Errorf("unknown kind %q", pc.Kind)
	}
	return nil
}
