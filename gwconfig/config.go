// Package gwconfig loads the gateway's configuration from YAML, per
// spec.md §6's recognized-options list.
package gwconfig

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chittyos/chittyrouter-sub005/email"
	"github.com/chittyos/chittyrouter-sub005/recognize"
)

// Config is the full set of recognized configuration keys from spec.md
// §6. Any key absent from this struct is rejected by Load, matching
// "recognized options only; all others rejected."
type Config struct {
	MaxEnvelopeBytes      int64         `yaml:"max_envelope_bytes"`
	MaxAttachmentBytes    int64         `yaml:"max_attachment_bytes"`
	ClassifierTimeoutMS   int           `yaml:"classifier_timeout_ms"`
	PipelineDeadlineMS    int           `yaml:"pipeline_deadline_ms"`
	MaxInflight           int64         `yaml:"max_inflight"`
	RetainFullContent     bool          `yaml:"retain_full_content"`
	AllowAnonymous        bool          `yaml:"allow_anonymous"`
	PerSenderHourLimit    int           `yaml:"per_sender_hour_limit"`
	PerDomainHourLimit    int           `yaml:"per_domain_hour_limit"`
	DedupTTLSeconds       int           `yaml:"dedup_ttl_seconds"`
	ContentTruncateLength int           `yaml:"content_truncate_length"`
	KindTTLOverrides      map[string]int `yaml:"kind_ttl_overrides_seconds"`

	DefaultRoute    string `yaml:"default_route"`
	ForwardFromAddr string `yaml:"forward_from_addr"`
	LocalHostname   string `yaml:"local_hostname"`
	KnownCases   []recognize.CaseEntry `yaml:"known_cases"`
	AddressRoutes []recognize.RouteEntry `yaml:"address_routes"`

	Classifier ClassifierConfig `yaml:"classifier"`
	Storage    StorageConfig    `yaml:"storage"`
	IdAuthority IdAuthorityConfig `yaml:"id_authority"`
	HTTP       HTTPConfig       `yaml:"http"`
}

// ClassifierConfig names the concrete openaicap.Client settings.
type ClassifierConfig struct {
	Provider string `yaml:"provider"` // "openai" or "" (disabled)
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// StorageConfig names the DSNs for each concrete sink backend.
type StorageConfig struct {
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`
	MongoURI    string `yaml:"mongo_uri"`
	MongoDB     string `yaml:"mongo_database"`
	Neo4jURL    string `yaml:"neo4j_url"`
	Neo4jUser   string `yaml:"neo4j_user"`
	Neo4jPass   string `yaml:"neo4j_password"`
}

// IdAuthorityConfig names the OAuth2 client-credentials settings.
type IdAuthorityConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// HTTPConfig names the ingress listener settings.
type HTTPConfig struct {
	Addr              string `yaml:"addr"`
	AdmissionRatePerMin int  `yaml:"admission_rate_per_min"`
}

// Defaults matches spec.md §6's literal defaults.
func Defaults() Config {
	return Config{
		MaxEnvelopeBytes:      email.DefaultMaxEnvelopeBytes,
		MaxAttachmentBytes:    email.DefaultMaxAttachmentBytes,
		ClassifierTimeoutMS:   2000,
		PipelineDeadlineMS:    30000,
		MaxInflight:           100,
		RetainFullContent:     false,
		AllowAnonymous:        false,
		PerSenderHourLimit:    200,
		PerDomainHourLimit:    500,
		DedupTTLSeconds:       86400,
		ContentTruncateLength: 2000,
		HTTP:                  HTTPConfig{Addr: ":8080", AdmissionRatePerMin: 600},
		Storage:               StorageConfig{SQLitePath: "chittyrouter.sqlite3"},
	}
}

// Load reads and parses a YAML config file over Defaults(), rejecting any
// key not named above via yaml.v3's KnownFields(true) decoder option.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("gwconfig.Load: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes raw YAML bytes over Defaults().
func Parse(raw []byte) (Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("gwconfig.Parse: %w", err)
	}
	return cfg, nil
}

// ClassifierTimeout returns ClassifierTimeoutMS as a time.Duration.
func (c Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.ClassifierTimeoutMS) * time.Millisecond
}

// PipelineDeadline returns PipelineDeadlineMS as a time.Duration.
func (c Config) PipelineDeadline() time.Duration {
	return time.Duration(c.PipelineDeadlineMS) * time.Millisecond
}

// DedupTTL returns DedupTTLSeconds as a time.Duration.
func (c Config) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLSeconds) * time.Second
}

// Tables builds a recognize.Tables from the configured known-case and
// address-route entries.
func (c Config) Tables() recognize.Tables {
	return recognize.Tables{
		KnownCases:   c.KnownCases,
		AddrRoutes:   c.AddressRoutes,
		DefaultRoute: c.DefaultRoute,
	}
}

// KindTTLOverrides converts the YAML string-keyed override map into
// store.TTLFor's email.Kind-keyed form.
func (c Config) KindTTLOverridesByKind() map[email.Kind]time.Duration {
	if len(c.KindTTLOverrides) == 0 {
		return nil
	}
	out := make(map[email.Kind]time.Duration, len(c.KindTTLOverrides))
	for k, seconds := range c.KindTTLOverrides {
		out[email.Kind(k)] = time.Duration(seconds) * time.Second
	}
	return out
}
