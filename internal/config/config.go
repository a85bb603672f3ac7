package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/devblac/certiblock/internal/ipfs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMintMethod  = "mintSertifikat"
	DefaultCallTimeout = "10s"
	DefaultIPFSTimeout = "8s"
	DefaultDBPath      = "certiblock.db"
	DefaultServerAddr  = ":8080"
	DefaultMintLockTTL = "10m"
)

// Config holds the YAML configuration.
type Config struct {
	Version int          `yaml:"version"`
	Global  GlobalConfig `yaml:"global"`
	Chain   ChainConfig  `yaml:"chain"`
	IPFS    IPFSConfig   `yaml:"ipfs"`
	Server  ServerConfig `yaml:"server"`
	Sinks   []Sink       `yaml:"sinks"`
}

type GlobalConfig struct {
	DBPath      string `yaml:"db_path"`
	MintLockTTL string `yaml:"mint_lock_ttl"`
}

type ChainConfig struct {
	RPCURL          string `yaml:"rpc_url"`
	ChainID         uint64 `yaml:"chain_id"`
	ContractAddress string `yaml:"contract_address"`
	ABIPath         string `yaml:"abi_path"`
	MintMethod      string `yaml:"mint_method"`
	PrivateKey      string `yaml:"private_key"`
	CallTimeout     string `yaml:"call_timeout"`
	ExplorerURL     string `yaml:"explorer_url"`
}

type IPFSConfig struct {
	Gateways       []string `yaml:"gateways"`
	Timeout        string   `yaml:"timeout"`
	StrictCID      bool     `yaml:"strict_cid"`
	ParallelProbes bool     `yaml:"parallel_probes"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetadataDir string `yaml:"metadata_dir"`
}

type Sink struct {
	ID         string `yaml:"id"`
	Type       string `yaml:"type"`
	WebhookURL string `yaml:"webhook_url"`
	Template   string `yaml:"template"`
	URL        string `yaml:"url"`
	Method     string `yaml:"method"`
}

var (
	envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)
	hexKey     = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)
)

// Load reads, interpolates env vars, parses YAML, applies defaults, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.Global.DBPath == "" {
		c.Global.DBPath = DefaultDBPath
	}
	if c.Global.MintLockTTL == "" {
		c.Global.MintLockTTL = DefaultMintLockTTL
	}
	if c.Chain.MintMethod == "" {
		c.Chain.MintMethod = DefaultMintMethod
	}
	if c.Chain.CallTimeout == "" {
		c.Chain.CallTimeout = DefaultCallTimeout
	}
	if len(c.IPFS.Gateways) == 0 {
		c.IPFS.Gateways = append([]string(nil), ipfs.DefaultGateways...)
	}
	for i, g := range c.IPFS.Gateways {
		if !strings.HasSuffix(g, "/") {
			c.IPFS.Gateways[i] = g + "/"
		}
	}
	if c.IPFS.Timeout == "" {
		c.IPFS.Timeout = DefaultIPFSTimeout
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	for i := range c.Sinks {
		if strings.EqualFold(c.Sinks[i].Type, "webhook") && c.Sinks[i].Method == "" {
			c.Sinks[i].Method = "POST"
		}
	}
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if err := c.Chain.Validate(); err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	if err := c.IPFS.Validate(); err != nil {
		return fmt.Errorf("ipfs: %w", err)
	}
	if _, err := time.ParseDuration(c.Global.MintLockTTL); err != nil {
		return fmt.Errorf("global: invalid mint_lock_ttl %q", c.Global.MintLockTTL)
	}

	sinkIDs := map[string]struct{}{}
	for i := range c.Sinks {
		s := &c.Sinks[i]
		if _, exists := sinkIDs[s.ID]; exists {
			return fmt.Errorf("duplicate sink id: %s", s.ID)
		}
		sinkIDs[s.ID] = struct{}{}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("sink %s: %w", s.ID, err)
		}
	}
	return nil
}

func (c *ChainConfig) Validate() error {
	if c.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if c.ContractAddress == "" {
		return errors.New("contract_address is required")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("contract_address %q is not a hex address", c.ContractAddress)
	}
	if c.PrivateKey != "" && !hexKey.MatchString(c.PrivateKey) {
		return errors.New("private_key must be 32 hex bytes")
	}
	if _, err := time.ParseDuration(c.CallTimeout); err != nil {
		return fmt.Errorf("invalid call_timeout %q", c.CallTimeout)
	}
	if c.ExplorerURL != "" {
		if err := checkHTTPURL(c.ExplorerURL); err != nil {
			return fmt.Errorf("explorer_url: %w", err)
		}
	}
	return nil
}

func (c *IPFSConfig) Validate() error {
	if len(c.Gateways) == 0 {
		return errors.New("at least one gateway is required")
	}
	for _, g := range c.Gateways {
		if err := checkHTTPURL(g); err != nil {
			return fmt.Errorf("gateway %q: %w", g, err)
		}
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid timeout %q", c.Timeout)
	}
	return nil
}

func (s *Sink) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.Type == "" {
		return errors.New("type is required")
	}

	switch strings.ToLower(s.Type) {
	case "slack", "teams":
		if s.WebhookURL == "" {
			return errors.New("webhook_url is required for slack/teams sinks")
		}
	case "webhook":
		if s.URL == "" {
			return errors.New("url is required for webhook sink")
		}
		if s.Method == "" {
			s.Method = "POST"
		}
	default:
		return fmt.Errorf("unsupported sink type: %s", s.Type)
	}
	return nil
}

// CallTimeoutDuration returns the parsed chain call timeout.
func (c *ChainConfig) CallTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.CallTimeout)
	return d
}

// TimeoutDuration returns the parsed per-request gateway timeout.
func (c *IPFSConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// MintLockTTLDuration returns how long a pending mint blocks re-submission.
func (g *GlobalConfig) MintLockTTLDuration() time.Duration {
	d, _ := time.ParseDuration(g.MintLockTTL)
	return d
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
