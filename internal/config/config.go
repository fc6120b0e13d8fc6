package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/rcpctl/internal/protocol"
	"github.com/danmuck/rcpctl/internal/protocol/schema"
	"github.com/danmuck/rcpctl/internal/protocol/session"
	"github.com/pelletier/go-toml/v2"
)

// TLSFile is the [tls] table shared by server and client files.
type TLSFile struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type ServerAuthFile struct {
	Required       bool     `toml:"required"`
	PSK            string   `toml:"psk"`
	AllowedClients []string `toml:"allowed_clients"`
	Permissions    []string `toml:"permissions"`
}

type SessionFile struct {
	MaxSessions         int   `toml:"max_sessions"`
	TimeoutSecs         int64 `toml:"timeout_secs"`
	ReadTimeoutSecs     int64 `toml:"read_timeout_secs"`
	WriteTimeoutSecs    int64 `toml:"write_timeout_secs"`
	DisplayIntervalSecs int64 `toml:"display_interval_secs"`
}

type ApplicationFile struct {
	Name                string            `toml:"name"`
	ExecutablePath      string            `toml:"executable_path"`
	Args                []string          `toml:"args"`
	WorkingDir          string            `toml:"working_dir"`
	Env                 map[string]string `toml:"env"`
	RequiredPermissions []string          `toml:"required_permissions"`
}

type ApplicationDefaultsFile struct {
	AllowCustom  bool   `toml:"allow_custom"`
	AllowDefault bool   `toml:"allow_default"`
	WorkingDir   string `toml:"working_dir"`
}

type ObservabilityFile struct {
	ListenAddr string `toml:"listen_addr"`
}

// ServerFile is the rcpd config.toml layout. rcpd overlays it onto its
// runtime defaults; this package only checks it.
type ServerFile struct {
	NodeID              string                     `toml:"node_id"`
	Address             string                     `toml:"address"`
	Port                int                        `toml:"port"`
	Transport           string                     `toml:"transport"`
	SecurityMode        string                     `toml:"security_mode"`
	TLS                 TLSFile                    `toml:"tls"`
	Auth                ServerAuthFile             `toml:"auth"`
	Session             SessionFile                `toml:"session"`
	Applications        map[string]ApplicationFile `toml:"applications"`
	ApplicationDefaults ApplicationDefaultsFile    `toml:"application_defaults"`
	Observability       ObservabilityFile          `toml:"observability"`
}

type ClientAuthFile struct {
	Method   string `toml:"method"`
	PSK      string `toml:"psk"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type TimeoutsFile struct {
	ConnectSecs   int64 `toml:"connect_secs"`
	AuthSecs      int64 `toml:"auth_secs"`
	HeartbeatSecs int64 `toml:"heartbeat_secs"`
}

// ClientFile is the rcpctl config.toml layout.
type ClientFile struct {
	Host         string         `toml:"host"`
	Port         int            `toml:"port"`
	ClientID     string         `toml:"client_id"`
	Transport    string         `toml:"transport"`
	SecurityMode string         `toml:"security_mode"`
	Retries      int            `toml:"retries"`
	EventBuffer  int            `toml:"event_buffer"`
	Auth         ClientAuthFile `toml:"auth"`
	TLS          TLSFile        `toml:"tls"`
	Timeouts     TimeoutsFile   `toml:"timeouts"`
}

func LoadClientConfig(path string) (ClientFile, error) {
	var cfg ClientFile
	if err := loadToml(path, &cfg); err != nil {
		return ClientFile{}, err
	}
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = protocol.DefaultPort
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		cfg.ClientID = "rcpctl"
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientFile{}, err
	}
	return cfg, nil
}

// LoadServerConfig parses and checks an rcpd file. Unknown keys are errors
// so typos surface before the daemon starts.
func LoadServerConfig(path string) (ServerFile, error) {
	var cfg ServerFile
	if err := loadTomlStrict(path, &cfg); err != nil {
		return ServerFile{}, err
	}
	if err := ValidateServerConfig(cfg); err != nil {
		return ServerFile{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func loadTomlStrict(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func validatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port out of range: %d", port)
	}
	return nil
}

func validateTransport(raw string) error {
	switch session.NormalizeTransport(session.Transport(raw)) {
	case session.TransportTCP, session.TransportTLS, session.TransportQUIC:
		return nil
	default:
		return fmt.Errorf("unknown transport %q (expected tcp, tls or quic)", raw)
	}
}

func validateSecurityMode(raw string) error {
	switch session.NormalizeSecurityMode(session.SecurityMode(raw)) {
	case session.SecurityModeDevelopment, session.SecurityModeProduction:
		return nil
	default:
		return fmt.Errorf("unknown security_mode %q", raw)
	}
}

func ValidateServerConfig(cfg ServerFile) error {
	if err := validatePort(cfg.Port); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateTransport(cfg.Transport); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateSecurityMode(cfg.SecurityMode); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if cfg.Auth.Required && strings.TrimSpace(cfg.Auth.PSK) == "" {
		return fmt.Errorf("server config: auth.psk required when auth.required is set")
	}
	if cfg.Session.MaxSessions < 0 {
		return fmt.Errorf("server config: session.max_sessions must not be negative")
	}
	for id, app := range cfg.Applications {
		if strings.TrimSpace(app.ExecutablePath) == "" {
			return fmt.Errorf("server config: applications.%s: executable_path is required", id)
		}
	}
	return nil
}

func ValidateClientConfig(cfg ClientFile) error {
	if err := validatePort(cfg.Port); err != nil {
		return fmt.Errorf("client config: %w", err)
	}
	if err := validateTransport(cfg.Transport); err != nil {
		return fmt.Errorf("client config: %w", err)
	}
	if err := validateSecurityMode(cfg.SecurityMode); err != nil {
		return fmt.Errorf("client config: %w", err)
	}
	method, err := schema.ParseAuthMethod(cfg.Auth.Method)
	if err != nil {
		return fmt.Errorf("client config: %w", err)
	}
	switch method {
	case schema.AuthPSK:
		if cfg.Auth.PSK == "" {
			return fmt.Errorf("client config: auth.psk is required for psk auth")
		}
	case schema.AuthUsernamePassword:
		if strings.TrimSpace(cfg.Auth.Username) == "" {
			return fmt.Errorf("client config: auth.username is required for password auth")
		}
	}
	if cfg.Retries < 0 {
		return fmt.Errorf("client config: retries must not be negative")
	}
	return nil
}
