package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

type Config struct {
	Signaling Signaling `json:"signaling"`
	User      User      `json:"user"`
	ICE       ICE       `json:"ice"`
}

type Signaling struct {
	// Mode selects the backend: "external" for the standalone signaling
	// server (websocket), "internal" for the app server's polling endpoints.
	Mode string `json:"mode"`

	// URL of the signaling endpoint. ws(s):// for external mode,
	// http(s):// base URL for internal mode.
	URL string `json:"url"`

	// BackendURL identifies the app server on whose behalf we connect to an
	// external signaling server.
	BackendURL string `json:"backend_url"`

	// Ticket authenticates the hello handshake in external mode.
	Ticket string `json:"ticket"`

	// PollSec is the polling interval in internal mode.
	PollSec int `json:"poll_seconds"`
}

type User struct {
	Nick string `json:"nick"`
}

type ICE struct {
	Servers []ICEServer `json:"servers"`
}

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
}

const (
	ModeExternal = "external"
	ModeInternal = "internal"
)

func Default() Config {
	return Config{
		Signaling: Signaling{
			Mode:    ModeExternal,
			PollSec: 1,
		},
		ICE: ICE{
			Servers: []ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
		},
	}
}

func (c *Config) Validate() error {
	// Signaling
	switch c.Signaling.Mode {
	case ModeExternal:
		if err := validateEndpoint(c.Signaling.URL, "ws", "wss", "http", "https"); err != nil {
			return fmt.Errorf("signaling.url: %w", err)
		}
		if strings.TrimSpace(c.Signaling.BackendURL) != "" {
			if err := validateEndpoint(c.Signaling.BackendURL, "http", "https"); err != nil {
				return fmt.Errorf("signaling.backend_url: %w", err)
			}
		}
	case ModeInternal:
		if err := validateEndpoint(c.Signaling.URL, "http", "https"); err != nil {
			return fmt.Errorf("signaling.url: %w", err)
		}
		if c.Signaling.PollSec < 1 || c.Signaling.PollSec > 60 {
			return errors.New("signaling.poll_seconds must be 1..60")
		}
	default:
		return errors.New(`signaling.mode must be "external" or "internal"`)
	}

	// ICE
	for _, s := range c.ICE.Servers {
		if len(s.URLs) == 0 {
			return errors.New("ice.servers entries need at least one url")
		}
		needsAuth := false
		for _, u := range s.URLs {
			switch {
			case strings.HasPrefix(u, "stun:"), strings.HasPrefix(u, "stuns:"):
			case strings.HasPrefix(u, "turn:"), strings.HasPrefix(u, "turns:"):
				needsAuth = true
			default:
				return fmt.Errorf("ice server url %q must be stun(s): or turn(s):", u)
			}
		}
		if needsAuth && (s.Username == "" || s.Credential == "") {
			return errors.New("turn servers require username and credential")
		}
	}

	return nil
}

func validateEndpoint(raw string, schemes ...string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return errors.New("missing host")
			}
			return nil
		}
	}
	return fmt.Errorf("scheme must be one of %s", strings.Join(schemes, ", "))
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return writeJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err). A freshly created default has no signaling
// URL yet, so it is written without validation for the user to fill in.
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := writeJSONFile(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}

// writeJSONFile writes via a temp file and rename so a crash mid-write never
// leaves a truncated config behind.
func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
