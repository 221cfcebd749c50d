// Package config holds the immutable settings a chat session is started with.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/smjoseph/btchat/bdaddr"
	"github.com/smjoseph/btchat/frame"
	"gopkg.in/yaml.v3"
)

// DefaultPSM is the L2CAP protocol/service multiplexer the chat service uses.
const DefaultPSM uint16 = 0x1213

// Role selects which side of the connection a session plays.
type Role int

const (
	RoleUnset     Role = iota
	RoleInitiator      // dials a remote peer
	RoleResponder      // accepts one incoming connection
)

// String returns a human-readable name for the role.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unset"
	}
}

var (
	ErrMissingRole      = errors.New("either a peer address to connect to or listen mode is required")
	ErrConflictingRoles = errors.New("connect and listen are mutually exclusive")
	ErrMissingRemote    = errors.New("initiator needs a peer address")
	ErrEmptyHandle      = errors.New("handle must not be empty")
	ErrBufferTooSmall   = errors.New("buffer size leaves no room for text after the prompt")
	ErrInvalidPSM       = errors.New("invalid psm")
)

// Error is a configuration problem detected before any socket is created.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config is the full set of session settings.
type Config struct {
	// Role is RoleInitiator or RoleResponder.
	Role Role `yaml:"-"`
	// Remote is the peer to dial; required iff Role is RoleInitiator.
	Remote bdaddr.Address `yaml:"-"`
	// PSM identifies the chat service on the L2CAP transport.
	PSM uint16 `yaml:"-"`
	// Handle is the sender name put in front of every outgoing line.
	Handle string `yaml:"handle"`
	// BufferSize is the fixed frame size in bytes.
	BufferSize int `yaml:"buffer_size"`
	// PollInterval bounds every readiness wait.
	PollInterval time.Duration `yaml:"poll_interval"`
	// ConnectRetries is the number of extra connect attempts; 0 disables retry.
	ConnectRetries uint `yaml:"connect_retries"`
	// RetryDelay is the initial backoff between connect attempts.
	RetryDelay time.Duration `yaml:"retry_delay"`
	// LogLevel is a zerolog level name.
	LogLevel string `yaml:"log_level"`
	// LogFile, when set, receives JSON log entries instead of stderr.
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with every optional field at its default. Role,
// Remote and Handle are left for the caller.
func Default() Config {
	return Config{
		PSM:          DefaultPSM,
		BufferSize:   frame.DefaultSize,
		PollInterval: 500 * time.Millisecond,
		RetryDelay:   time.Second,
		LogLevel:     "warn",
	}
}

// Prompt returns the prefix derived from the handle.
func (c Config) Prompt() string {
	return frame.Prompt(c.Handle)
}

// Validate checks the invariants a session relies on.
//
// Returns:
//   - nil if the configuration is usable; otherwise a *Error
func (c Config) Validate() error {
	switch c.Role {
	case RoleInitiator:
	case RoleResponder:
		if !c.Remote.IsAny() {
			return &Error{Field: "role", Err: ErrConflictingRoles}
		}
	default:
		return &Error{Field: "role", Err: ErrMissingRole}
	}

	if c.Role == RoleInitiator && c.Remote.IsAny() {
		return &Error{Field: "remote", Err: ErrMissingRemote}
	}

	if c.Handle == "" {
		return &Error{Field: "handle", Err: ErrEmptyHandle}
	}

	if c.BufferSize <= 0 {
		return &Error{Field: "buffer_size", Err: fmt.Errorf("must be positive, got %d", c.BufferSize)}
	}

	if frame.MaxLine(c.Prompt(), c.BufferSize) < 1 {
		return &Error{Field: "buffer_size", Err: fmt.Errorf("%w: %d bytes for prompt %q", ErrBufferTooSmall, c.BufferSize, c.Prompt())}
	}

	if c.PollInterval <= 0 {
		return &Error{Field: "poll_interval", Err: fmt.Errorf("must be positive, got %s", c.PollInterval)}
	}

	return nil
}

// ParsePSM parses a hexadecimal PSM with or without a 0x prefix.
func ParsePSM(s string) (uint16, error) {
	t := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	v, err := strconv.ParseUint(t, 16, 16)
	if err != nil || v == 0 {
		return 0, &Error{Field: "psm", Err: fmt.Errorf("%w: %q", ErrInvalidPSM, s)}
	}

	return uint16(v), nil
}

// DefaultHandle derives "<os-user>@<hostname>". Parts that cannot be looked up
// fall back to "user" and "localhost".
func DefaultHandle() string {
	name := "user"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}

	host := "localhost"
	if h, err := os.Hostname(); err == nil && h != "" {
		host = h
	}

	return name + "@" + host
}

// fileConfig mirrors the YAML document. Address and PSM are text there.
type fileConfig struct {
	Connect string `yaml:"connect"`
	Listen  bool   `yaml:"listen"`
	PSM     string `yaml:"psm"`
	Config  `yaml:",inline"`
}

// Load reads a YAML file on top of base. Keys missing from the file keep the
// value from base.
//
// Parameters:
//   - path: YAML file to read
//   - base: Starting configuration, usually Default()
//
// Returns:
//   - The merged Config (not yet validated)
//   - An error if the file cannot be read or holds invalid values
func Load(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data, base)
}

// Parse decodes a YAML document on top of base.
func Parse(data []byte, base Config) (Config, error) {
	fc := fileConfig{Config: base}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return base, &Error{Field: "file", Err: err}
	}

	c := fc.Config
	if fc.Connect != "" {
		addr, err := bdaddr.Parse(fc.Connect)
		if err != nil {
			return base, &Error{Field: "connect", Err: err}
		}

		c.Role = RoleInitiator
		c.Remote = addr
	}

	if fc.Listen {
		if fc.Connect != "" {
			return base, &Error{Field: "role", Err: ErrConflictingRoles}
		}

		c.Role = RoleResponder
	}

	if fc.PSM != "" {
		psm, err := ParsePSM(fc.PSM)
		if err != nil {
			return base, err
		}

		c.PSM = psm
	}

	return c, nil
}
