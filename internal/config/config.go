// Package config handles bridge configuration loading.
//
// Every role reads a single YAML file. When the file is missing, the
// built-in default for that role is written to the requested path so
// the operator has a template to edit; see [ErrDefaultWritten].
package config

import (
	"embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/teeworlds-nats/bridge/internal/args"
)

//go:embed defaults/*.yaml
var defaults embed.FS

// ErrDefaultWritten is returned by the loaders when the config file
// did not exist and a default one was generated in its place. Callers
// treat it as a clean exit, not a failure.
var ErrDefaultWritten = errors.New("default config written")

// Base holds the sections shared by every role.
type Base struct {
	Logging string     `yaml:"logging"`
	NATS    NATSConfig `yaml:"nats"`
	Args    args.Value `yaml:"args"`
}

// NATSConfig describes the broker connection and the subject set of
// the role. From, To, Queue and Errors are templates expanded through
// the template engine before use.
type NATSConfig struct {
	Server       []string  `yaml:"server"`
	Auth         *NATSAuth `yaml:"auth"`
	PingInterval int       `yaml:"ping_interval"`
	TLS          bool      `yaml:"tls"`

	From   []string `yaml:"from"`
	To     []string `yaml:"to"`
	Queue  string   `yaml:"queue"`
	Errors string   `yaml:"errors"`
}

// NATSAuth selects one broker auth mode: user+password, an NKey seed,
// or a bearer token. At most one should be set; they are tried in that
// order.
type NATSAuth struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	NKey     string `yaml:"nkey"`
	Token    string `yaml:"token"`
}

// EconConfig describes one external console endpoint.
type EconConfig struct {
	Host          string          `yaml:"host"`
	Password      string          `yaml:"password"`
	AuthMessage   string          `yaml:"auth_message"`
	FirstCommands []string        `yaml:"first_commands"`
	Tasks         []TaskSpec      `yaml:"tasks"`
	Reconnect     ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig bounds the supervisor's reconnect loop.
type ReconnectConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	Sleep       int `yaml:"sleep"`
}

// TaskSpec is one scheduled command-injection job. A non-empty Cron
// makes it a cron task with the given execution mode; otherwise it is
// a delay task emitting Commands in order every Delay seconds.
type TaskSpec struct {
	Cron     string   `yaml:"cron"`
	Type     string   `yaml:"type"`
	Commands []string `yaml:"commands"`
	Delay    int      `yaml:"delay"`
}

// IsCron reports whether the spec is a cron task.
func (t TaskSpec) IsCron() bool {
	return t.Cron != ""
}

// PathConfig is one ingress→regex-set→egress tuple of the transformer
// role.
type PathConfig struct {
	From  string     `yaml:"from"`
	Regex []string   `yaml:"regex"`
	To    []string   `yaml:"to"`
	Queue string     `yaml:"queue"`
	Args  args.Value `yaml:"args"`
}

// BotConfig lists the chat-bot tokens of a reader or writer role.
type BotConfig struct {
	Tokens []string `yaml:"tokens"`
}

// FormatConfig is one step of the writer's format chain.
type FormatConfig struct {
	Format string `yaml:"format"`
	Escape bool   `yaml:"escape"`
}

// FormatsConfig groups the writer's format chains per media kind.
// Media and Sticker are auxiliary prefixes fed to the chains as the
// {{2}} positional value.
type FormatsConfig struct {
	Text    []FormatConfig `yaml:"text"`
	Reply   []FormatConfig `yaml:"reply"`
	Media   string         `yaml:"media"`
	Sticker string         `yaml:"sticker"`
}

// Econ is the console-bridge role config.
type Econ struct {
	Base `yaml:",inline"`
	Econ EconConfig `yaml:"econ"`
}

// Handler is the transformer role config.
type Handler struct {
	Base  `yaml:",inline"`
	Paths []PathConfig `yaml:"paths"`
}

// Bots is the shared reader/writer role config.
type Bots struct {
	Base   `yaml:",inline"`
	Bot    BotConfig     `yaml:"bot"`
	Format FormatsConfig `yaml:"format"`
}

// DefaultAuthMessage is the literal whose presence in a console line
// marks authentication success.
const DefaultAuthMessage = "Authentication successful"

// LoadEcon loads and defaults a console-bridge config.
func LoadEcon(path string) (*Econ, error) {
	cfg, err := load[Econ](path, "defaults/econ.yaml")
	if err != nil {
		return nil, err
	}
	cfg.NATS.applyDefaults()
	if cfg.Econ.AuthMessage == "" {
		cfg.Econ.AuthMessage = DefaultAuthMessage
	}
	if cfg.Econ.Reconnect.MaxAttempts == 0 {
		cfg.Econ.Reconnect.MaxAttempts = 20
	}
	if cfg.Econ.Reconnect.Sleep == 0 {
		cfg.Econ.Reconnect.Sleep = 10
	}
	for i := range cfg.Econ.Tasks {
		task := &cfg.Econ.Tasks[i]
		if !task.IsCron() && task.Delay == 0 {
			task.Delay = 60
		}
		if task.IsCron() && task.Type == "" {
			task.Type = "line"
		}
	}
	return cfg, nil
}

// LoadHandler loads and defaults a transformer config.
func LoadHandler(path string) (*Handler, error) {
	cfg, err := load[Handler](path, "defaults/handler.yaml")
	if err != nil {
		return nil, err
	}
	cfg.NATS.applyDefaults()
	return cfg, nil
}

// LoadBots loads and defaults a bot reader or writer config.
// defaultName selects which embedded default to generate on a missing
// file ("bot-reader" or "bot-writer").
func LoadBots(path, defaultName string) (*Bots, error) {
	cfg, err := load[Bots](path, "defaults/"+defaultName+".yaml")
	if err != nil {
		return nil, err
	}
	cfg.NATS.applyDefaults()
	cfg.Format.applyDefaults()
	return cfg, nil
}

func (c *NATSConfig) applyDefaults() {
	if c.PingInterval == 0 {
		c.PingInterval = 15
	}
}

func (f *FormatsConfig) applyDefaults() {
	if len(f.Text) == 0 {
		f.Text = []FormatConfig{
			{Format: "{{2}}[{{from.username}}] {{0}}", Escape: true},
			{Format: `say "{{1}}"`, Escape: false},
		}
	}
	if len(f.Reply) == 0 {
		f.Reply = []FormatConfig{
			{Format: "{{2}}[{{reply_to_message.message_id}}] [{{reply_to_message.from.username}}] {{0}}", Escape: true},
			{Format: `say "{{1}}"`, Escape: false},
		}
	}
	if f.Media == "" {
		f.Media = "[MEDIA] "
	}
	if f.Sticker == "" {
		f.Sticker = "[STICKER] "
	}
}

func load[T any](path, defaultName string) (*T, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if werr := writeDefault(path, defaultName); werr != nil {
			return nil, werr
		}
		return nil, fmt.Errorf("%w: %s", ErrDefaultWritten, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg T
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

func writeDefault(path, defaultName string) error {
	data, err := defaults.ReadFile(defaultName)
	if err != nil {
		return fmt.Errorf("embedded default %s: %w", defaultName, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write default config %s: %w", path, err)
	}
	return nil
}
