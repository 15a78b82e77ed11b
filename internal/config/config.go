package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Forwarder holds the host-side configuration.
type Forwarder struct {
	// Dog connection
	Dog DogConfig `yaml:"dog"`

	// Ollama source
	Ollama OllamaConfig `yaml:"ollama"`

	// Dispatch and tracking
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// DogConfig describes the remote listener host.
type DogConfig struct {
	IP        string   `yaml:"ip"`
	User      string   `yaml:"user"`
	SSHPort   int      `yaml:"ssh_port"`
	Passwords []string `yaml:"passwords"`
	HTTPPort  int      `yaml:"http_port"`

	// ManageRemote controls whether the forwarder starts and stops the
	// listener process over SSH.
	ManageRemote bool `yaml:"manage_remote"`
}

// OllamaConfig configures the local model endpoint.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// DispatchConfig tunes submission and result tracking.
type DispatchConfig struct {
	PollInterval    string `yaml:"poll_interval"`
	TrackTimeout    string `yaml:"track_timeout"`
	DispatchTimeout string `yaml:"dispatch_timeout"`
	MaxPollFailures int    `yaml:"max_poll_failures"`
}

// Listener holds the dog-side configuration.
type Listener struct {
	ListenAddr string       `yaml:"listen_addr"`
	Port       int          `yaml:"port"`
	Motion     MotionConfig `yaml:"motion"`
}

// MotionConfig points at the onboard motion host UDP endpoint.
type MotionConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

// DefaultForwarder returns the forwarder defaults.
func DefaultForwarder() *Forwarder {
	return &Forwarder{
		Dog: DogConfig{
			User:         "pi",
			SSHPort:      22,
			Passwords:    []string{"123", "raspberry"},
			HTTPPort:     5000,
			ManageRemote: true,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "qwen3:8b",
		},
		Dispatch: DispatchConfig{
			PollInterval:    "500ms",
			TrackTimeout:    "2m",
			DispatchTimeout: "30s",
			MaxPollFailures: 5,
		},
	}
}

// DefaultListener returns the listener defaults.
func DefaultListener() *Listener {
	return &Listener{
		ListenAddr: "0.0.0.0",
		Port:       5000,
		Motion: MotionConfig{
			IP:   "127.0.0.1",
			Port: 43893,
		},
	}
}

// LoadForwarder reads a YAML config over the defaults. A missing file is
// not an error; flags still override in the cmd layer.
func LoadForwarder(path string) (*Forwarder, error) {
	cfg := DefaultForwarder()
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// LoadListener reads a YAML config over the defaults.
func LoadListener(path string) (*Listener, error) {
	cfg := DefaultListener()
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string, cfg any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Forwarder) applyEnvOverrides() {
	if pw := os.Getenv("DOGBRIDGE_SSH_PASSWORD"); pw != "" {
		c.Dog.Passwords = append([]string{pw}, c.Dog.Passwords...)
	}
	if url := os.Getenv("OLLAMA_HOST"); url != "" {
		c.Ollama.BaseURL = url
	}
}

// Validate checks the fields that have no workable zero value.
func (c *Forwarder) Validate() error {
	if c.Dog.IP == "" {
		return fmt.Errorf("dog ip not configured (set dog.ip or --dog-ip)")
	}
	if c.Dog.HTTPPort <= 0 || c.Dog.HTTPPort > 65535 {
		return fmt.Errorf("invalid dog http port: %d", c.Dog.HTTPPort)
	}
	if _, err := c.PollInterval(); err != nil {
		return fmt.Errorf("invalid poll_interval: %w", err)
	}
	if _, err := c.TrackTimeout(); err != nil {
		return fmt.Errorf("invalid track_timeout: %w", err)
	}
	if _, err := c.DispatchTimeout(); err != nil {
		return fmt.Errorf("invalid dispatch_timeout: %w", err)
	}
	return nil
}

// PollInterval returns the status poll interval as a duration.
func (c *Forwarder) PollInterval() (time.Duration, error) {
	return time.ParseDuration(c.Dispatch.PollInterval)
}

// TrackTimeout returns the overall tracking deadline as a duration.
func (c *Forwarder) TrackTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Dispatch.TrackTimeout)
}

// DispatchTimeout returns the submission deadline as a duration.
func (c *Forwarder) DispatchTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Dispatch.DispatchTimeout)
}

// ExecuteURL is the listener endpoint the forwarder dispatches to.
func (c *Forwarder) ExecuteURL() string {
	return fmt.Sprintf("http://%s:%d", c.Dog.IP, c.Dog.HTTPPort)
}
