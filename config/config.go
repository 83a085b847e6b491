package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultConfigFile is read when no configuration file is given
	DefaultConfigFile = "config.toml"
)

// Config holds the whole application configuration
type Config struct {
	Debug bool `toml:"debug"`
	Log   struct {
		Filename string `toml:"filename"`
	} `toml:"log"`
	Server struct {
		Enabled bool   `toml:"enabled"`
		Host    string `toml:"host"`
		Port    int    `toml:"port"`
		WebRoot string `toml:"web_root"`
	} `toml:"server"`
	TLS struct {
		Enabled  bool   `toml:"enabled"`
		CertFile string `toml:"cert_file"`
		KeyFile  string `toml:"key_file"`
	} `toml:"tls"`
	Environment struct {
		File string `toml:"file"`
	} `toml:"environment"`
	Database struct {
		File string `toml:"file"`
	} `toml:"database"`
	PhilipsHue struct {
		Enabled    bool   `toml:"enabled"`
		Address    string `toml:"address"`
		DeviceType string `toml:"device_type"`
	} `toml:"philips_hue"`
	Panel struct {
		Enabled        bool   `toml:"enabled"`
		ServerURL      string `toml:"server_url"`
		BackoffInitial string `toml:"backoff_initial"` // e.g. "500ms"
		BackoffMax     string `toml:"backoff_max"`     // e.g. "30s"
	} `toml:"panel"`
}

// NewConfig returns the default configuration
func NewConfig() *Config {
	cfg := &Config{
		Debug: false,
	}
	cfg.Log.Filename = "home-control.log"
	cfg.Server.Enabled = true
	cfg.Server.Host = "localhost"
	cfg.Server.Port = 8080
	cfg.Server.WebRoot = ""
	cfg.Environment.File = "environment.json"
	cfg.Database.File = "home-control.db"
	cfg.PhilipsHue.DeviceType = "home-control#server"
	cfg.Panel.ServerURL = "ws://localhost:8080/ws"
	cfg.Panel.BackoffInitial = "500ms"
	cfg.Panel.BackoffMax = "30s"
	return cfg
}

// LoadConfig reads the configuration, in order of preference from:
// 1. the file at configPath when given
// 2. config.toml in the current directory when it exists
// 3. the defaults
func LoadConfig(configPath string) (*Config, error) {
	config := NewConfig()

	filePath := configPath
	if filePath == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			filePath = DefaultConfigFile
		} else {
			return config, nil
		}
	}

	meta, err := toml.DecodeFile(filePath, config)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("%s: unknown configuration keys: %s", filePath, strings.Join(keys, ", "))
	}

	return config, nil
}

// Validate checks the values that cannot be checked by decoding
func (c *Config) Validate() error {
	if !c.Server.Enabled && !c.Panel.Enabled {
		return fmt.Errorf("neither the server nor the panel is enabled")
	}
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return fmt.Errorf("invalid server port %d", c.Server.Port)
		}
		if c.Environment.File == "" {
			return fmt.Errorf("environment file is required")
		}
		if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
			return fmt.Errorf("TLS requires cert_file and key_file")
		}
		if c.PhilipsHue.Enabled && c.PhilipsHue.Address == "" {
			return fmt.Errorf("philips_hue.address is required")
		}
	}
	if c.Panel.Enabled {
		if _, _, err := c.PanelBackoff(); err != nil {
			return err
		}
	}
	return nil
}

// PanelBackoff returns the reconnection delays of the panel
func (c *Config) PanelBackoff() (initial, limit time.Duration, err error) {
	initial, err = time.ParseDuration(c.Panel.BackoffInitial)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid panel.backoff_initial: %w", err)
	}
	limit, err = time.ParseDuration(c.Panel.BackoffMax)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid panel.backoff_max: %w", err)
	}
	if initial <= 0 || limit < initial {
		return 0, 0, fmt.Errorf("panel backoff must satisfy 0 < backoff_initial <= backoff_max")
	}
	return initial, limit, nil
}

// ServerAddr returns host:port of the server
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ApplyCommandLineArgs overrides the configuration with the flags that were given
func (c *Config) ApplyCommandLineArgs(args CommandLineArgs) {
	if args.DebugSpecified {
		c.Debug = args.Debug
	}
	if args.LogFilenameSpecified {
		c.Log.Filename = args.LogFilename
	}
	// server
	if args.ServerEnabledSpecified {
		c.Server.Enabled = args.ServerEnabled
	}
	if args.ServerHostSpecified {
		c.Server.Host = args.ServerHost
	}
	if args.ServerPortSpecified {
		c.Server.Port = args.ServerPort
	}
	if args.ServerWebRootSpecified {
		c.Server.WebRoot = args.ServerWebRoot
	}
	// TLS
	if args.TLSEnabledSpecified {
		c.TLS.Enabled = args.TLSEnabled
	}
	if args.TLSCertFileSpecified {
		c.TLS.CertFile = args.TLSCertFile
	}
	if args.TLSKeyFileSpecified {
		c.TLS.KeyFile = args.TLSKeyFile
	}
	// files
	if args.EnvironmentFileSpecified {
		c.Environment.File = args.EnvironmentFile
	}
	if args.DatabaseFileSpecified {
		c.Database.File = args.DatabaseFile
	}
	// panel
	if args.PanelEnabledSpecified {
		c.Panel.Enabled = args.PanelEnabled
	}
	if args.PanelServerURLSpecified {
		c.Panel.ServerURL = args.PanelServerURL
	}
}

// CommandLineArgs holds the flag values and whether each flag was given
type CommandLineArgs struct {
	// configuration file
	ConfigFile      string
	ConfigSpecified bool

	Debug          bool
	DebugSpecified bool

	LogFilename          string
	LogFilenameSpecified bool

	// server
	ServerEnabled          bool
	ServerEnabledSpecified bool
	ServerHost             string
	ServerHostSpecified    bool
	ServerPort             int
	ServerPortSpecified    bool
	ServerWebRoot          string
	ServerWebRootSpecified bool

	// TLS
	TLSEnabled           bool
	TLSEnabledSpecified  bool
	TLSCertFile          string
	TLSCertFileSpecified bool
	TLSKeyFile           string
	TLSKeyFileSpecified  bool

	// files
	EnvironmentFile          string
	EnvironmentFileSpecified bool
	DatabaseFile             string
	DatabaseFileSpecified    bool

	// panel
	PanelEnabled            bool
	PanelEnabledSpecified   bool
	PanelServerURL          string
	PanelServerURLSpecified bool
}

// ParseCommandLineArgs parses os.Args
func ParseCommandLineArgs() CommandLineArgs {
	return parseCommandLineArgs(flag.CommandLine, os.Args[1:])
}

func parseCommandLineArgs(fs *flag.FlagSet, arguments []string) CommandLineArgs {
	var args CommandLineArgs

	configFileFlag := fs.String("config", "", "path of the TOML configuration file")

	debugFlag := fs.Bool("debug", false, "enable debug logging")
	logFilenameFlag := fs.String("log", "home-control.log", "log file name")

	serverFlag := fs.Bool("server", true, "run the server")
	hostFlag := fs.String("host", "localhost", "host the server listens on")
	portFlag := fs.Int("port", 8080, "port the server listens on")
	webRootFlag := fs.String("webroot", "", "directory of the browser panel served by the server")

	tlsFlag := fs.Bool("tls", false, "enable TLS on the server")
	certFileFlag := fs.String("cert-file", "", "TLS certificate file")
	keyFileFlag := fs.String("key-file", "", "TLS key file")

	environmentFlag := fs.String("environment", "environment.json", "environment file (rooms and services)")
	databaseFlag := fs.String("database", "home-control.db", "database file")

	panelFlag := fs.Bool("panel", false, "run the terminal panel")
	serverURLFlag := fs.String("server-url", "ws://localhost:8080/ws", "server the panel connects to")

	// errors exit through flag.ExitOnError for the command line
	_ = fs.Parse(arguments)

	given := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		given[f.Name] = true
	})

	args.ConfigFile = *configFileFlag
	args.ConfigSpecified = given["config"]

	args.Debug = *debugFlag
	args.DebugSpecified = given["debug"]

	args.LogFilename = *logFilenameFlag
	args.LogFilenameSpecified = given["log"]

	args.ServerEnabled = *serverFlag
	args.ServerEnabledSpecified = given["server"]
	args.ServerHost = *hostFlag
	args.ServerHostSpecified = given["host"]
	args.ServerPort = *portFlag
	args.ServerPortSpecified = given["port"]
	args.ServerWebRoot = *webRootFlag
	args.ServerWebRootSpecified = given["webroot"]

	args.TLSEnabled = *tlsFlag
	args.TLSEnabledSpecified = given["tls"]
	args.TLSCertFile = *certFileFlag
	args.TLSCertFileSpecified = given["cert-file"]
	args.TLSKeyFile = *keyFileFlag
	args.TLSKeyFileSpecified = given["key-file"]

	args.EnvironmentFile = *environmentFlag
	args.EnvironmentFileSpecified = given["environment"]
	args.DatabaseFile = *databaseFlag
	args.DatabaseFileSpecified = given["database"]

	args.PanelEnabled = *panelFlag
	args.PanelEnabledSpecified = given["panel"]
	args.PanelServerURL = *serverURLFlag
	args.PanelServerURLSpecified = given["server-url"]

	return args
}
