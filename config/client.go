package config

import (
	"errors"
	"os"
	"strings"
	"time"
)

// Client configures the headless collaboration client.
type Client struct {
	RelayURL    string `yaml:"relayURL"`    // ws://host:port
	DocumentURL string `yaml:"documentURL"` // http://host:port, empty means the relay
	RoomID      string `yaml:"roomId"`
	DisplayName string `yaml:"displayName"`
	// Credential is sent as the token header when saving.
	Credential string `yaml:"credential"`
	Store      string `yaml:"store"` // http|sqlite
	SQLitePath string `yaml:"sqlitePath"`

	ReconnectAttempts int           `yaml:"reconnectAttempts"`
	ReconnectDelay    time.Duration `yaml:"reconnectDelay"`
	ReconnectMaxDelay time.Duration `yaml:"reconnectMaxDelay"`
	ConnectTimeout    time.Duration `yaml:"connectTimeout"`
	// SyncTimeout: 0 waits for the document layer forever.
	SyncTimeout *time.Duration `yaml:"syncTimeout"`
	DedupWindow time.Duration  `yaml:"dedupWindow"`

	Logging Logging `yaml:"logging"`
}

// LoadClient reads the client config; a missing file yields defaults.
func LoadClient(path string) (*Client, error) {
	loadDotEnv()

	var c Client
	if path != "" {
		if err := readYAML(path, &c); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Client) applyEnv() {
	overrideString(&c.RelayURL, "RELAY_URL")
	overrideString(&c.DocumentURL, "DOCUMENT_URL")
	overrideString(&c.Credential, "DOC_TOKEN")
}

// Validate fills defaults; call it again after overriding fields from flags.
func (c *Client) Validate() error {
	if c.RelayURL == "" {
		c.RelayURL = "ws://localhost:8080"
	}
	if c.DocumentURL == "" {
		c.DocumentURL = c.RelayURL
		switch {
		case strings.HasPrefix(c.DocumentURL, "ws://"):
			c.DocumentURL = "http://" + strings.TrimPrefix(c.DocumentURL, "ws://")
		case strings.HasPrefix(c.DocumentURL, "wss://"):
			c.DocumentURL = "https://" + strings.TrimPrefix(c.DocumentURL, "wss://")
		}
	}
	if c.DisplayName == "" {
		c.DisplayName = "Anonymous"
	}
	if c.Store == "" {
		c.Store = "http"
	}
	if c.Store != "http" && c.Store != "sqlite" {
		return errors.New("store must be http or sqlite")
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "docsync.db"
	}

	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 5
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 10 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.SyncTimeout == nil {
		d := 2 * time.Second
		c.SyncTimeout = &d
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = time.Second
	}

	if c.Logging.Service == "" {
		c.Logging.Service = "docsync-collab"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	return nil
}
