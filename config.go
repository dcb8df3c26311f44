package main

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/horgh/config"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Config holds a server's configuration. The flat key=value fields mirror
// the teacher's config.go exactly (down to the field names); the YAML
// extra section adds everything the expanded spec needs that a flat
// string map can't express cleanly (nested oper/link/rate-limit/account
// blocks).
type Config struct {
	ListenHost string
	ListenPort string
	ServerName string
	ServerInfo string
	Version    string
	CreatedDate string
	MOTD        string

	MaxNickLength int

	WakeupTime time.Duration
	PingTime   time.Duration
	DeadTime   time.Duration

	RegistrationTimeout time.Duration

	// Oper name to password (teacher's flat form, kept for opers with no
	// extra host/flag restriction).
	Opers map[string]string

	TS6SID string

	TLSListenPort string
	TLSCertFile   string
	TLSKeyFile    string

	AccountsDBPath string

	Extra ConfigExtra
}

// ConfigExtra is the YAML-loaded nested section (spec additions: server
// links, richer oper blocks, rate limits, account-registration flags).
type ConfigExtra struct {
	Servers []ServerLinkConfig `yaml:"servers"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`

	AccountRegistration struct {
		Enabled             bool `yaml:"enabled"`
		CustomAccountName   bool `yaml:"custom_account_name"`
		BeforeConnect       bool `yaml:"before_connect"`
		EmailRequired       bool `yaml:"email_required"`
	} `yaml:"account_registration"`

	Spam struct {
		EntropyThreshold   float64 `yaml:"entropy_threshold"`
		RepetitionCeiling  int     `yaml:"repetition_ceiling"`
	} `yaml:"spam"`

	HistoryMaxPerTarget int `yaml:"history_max_per_target"`
	HistoryMaxTargets   int `yaml:"history_max_targets"`
}

// ServerLinkConfig describes a configured S2S peer (spec §4.L "peers are
// either configured ... or ephemeral").
type ServerLinkConfig struct {
	Name     string `yaml:"name"`
	Pass     string `yaml:"pass"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	SID      string `yaml:"sid"`
}

// checkAndParseConfig loads and validates configuration, grounded on the
// teacher's Server.checkAndParseConfig.
func (cb *Catbox) checkAndParseConfig(file string) error {
	configMap, err := config.ReadStringMap(file)
	if err != nil {
		return err
	}

	requiredKeys := []string{
		"listen-host",
		"listen-port",
		"server-name",
		"server-info",
		"version",
		"created-date",
		"motd",
		"max-nick-length",
		"wakeup-time",
		"ping-time",
		"dead-time",
		"opers-config",
		"ts6-sid",
	}

	for _, key := range requiredKeys {
		v, exists := configMap[key]
		if !exists {
			return fmt.Errorf("missing required key: %s", key)
		}
		if len(v) == 0 {
			return fmt.Errorf("configuration value is blank: %s", key)
		}
	}

	cfg := &Config{}

	cfg.ListenHost = configMap["listen-host"]
	cfg.ListenPort = configMap["listen-port"]
	cfg.ServerName = configMap["server-name"]
	cfg.ServerInfo = configMap["server-info"]
	cfg.Version = configMap["version"]
	cfg.CreatedDate = configMap["created-date"]
	cfg.MOTD = configMap["motd"]
	cfg.TLSListenPort = configMap["tls-listen-port"]
	cfg.TLSCertFile = configMap["tls-cert-file"]
	cfg.TLSKeyFile = configMap["tls-key-file"]
	cfg.AccountsDBPath = configMap["accounts-db-path"]

	nickLen64, err := strconv.ParseInt(configMap["max-nick-length"], 10, 8)
	if err != nil {
		return fmt.Errorf("max nick length is not valid: %s", err)
	}
	cfg.MaxNickLength = int(nickLen64)

	cfg.WakeupTime, err = time.ParseDuration(configMap["wakeup-time"])
	if err != nil {
		return fmt.Errorf("wakeup time is in invalid format: %s", err)
	}

	cfg.PingTime, err = time.ParseDuration(configMap["ping-time"])
	if err != nil {
		return fmt.Errorf("ping time is in invalid format: %s", err)
	}

	cfg.DeadTime, err = time.ParseDuration(configMap["dead-time"])
	if err != nil {
		return fmt.Errorf("dead time is in invalid format: %s", err)
	}

	cfg.RegistrationTimeout = 30 * time.Second
	if v, ok := configMap["registration-timeout"]; ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("registration timeout is in invalid format: %s", err)
		}
		cfg.RegistrationTimeout = d
	}

	opers, err := config.ReadStringMap(configMap["opers-config"])
	if err != nil {
		return fmt.Errorf("unable to load opers config: %s", err)
	}
	cfg.Opers = opers

	matched, err := regexp.MatchString("^[0-9][0-9A-Z]{2}$", configMap["ts6-sid"])
	if err != nil {
		return fmt.Errorf("unable to validate ts6-sid: %s", err)
	}
	if !matched {
		return fmt.Errorf("ts6-sid is in invalid format")
	}
	cfg.TS6SID = configMap["ts6-sid"]

	if extraPath, ok := configMap["yaml-extra"]; ok && extraPath != "" {
		if err := loadYAMLExtra(extraPath, &cfg.Extra); err != nil {
			return errors.Wrap(err, "unable to load yaml extra config")
		}
	}
	if cfg.Extra.RateLimit.MessagesPerWindow == 0 {
		cfg.Extra.RateLimit.MessagesPerWindow = 20
	}
	if cfg.Extra.RateLimit.Window == 0 {
		cfg.Extra.RateLimit.Window = 10 * time.Second
	}
	if cfg.Extra.RateLimit.CTCPPerWindow == 0 {
		cfg.Extra.RateLimit.CTCPPerWindow = 5
	}
	if cfg.Extra.Spam.EntropyThreshold == 0 {
		cfg.Extra.Spam.EntropyThreshold = 4.6
	}
	if cfg.Extra.Spam.RepetitionCeiling == 0 {
		cfg.Extra.Spam.RepetitionCeiling = 10
	}
	if cfg.Extra.HistoryMaxPerTarget == 0 {
		cfg.Extra.HistoryMaxPerTarget = 100
	}
	if cfg.Extra.HistoryMaxTargets == 0 {
		cfg.Extra.HistoryMaxTargets = 2000
	}

	cb.Config = cfg
	return nil
}

func loadYAMLExtra(path string, into *ConfigExtra) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, into)
}
