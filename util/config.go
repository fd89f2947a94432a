package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const Name = "anancus"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host      string
		HttpPort  int    `yaml:"httpPort"`
		SshPort   int    `yaml:"sshPort"`
		SslDomain string `yaml:"sslDomain"`

		// Delivery scheduler
		DeliveryWorkers      int `yaml:"deliveryWorkers"`
		DeliveryMaxAttempts  int `yaml:"deliveryMaxAttempts"`
		DeliveryTimeoutSec   int `yaml:"deliveryTimeoutSec"`
		UnreachableThreshold int `yaml:"unreachableThreshold"`

		// Inbox verification
		KeyFetchTimeoutSec int `yaml:"keyFetchTimeoutSec"`
		ClockSkewSec       int `yaml:"clockSkewSec"`

		// Federated content limits, enforced on inbound Create
		// exactly like on local submissions
		MaxContentMB       int `yaml:"maxContentMb"`
		MaxDurationSeconds int `yaml:"maxDurationSeconds"`

		// Federated media lands here, apart from local uploads
		FederatedDir string `yaml:"federatedDir"`
	}
}

// MaxContentBytes returns the federated content size limit in bytes.
func (c *AppConfig) MaxContentBytes() int64 {
	return int64(c.Conf.MaxContentMB) * 1024 * 1024
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	applyEnvOverrides(c)

	return c, nil
}

func applyEnvOverrides(c *AppConfig) {
	if v := os.Getenv("ANANCUS_HOST"); v != "" {
		c.Conf.Host = v
	}
	if v := os.Getenv("ANANCUS_SSLDOMAIN"); v != "" {
		c.Conf.SslDomain = v
	}
	if v := os.Getenv("ANANCUS_FEDERATED_DIR"); v != "" {
		c.Conf.FederatedDir = v
	}

	envInt("ANANCUS_HTTPPORT", &c.Conf.HttpPort)
	envInt("ANANCUS_SSHPORT", &c.Conf.SshPort)
	envInt("ANANCUS_DELIVERY_WORKERS", &c.Conf.DeliveryWorkers)
	envInt("ANANCUS_DELIVERY_MAX_ATTEMPTS", &c.Conf.DeliveryMaxAttempts)
	envInt("ANANCUS_DELIVERY_TIMEOUT_SEC", &c.Conf.DeliveryTimeoutSec)
	envInt("ANANCUS_UNREACHABLE_THRESHOLD", &c.Conf.UnreachableThreshold)
	envInt("ANANCUS_KEY_FETCH_TIMEOUT_SEC", &c.Conf.KeyFetchTimeoutSec)
	envInt("ANANCUS_CLOCK_SKEW_SEC", &c.Conf.ClockSkewSec)
	envInt("ANANCUS_MAX_CONTENT_MB", &c.Conf.MaxContentMB)
	envInt("ANANCUS_MAX_DURATION_SEC", &c.Conf.MaxDurationSeconds)
}

func envInt(key string, target *int) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Println(err)
		return
	}
	*target = v
}
