package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/ini.v1"

	"btcproxy/internal/shared/types"
)

// ErrMissingCredentials is returned when no upstream RPC user or password is configured.
var ErrMissingCredentials = errors.New("dest_user and dest_pass must be set in [net] or via BTCPROXY_DEST_USER/BTCPROXY_DEST_PASS")

// Load reads proxy.conf on top of the defaults, applies environment
// overrides and validates the result. A missing file is not an error so
// the proxy can run from environment variables alone.
func Load(fileName string) (*types.Config, error) {
	cfg := types.DefaultConfig()
	if err := LoadIni(cfg, fileName); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadIni maps the ini file onto cfg, leaving unset keys untouched.
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.LooseLoad(fileName)
	if err != nil {
		return fmt.Errorf("failed to parse config file '%s': %w", fileName, err)
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return fmt.Errorf("failed to map config file '%s': %w", fileName, err)
	}
	overrideFromEnvStr(&cfg.NetConf.DestUser, "BTCPROXY_DEST_USER")
	overrideFromEnvStr(&cfg.NetConf.DestPassword, "BTCPROXY_DEST_PASS")
	overrideFromEnvInt(&cfg.AppConf.WaitForDownload, "BTCPROXY_WAIT_FOR_DOWNLOAD")
	return nil
}

// Validate checks the values the proxy cannot run without.
func Validate(cfg *types.Config) error {
	if cfg.NetConf.DestUser == "" || cfg.NetConf.DestPassword == "" {
		return ErrMissingCredentials
	}
	if err := checkPort("listen_port", cfg.NetConf.ListenPort); err != nil {
		return err
	}
	if err := checkPort("dest_port", cfg.NetConf.DestPort); err != nil {
		return err
	}
	if cfg.NetConf.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative, got %d", cfg.NetConf.RequestTimeout)
	}
	if cfg.AppConf.WaitForDownload < 0 {
		return fmt.Errorf("wait_for_download must not be negative, got %d", cfg.AppConf.WaitForDownload)
	}
	if cfg.AppConf.StatsInterval <= 0 || cfg.AppConf.IdleStatsInterval <= 0 {
		return fmt.Errorf("stats_interval and idle_stats_interval must be positive")
	}
	if len(cfg.AppConf.RecoverableCodes) == 0 {
		return fmt.Errorf("recoverable_codes must list at least one error code")
	}
	return nil
}

func checkPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}

func overrideFromEnvStr(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}
