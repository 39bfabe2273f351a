package types

// NetConf holds the [net] section: where the proxy listens and which
// bitcoind it forwards to.
type NetConf struct {
	ListenIP       string `ini:"listen_ip"`
	ListenPort     int    `ini:"listen_port"`
	ListenUser     string `ini:"listen_user"` // optional inbound basic auth
	ListenPassword string `ini:"listen_pass"`
	DestIP         string `ini:"dest_ip"`
	DestPort       int    `ini:"dest_port"`
	DestUser       string `ini:"dest_user"`
	DestPassword   string `ini:"dest_pass"`
	RequestTimeout int    `ini:"request_timeout"` // seconds, 0 disables
	DestSocks5     string `ini:"dest_socks5"`     // optional host:port of a SOCKS5 proxy (e.g. Tor)
}

// AppConf holds the [app] section: logging and recovery behaviour.
type AppConf struct {
	LogLevel          string `ini:"log_level"`
	WaitForDownload   int    `ini:"wait_for_download"` // seconds
	LogWithEmojis     bool   `ini:"log_with_emojis"`
	StatsInterval     int    `ini:"stats_interval"`      // seconds
	IdleStatsInterval int    `ini:"idle_stats_interval"` // seconds

	// ForwardVerbosity forwards the caller's verbosity on the first getblock attempt.
	ForwardVerbosity bool `ini:"forward_verbosity"`

	// PreserveVerbosity keeps the caller's verbosity on the recovery retry
	// instead of forcing 0.
	PreserveVerbosity bool `ini:"preserve_verbosity"`

	// RetryOnTriggerFailure retries getblock even when getblockfrompeer failed.
	RetryOnTriggerFailure bool `ini:"retry_on_trigger_failure"`

	RecoverableCodes []int `ini:"recoverable_codes" delim:","`
}

// Config is the proxy's single configuration value, built once at startup.
type Config struct {
	NetConf `ini:"net"`
	AppConf `ini:"app"`
}

// DefaultConfig returns the configuration used for every key the file leaves out.
func DefaultConfig() *Config {
	return &Config{
		NetConf: NetConf{
			ListenIP:       "127.0.0.1",
			ListenPort:     8331,
			DestIP:         "127.0.0.1",
			DestPort:       8332,
			RequestTimeout: 300,
		},
		AppConf: AppConf{
			LogLevel:          "info",
			LogWithEmojis:     true,
			StatsInterval:     1800,
			IdleStatsInterval: 60,
			ForwardVerbosity:  true,
			RecoverableCodes:  []int{-1, -5},
		},
	}
}
