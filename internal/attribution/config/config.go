package config

// Cfg 对应 config/attribution.yaml
type Cfg struct {
	Name        string  `yaml:"name" mapstructure:"name"`
	LogLevel    string  `yaml:"log_level" mapstructure:"log_level"`
	MetricsAddr string  `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	Mysql       DB      `yaml:"mysql" mapstructure:"mysql"`
	Redis       Redis   `yaml:"redis" mapstructure:"redis"`
	Nats        Nats    `yaml:"nats" mapstructure:"nats"`
	Intent      Intent  `yaml:"intent" mapstructure:"intent"`
	Match       Match   `yaml:"match" mapstructure:"match"`
	Sweep       Sweep   `yaml:"sweep" mapstructure:"sweep"`
}

type DB struct {
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	MaxIdle     int    `yaml:"max_idle" mapstructure:"max_idle"`
	MaxOpen     int    `yaml:"max_open" mapstructure:"max_open"`
	MaxLifetime int    `yaml:"max_lifetime" mapstructure:"max_lifetime"` // 秒
}

type Redis struct {
	Addr     string `yaml:"addr" mapstructure:"addr"` // 空 = 单实例部署，不抢锁
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

type Nats struct {
	URL string `yaml:"url" mapstructure:"url"` // 空 = 进程内广播
}

type Intent struct {
	TTLMinutes int `yaml:"ttl_minutes" mapstructure:"ttl_minutes"` // 默认 15
}

// Match 撮合策略，默认值见 matcher.DefaultPolicy
type Match struct {
	ToleranceBps   int64   `yaml:"tolerance_bps" mapstructure:"tolerance_bps"`
	AmountWeight   float64 `yaml:"amount_weight" mapstructure:"amount_weight"`
	TimeWeight     float64 `yaml:"time_weight" mapstructure:"time_weight"`
	AmbiguityDelta float64 `yaml:"ambiguity_delta" mapstructure:"ambiguity_delta"`
	AmbiguityCap   float64 `yaml:"ambiguity_cap" mapstructure:"ambiguity_cap"`
}

type Sweep struct {
	IntervalSeconds int    `yaml:"interval_seconds" mapstructure:"interval_seconds"`
	GraceMinutes    int    `yaml:"grace_minutes" mapstructure:"grace_minutes"`
	BatchSize       int    `yaml:"batch_size" mapstructure:"batch_size"`
	LockKey         string `yaml:"lock_key" mapstructure:"lock_key"`
}
