package lottery

import (
	"math"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dedis/lottery/easyrand"
	"github.com/dedis/lottery/raffle/base"
	"golang.org/x/xerrors"
)

// Duration is a time.Duration written as a string ("1m30s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the configuration file of a lottery node.
type Config struct {
	// EntranceFee is the minimum amount of an entry.
	EntranceFee uint64 `toml:"entrance_fee"`
	// Interval is the minimum time between two draws.
	Interval Duration `toml:"interval"`
	// KeeperPeriod is how often the node checks for upkeep. Zero disables
	// the automatic draws.
	KeeperPeriod Duration `toml:"keeper_period"`

	// BlockTime is the time the beacon needs for one confirmation.
	BlockTime     Duration `toml:"block_time"`
	Subscription  uint64   `toml:"subscription"`
	Confirmations uint32   `toml:"confirmations"`
	CallbackLimit Duration `toml:"callback_limit"`
	NumWords      uint32   `toml:"num_words"`

	// Faucet lets Deposit credit any account out of thin air. It is meant
	// for test deployments only.
	Faucet bool `toml:"faucet"`

	// DB is the path of the bbolt database of a standalone node.
	DB string `toml:"db"`
	// Listen is the address of the HTTP gateway.
	Listen string `toml:"listen"`
}

// DefaultConfig returns the configuration used for missing keys.
func DefaultConfig() *Config {
	return &Config{
		EntranceFee:   100,
		Interval:      Duration{time.Minute},
		KeeperPeriod:  Duration{5 * time.Second},
		BlockTime:     Duration{time.Second},
		Subscription:  1,
		Confirmations: 3,
		CallbackLimit: Duration{500 * time.Millisecond},
		NumWords:      1,
		DB:            "lottery.db",
		Listen:        ":8080",
	}
}

// LoadConfig reads the file at path on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, xerrors.Errorf("reading %s: %v", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return nil, xerrors.Errorf("unknown keys in %s: %v", path, undec)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return xerrors.Errorf("encoding config: %v", err)
	}
	return nil
}

// Validate checks the bounds of every field.
func (c *Config) Validate() error {
	if c.EntranceFee == 0 {
		return xerrors.New("entrance_fee must be positive")
	}
	if c.Interval.Duration < 0 {
		return xerrors.New("interval must not be negative")
	}
	if c.KeeperPeriod.Duration < 0 {
		return xerrors.New("keeper_period must not be negative")
	}
	if c.BlockTime.Duration < 0 {
		return xerrors.New("block_time must not be negative")
	}
	if c.NumWords == 0 || c.NumWords > easyrand.MaxNumWords {
		return xerrors.Errorf("num_words must be between 1 and %d",
			easyrand.MaxNumWords)
	}
	ms := c.CallbackLimit.Milliseconds()
	if ms < 0 || ms > math.MaxUint32 {
		return xerrors.New("callback_limit out of range")
	}
	return nil
}

// Raffle returns the immutable raffle configuration for requests answered
// by the beacon identified by lane.
func (c *Config) Raffle(lane string) base.Config {
	return base.Config{
		EntranceFee: c.EntranceFee,
		Interval:    c.Interval.Duration,
		Randomness: base.RandomnessParams{
			GasLane:        lane,
			SubscriptionID: c.Subscription,
			Confirmations:  c.Confirmations,
			CallbackLimit:  uint32(c.CallbackLimit.Milliseconds()),
			NumWords:       c.NumWords,
		},
	}
}
