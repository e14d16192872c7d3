package lottery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lottery.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
entrance_fee = 250
interval = "90s"
num_words = 2
callback_limit = "1s"
`), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, uint64(250), cfg.EntranceFee)
	require.Equal(t, 90*time.Second, cfg.Interval.Duration)
	require.Equal(t, uint32(2), cfg.NumWords)
	// defaults
	require.Equal(t, uint32(3), cfg.Confirmations)
	require.Equal(t, ":8080", cfg.Listen)

	rc := cfg.Raffle("lane")
	require.Equal(t, "lane", rc.Randomness.GasLane)
	require.Equal(t, uint32(1000), rc.Randomness.CallbackLimit)
	require.Equal(t, 90*time.Second, rc.Interval)
}

func TestConfig_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lottery.toml")
	cfg := DefaultConfig()
	cfg.EntranceFee = 7
	cfg.KeeperPeriod = Duration{0}
	require.NoError(t, cfg.Save(path))
	got, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}

func TestConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	for i, content := range []string{
		`entrance_fee = 0`,
		`num_words = 0`,
		`num_words = 501`,
		`interval = "-1s"`,
		`interval = "soon"`,
		`unknown_key = 1`,
	} {
		path := filepath.Join(dir, "c.toml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
		_, err := LoadConfig(path)
		require.Error(t, err, "case %d", i)
	}
	_, err := LoadConfig(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
}
