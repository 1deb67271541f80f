package commands

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/sectionnet/src/config"
)

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()

	toml := `
elder-count = 5
store = true
store-type = "leveldb"
dkg-timeout = "45s"
min-adult-age = 7
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sectionnet.toml"), []byte(toml), 0600))

	cmd := NewRunCmd()
	require.NoError(t, cmd.Flags().Set("datadir", dir))
	require.NoError(t, cmd.Flags().Set("moniker", "flagged"))
	require.NoError(t, loadConfig(cmd, nil))

	require.Equal(t, dir, _config.DataDir)
	require.Equal(t, "flagged", _config.Moniker)
	require.Equal(t, 5, _config.ElderCount)
	require.True(t, _config.Store)
	require.Equal(t, config.LevelDBStore, _config.StoreType)
	require.Equal(t, 45*time.Second, _config.DKGTimeout)
	require.Equal(t, uint8(7), _config.MinAdultAge)
	require.Equal(t, config.DefaultBindAddr, _config.BindAddr)
}
