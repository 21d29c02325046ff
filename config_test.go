package tramite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigBytes(t *testing.T) {
	cfg, err := LoadConfigBytes([]byte(`
process_dir: /var/lib/tramite/processes
queue_name: approvals
store_dsn: postgres://tramite@localhost/tramite
providers:
  - name: static
    params:
      users: alice,bob
  - name: ldap
    params:
      host: ldap.corp.mx
      port: 636
`))
	require.NoError(t, err)
	require.Equal(t, "/var/lib/tramite/processes", cfg.ProcessDir)
	require.Equal(t, "approvals", cfg.QueueName)
	require.Equal(t, "postgres://tramite@localhost/tramite", cfg.StoreDSN)
	require.Len(t, cfg.Providers, 2)
	require.Equal(t, "static", cfg.Providers[0].Name)
	require.Equal(t, "alice,bob", cfg.Providers[0].Params["users"])
	require.Equal(t, 636, cfg.Providers[1].Params["port"])
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfigBytes([]byte("process_dir: ./processes\n"))
	require.NoError(t, err)
	require.Equal(t, "tramite", cfg.QueueName)
	require.Empty(t, cfg.StoreDSN)
}

func TestLoadConfigRequiresProcessDir(t *testing.T) {
	_, err := LoadConfigBytes([]byte("queue_name: q\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "process_dir")
}

func TestLoadConfigBadYAML(t *testing.T) {
	_, err := LoadConfigBytes([]byte("process_dir: [unclosed\n"))
	require.Error(t, err)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tramite.yaml")
	require.NoError(t, os.WriteFile(path, []byte("process_dir: "+dir+"\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, dir, cfg.ProcessDir)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
