package hostsfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSortsByRegion(t *testing.T) {
	content := Render([]Entry{
		{Region: "subcloud2", ManagementIP: "192.168.102.2"},
		{Region: "subcloud1", ManagementIP: "192.168.101.2"},
	})
	assert.Equal(t, "192.168.101.2 subcloud1\n192.168.102.2 subcloud2\n", content)
}

func TestUpdateCreatesAndSkipsUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnsmasq.addn_hosts")
	entries := []Entry{{Region: "subcloud1", ManagementIP: "192.168.101.2"}}

	changed, err := Update(path, entries)
	require.NoError(t, err)
	assert.True(t, changed)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.101.2 subcloud1\n", string(raw))

	// Identical content: no rewrite.
	changed, err = Update(path, entries)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestUpdateReplacesChangedContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnsmasq.addn_hosts")

	_, err := Update(path, []Entry{{Region: "subcloud1", ManagementIP: "192.168.101.2"}})
	require.NoError(t, err)

	changed, err := Update(path, []Entry{
		{Region: "subcloud1", ManagementIP: "192.168.101.2"},
		{Region: "subcloud2", ManagementIP: "192.168.102.2"},
	})
	require.NoError(t, err)
	assert.True(t, changed)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.101.2 subcloud1\n192.168.102.2 subcloud2\n", string(raw))
}

func TestUpdateToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnsmasq.addn_hosts")

	_, err := Update(path, []Entry{{Region: "subcloud1", ManagementIP: "192.168.101.2"}})
	require.NoError(t, err)

	changed, err := Update(path, nil)
	require.NoError(t, err)
	assert.True(t, changed)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, string(raw))
}
