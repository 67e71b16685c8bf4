package iniconf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_SectionsAndKeys(t *testing.T) {
	doc := `
; leading comment
[Server]
disk_name = /data/disk0.img
disk_uuid: 11111111-1111-1111-1111-111111111111
volume_uuid = 22222222-2222-2222-2222-222222222222

[MulticastGroup]
address = 239.1.1.1
port = 9000

[Authentication]
long_password = hunter2
`
	f, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)

	srv, ok := f.Section("Server")
	require.True(t, ok)
	v, ok := srv.Get("disk_name")
	assert.True(t, ok)
	assert.Equal(t, "/data/disk0.img", v)

	mc, ok := f.Section("MulticastGroup")
	require.True(t, ok)
	v, _ = mc.Get("port")
	assert.Equal(t, "9000", v)

	auth, ok := f.Section("Authentication")
	require.True(t, ok)
	v, _ = auth.Get("long_password")
	assert.Equal(t, "hunter2", v)
}

func TestParse_VolumeSections(t *testing.T) {
	doc := `
[volume0]
disk_uuid = aaa
address = 127.0.0.1:9001

[volume1]
disk_uuid = bbb
address = 127.0.0.1:9002
`
	f, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)

	vols := f.VolumeSections()
	require.Len(t, vols, 2)
	assert.Equal(t, 0, vols[0].Index)
	assert.Equal(t, 1, vols[1].Index)
	v, _ := vols[0].Section.Get("disk_uuid")
	assert.Equal(t, "aaa", v)
}

func TestParse_MalformedLine(t *testing.T) {
	_, err := Parse(strings.NewReader("[Server]\nnot-a-key-value-line\n"))
	require.Error(t, err)
}

func TestParse_MalformedSectionHeader(t *testing.T) {
	_, err := Parse(strings.NewReader("[Server\nkey=val\n"))
	require.Error(t, err)
}

func TestSection_MissingSectionGetIsSafe(t *testing.T) {
	f, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	missing, ok := f.Section("nope")
	assert.False(t, ok)
	_, ok = missing.Get("x")
	assert.False(t, ok)
}
