package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeclaration_RoundTrip(t *testing.T) {
	d := Declaration{
		DiskUUID:   "11111111-1111-1111-1111-111111111111",
		BindPort:   9501,
		VolumeUUID: "22222222-2222-2222-2222-222222222222",
	}
	buf := d.Encode()

	got, err := DecodeDeclaration(buf)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestDeclaration_FieldOrderAndTrailingSeparators(t *testing.T) {
	d := Declaration{DiskUUID: "disk", BindPort: 1, VolumeUUID: "vol"}
	buf := d.Encode()
	sep := string(byte(Separator))
	assert.Equal(t, "disk"+sep+"1"+sep+"vol"+sep+sep, string(buf))
}

func TestDecodeDeclaration_MalformedRejected(t *testing.T) {
	_, err := DecodeDeclaration([]byte("not-a-declaration"))
	assert.Error(t, err)

	sep := string(byte(Separator))
	_, err = DecodeDeclaration([]byte("disk" + sep + "notaport" + sep + "vol" + sep + sep))
	assert.Error(t, err)

	// missing trailing double separator
	_, err = DecodeDeclaration([]byte("disk" + sep + "1" + sep + "vol" + sep))
	assert.Error(t, err)
}
