package proto

import (
	"testing"

	"github.com/ddiss/lthor/internal/flasherr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackDLInitLayout(t *testing.T) {
	buf, err := PackDLInit(DLInitBegin, 0)
	require.NoError(t, err)
	require.Len(t, buf, odinReqSize)

	assert.EqualValues(t, OdinDLInit, buf[0])
	assert.EqualValues(t, DLInitBegin, buf[4])
	assert.EqualValues(t, 0, buf[8])

	for i := 12; i < odinReqSize; i++ {
		assert.Zerof(t, buf[i], "byte %d should be zero-padded", i)
	}
}

func TestPackDLInitXferSizeWord(t *testing.T) {
	buf, err := PackDLInit(DLInitXferSize, 131072)
	require.NoError(t, err)
	assert.EqualValues(t, DLInitXferSize, buf[4])
	// 131072 = 0x00020000, little-endian bytes 00 00 02 00
	assert.Equal(t, []byte{0x00, 0x00, 0x02, 0x00}, buf[8:12])
}

func TestUnpackDLInitResponse(t *testing.T) {
	// id=0x64, xfer_size=131072
	buf := []byte{0x64, 0, 0, 0, 0x00, 0x00, 0x02, 0x00}
	resp, err := UnpackDLInit(buf)
	require.NoError(t, err)
	assert.EqualValues(t, OdinDLInit, resp.ID)
	assert.EqualValues(t, 131072, resp.Word)
}

func TestPackRejectsWrongID(t *testing.T) {
	_, err := Pack(OdinRequest{ID: OdinPIT, SubID: PITDump}, OdinDLInit)
	require.Error(t, err)
	assert.True(t, flasherr.Is(err, flasherr.InvalidArgument))
}

func TestUnpackRejectsWrongID(t *testing.T) {
	buf := []byte{0x65, 0, 0, 0, 1, 0, 0, 0} // id=PIT, but caller expects DL_INIT
	_, err := UnpackDLInit(buf)
	require.Error(t, err)
	assert.True(t, flasherr.Is(err, flasherr.FramingError))
}

func TestPITRoundTrip(t *testing.T) {
	buf, err := PackPIT(PITPart, 7)
	require.NoError(t, err)
	assert.EqualValues(t, OdinPIT, buf[0])
	assert.EqualValues(t, PITPart, buf[4])
	assert.EqualValues(t, 7, buf[8])

	// Device echoes id + total_len on the dump request.
	resp, err := UnpackPIT([]byte{0x65, 0, 0, 0, 0x88, 0x13, 0, 0})
	require.NoError(t, err)
	assert.EqualValues(t, 0x1388, resp.Word) // 5000
}

func TestDevInfoRoundTrip(t *testing.T) {
	buf, err := PackDevInfo(0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, OdinDevInfo, buf[0])

	_, err = UnpackDevInfo([]byte{0x69, 0, 0, 0, 1, 0, 0, 0})
	require.NoError(t, err)
}
