package proto

import (
	"testing"

	"github.com/ddiss/lthor/internal/flasherr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequestRoundTrip(t *testing.T) {
	ints := []int32{202, 1, 3000}
	strs := []string{"img", "second"}

	buf, err := EncodeRequest(GroupDL, DLFileInfo, ints, strs)
	require.NoError(t, err)
	require.Len(t, buf, ReqPktSize)

	// Group and sub-id occupy the first two little-endian words.
	assert.Equal(t, byte(GroupDL), buf[0])
	assert.Equal(t, byte(DLFileInfo), buf[4])

	// int_data slots beyond the supplied values are zero.
	off := 8 + len(ints)*4
	for i := off; i < 8+ReqInts*4; i++ {
		assert.Zerof(t, buf[i], "int_data byte %d should be zero-padded", i)
	}

	// str_data slots are NUL-terminated and zero-padded.
	strOff := 8 + ReqInts*4
	first := buf[strOff : strOff+32]
	assert.Equal(t, "img", cStr(first))
	for i := 3; i < 32; i++ {
		assert.Zerof(t, first[i], "str_data[0] byte %d should be zero-padded", i)
	}

	// Unsupplied string slots are entirely zero.
	unused := buf[strOff+2*32 : strOff+3*32]
	for _, b := range unused {
		assert.Zero(t, b)
	}

	// md5 field is always zero.
	md5Off := strOff + ReqStrs*32
	for i := md5Off; i < md5Off+32; i++ {
		assert.Zerof(t, buf[i], "md5 byte %d should be zero", i)
	}
}

func TestEncodeRequestRejectsOverflow(t *testing.T) {
	_, err := EncodeRequest(GroupDL, DLInit, make([]int32, ReqInts+1), nil)
	require.Error(t, err)
	assert.True(t, flasherr.Is(err, flasherr.InvalidArgument))

	_, err = EncodeRequest(GroupDL, DLInit, nil, make([]string, ReqStrs+1))
	require.Error(t, err)
	assert.True(t, flasherr.Is(err, flasherr.InvalidArgument))

	_, err = EncodeRequest(GroupDL, DLInit, nil, []string{string(make([]byte, 32))})
	require.Error(t, err)
	assert.True(t, flasherr.Is(err, flasherr.InvalidArgument))
}

func TestDecodeResponse(t *testing.T) {
	// Hand-built little-endian response: id=202, sub_id=2, ack=0,
	// int_data[0]=1024 (negotiated transfer unit), remaining fields zero.
	buf := make([]byte, RespPktSize)
	buf[0], buf[4] = 202, 2
	buf[12] = 0x00 // ack low byte
	buf[16] = 0x00
	buf[17] = 0x04 // int_data[0] = 1024 little-endian

	resp, err := DecodeResponse(buf)
	require.NoError(t, err)
	assert.EqualValues(t, 202, resp.ID)
	assert.EqualValues(t, 2, resp.SubID)
	assert.EqualValues(t, 0, resp.Ack)
	assert.EqualValues(t, 1024, resp.Ints[0])
	for _, s := range resp.Strs {
		assert.Equal(t, "", s)
	}
}

func TestDecodeResponseTooShort(t *testing.T) {
	_, err := DecodeResponse(make([]byte, RespPktSize-1))
	require.Error(t, err)
	assert.True(t, flasherr.Is(err, flasherr.InvalidArgument))
}

func TestDecodeDataResponse(t *testing.T) {
	buf := []byte{0, 0, 0, 0, 3, 0, 0, 0} // ack=0, cnt=3
	dr, err := DecodeDataResponse(buf)
	require.NoError(t, err)
	assert.EqualValues(t, 0, dr.Ack)
	assert.EqualValues(t, 3, dr.Cnt)
}
