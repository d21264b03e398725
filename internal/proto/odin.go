package proto

import (
	"encoding/binary"

	"github.com/ddiss/lthor/internal/flasherr"
)

// Odin top-level request ids (RQT_ODIN_*). DEVINFO is named in the
// governing specification but absent from the upstream odin-proto.h;
// it is packed and decoded the same way as the other three using the
// same generic three-word layout.
const (
	OdinDLInit   = 0x64
	OdinPIT      = 0x65
	OdinFileXfer = 0x66
	OdinDLEnd    = 0x67
	OdinDevInfo  = 0x69
)

// RQT_ODIN_DL_INIT sub-ids.
const (
	DLInitBegin      = 0
	DLInitDeviceType = 1
	DLInitBytes      = 2
	DLInitUnknownA   = 3
	DLInitUnknownB   = 4
	DLInitXferSize   = 5
	DLInitUnknownC   = 6
	DLInitUnknownD   = 7
	DLInitTF         = 8
)

// RQT_ODIN_PIT and RQT_ODIN_FILE_XFER sub-ids.
const (
	PITFlash   = 0
	PITDump    = 1
	PITPart    = 2
	PITXferEnd = 3
)

// RQT_ODIN_DL_END sub-ids.
const (
	DLEndReg    = 0
	DLEndReboot = 1
)

const (
	odinReqSize  = 1024
	odinRespSize = 8
)

// OdinRequest is the generic three-word Odin packet: an id, a subid,
// and a single caller-supplied 32-bit payload word (xfer_size for
// DL_INIT, part_off for PIT, unknown for DL_END), zero-padded to 1024
// bytes on the wire.
type OdinRequest struct {
	ID    int32
	SubID int32
	Word  int32
}

// Pack serializes req, rejecting requests whose ID does not match
// wantID — e.g. a caller must build a DL_INIT request with
// OdinDLInit, never silently with another top-level id.
func Pack(req OdinRequest, wantID int32) ([]byte, error) {
	if req.ID != wantID {
		return nil, flasherr.New(flasherr.InvalidArgument, "odin request id 0x%x != expected 0x%x", req.ID, wantID)
	}
	buf := make([]byte, odinReqSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(req.ID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(req.SubID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(req.Word))
	return buf, nil
}

// OdinResponse is the generic 8-byte Odin response: the echoed id and
// a single reply word (xfer_size for DL_INIT, total_len for PIT).
type OdinResponse struct {
	ID   int32
	Word int32
}

// Unpack parses an 8-byte Odin response, rejecting a response whose
// echoed id does not match wantID with a FramingError.
func Unpack(buf []byte, wantID int32) (*OdinResponse, error) {
	if len(buf) < odinRespSize {
		return nil, flasherr.New(flasherr.InvalidArgument, "odin response buffer too short: %d < %d", len(buf), odinRespSize)
	}
	id := int32(binary.LittleEndian.Uint32(buf[0:4]))
	if id != wantID {
		return nil, flasherr.New(flasherr.FramingError, "odin response id 0x%x != expected 0x%x", id, wantID)
	}
	return &OdinResponse{
		ID:   id,
		Word: int32(binary.LittleEndian.Uint32(buf[4:8])),
	}, nil
}

// PackDLInit builds a DL_INIT request with the given sub-id and word.
func PackDLInit(subid, word int32) ([]byte, error) {
	return Pack(OdinRequest{ID: OdinDLInit, SubID: subid, Word: word}, OdinDLInit)
}

// UnpackDLInit parses a DL_INIT response.
func UnpackDLInit(buf []byte) (*OdinResponse, error) {
	return Unpack(buf, OdinDLInit)
}

// PackDLEnd builds a DL_END request with the given sub-id.
func PackDLEnd(subid int32) ([]byte, error) {
	return Pack(OdinRequest{ID: OdinDLEnd, SubID: subid}, OdinDLEnd)
}

// UnpackDLEnd parses a DL_END response.
func UnpackDLEnd(buf []byte) (*OdinResponse, error) {
	return Unpack(buf, OdinDLEnd)
}

// PackPIT builds a PIT/FILE_XFER request with the given sub-id and
// word (part_off for PITPart, unused otherwise).
func PackPIT(subid, word int32) ([]byte, error) {
	return Pack(OdinRequest{ID: OdinPIT, SubID: subid, Word: word}, OdinPIT)
}

// UnpackPIT parses a PIT response.
func UnpackPIT(buf []byte) (*OdinResponse, error) {
	return Unpack(buf, OdinPIT)
}

// PackDevInfo builds a DEVINFO request with the given sub-id and word.
func PackDevInfo(subid, word int32) ([]byte, error) {
	return Pack(OdinRequest{ID: OdinDevInfo, SubID: subid, Word: word}, OdinDevInfo)
}

// UnpackDevInfo parses a DEVINFO response.
func UnpackDevInfo(buf []byte) (*OdinResponse, error) {
	return Unpack(buf, OdinDevInfo)
}
