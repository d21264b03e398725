// Package proto implements the wire codec for the Thor and Odin
// request/response packet families. Every multi-byte field is encoded
// little-endian explicitly, on both the send and receive paths: the
// upstream protocol definition was lifted straight from an in-memory
// struct layout on little-endian hosts, which only works by accident
// on a big-endian one.
package proto

import (
	"encoding/binary"

	"github.com/ddiss/lthor/internal/flasherr"
)

// Thor request groups (RQT_* in the upstream headers).
const (
	GroupInfo = 200
	GroupCmd  = 201
	GroupDL   = 202
	GroupUL   = 203
)

// RQT_INFO sub-ids.
const (
	InfoVerProtocol = 1
	InfoVerHW       = 2
	InfoVerBoot     = 3
	InfoVerKernel   = 4
	InfoVerPlatform = 5
	InfoVerCSC      = 6
)

// RQT_CMD sub-ids.
const (
	CmdReboot   = 1
	CmdPoweroff = 2
)

// RQT_DL sub-ids.
const (
	DLInit      = 1
	DLFileInfo  = 2
	DLFileStart = 3
	DLFileEnd   = 4
	DLExit      = 5
)

// RQT_UL sub-ids, reserved and unused by the core.
const (
	ULInit  = 1
	ULStart = 2
	ULEnd   = 3
	ULExit  = 4
)

// FILE_INFO int_data[0] data type tags.
const (
	BinaryTypeNormal = 0
	BinaryTypePIT    = 1
)

const (
	// ReqInts is the number of int32 slots in a Thor request.
	ReqInts = 14
	// ReqStrs is the number of 32-byte string slots in a Thor request.
	ReqStrs = 5
	// RespInts is the number of int32 slots in a Thor response.
	RespInts = 5
	// RespStrs is the number of 32-byte string slots in a Thor response.
	RespStrs = 3
	strLen   = 32
	md5Len   = 32

	// ReqPktSize is the fixed wire size of a Thor request packet.
	ReqPktSize = 4 + 4 + ReqInts*4 + ReqStrs*strLen + md5Len
	// RespPktSize is the fixed wire size of a Thor response packet.
	RespPktSize = 4 + 4 + 4 + RespInts*4 + RespStrs*strLen
	// DataRespPktSize is the fixed wire size of a Thor data-response.
	DataRespPktSize = 4 + 4
)

// Request is a decoded Thor request packet (struct rqt_pkt).
type Request struct {
	ID      int32
	SubID   int32
	Ints    [ReqInts]int32
	Strs    [ReqStrs]string
}

// EncodeRequest serializes a Thor request. ints may have up to ReqInts
// elements and strs up to ReqStrs elements of at most 31 bytes each;
// exceeding either is an InvalidArgument error. Shorter slices leave
// the remaining slots zero. The md5 field is always emitted as zeros:
// no implementation validates it.
func EncodeRequest(group, subid int32, ints []int32, strs []string) ([]byte, error) {
	if len(ints) > ReqInts {
		return nil, flasherr.New(flasherr.InvalidArgument, "too many int fields: %d > %d", len(ints), ReqInts)
	}
	if len(strs) > ReqStrs {
		return nil, flasherr.New(flasherr.InvalidArgument, "too many string fields: %d > %d", len(strs), ReqStrs)
	}
	buf := make([]byte, ReqPktSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(group))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(subid))
	off := 8
	for i := 0; i < ReqInts; i++ {
		var v int32
		if i < len(ints) {
			v = ints[i]
		}
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(v))
		off += 4
	}
	for i := 0; i < ReqStrs; i++ {
		field := buf[off : off+strLen]
		if i < len(strs) {
			s := strs[i]
			if len(s) > strLen-1 {
				return nil, flasherr.New(flasherr.InvalidArgument, "string field %d exceeds %d bytes: %q", i, strLen-1, s)
			}
			copy(field, s)
			// remainder of field is already zero (NUL-terminated, zero-padded)
		}
		off += strLen
	}
	// md5 field: left zero.
	return buf, nil
}

// Response is a decoded Thor response packet (struct res_pkt). Ack==0
// means success; any other value is a device-level error.
type Response struct {
	ID    int32
	SubID int32
	Ack   int32
	Ints  [RespInts]int32
	Strs  [RespStrs]string
}

// DecodeResponse parses a fixed RespPktSize buffer into a Response.
func DecodeResponse(buf []byte) (*Response, error) {
	if len(buf) < RespPktSize {
		return nil, flasherr.New(flasherr.InvalidArgument, "response buffer too short: %d < %d", len(buf), RespPktSize)
	}
	r := &Response{
		ID:    int32(binary.LittleEndian.Uint32(buf[0:4])),
		SubID: int32(binary.LittleEndian.Uint32(buf[4:8])),
		Ack:   int32(binary.LittleEndian.Uint32(buf[8:12])),
	}
	off := 12
	for i := 0; i < RespInts; i++ {
		r.Ints[i] = int32(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
	}
	for i := 0; i < RespStrs; i++ {
		r.Strs[i] = cStr(buf[off : off+strLen])
		off += strLen
	}
	return r, nil
}

// DataResponse is the 8-byte per-chunk acknowledgement (struct
// data_res_pkt): ack and the 1-based sequence number being
// acknowledged.
type DataResponse struct {
	Ack int32
	Cnt int32
}

// DecodeDataResponse parses a fixed DataRespPktSize buffer.
func DecodeDataResponse(buf []byte) (*DataResponse, error) {
	if len(buf) < DataRespPktSize {
		return nil, flasherr.New(flasherr.InvalidArgument, "data-response buffer too short: %d < %d", len(buf), DataRespPktSize)
	}
	return &DataResponse{
		Ack: int32(binary.LittleEndian.Uint32(buf[0:4])),
		Cnt: int32(binary.LittleEndian.Uint32(buf[4:8])),
	}, nil
}

// cStr returns the NUL-terminated string held in a fixed-size field.
func cStr(field []byte) string {
	n := 0
	for n < len(field) && field[n] != 0 {
		n++
	}
	return string(field[:n])
}
