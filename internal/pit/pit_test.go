package pit

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddiss/lthor/internal/proto"
	"github.com/ddiss/lthor/internal/session"
	"github.com/ddiss/lthor/internal/transport/mocktransport"
)

// fakeSink is a minimal in-memory source.Sink.
type fakeSink struct {
	length int64
	data   []byte
}

func (f *fakeSink) SetLength(n int64) error {
	f.length = n
	return nil
}

func (f *fakeSink) Write(buf []byte) (int, error) {
	f.data = append(f.data, buf...)
	return len(buf), nil
}

func (f *fakeSink) Close() error { return nil }

// TestPITDumpScenario drives a full PIT dump: start-pit-dump reports
// total_len=5000, the receiver pulls it as ten 500-byte chunks, then
// performs the tail empty-read and XFER_END.
func TestPITDumpScenario(t *testing.T) {
	const total = 5000
	const unit = 500

	ep := mocktransport.New()
	ep.OnRecv = func(seq int, buf []byte) (int, error) {
		switch {
		case seq == 0:
			copy(buf, "LOKE")
			return len(buf), nil
		case seq == 1:
			// DUMP response: id=0x65, word=total_len.
			binary.LittleEndian.PutUint32(buf[0:4], proto.OdinPIT)
			binary.LittleEndian.PutUint32(buf[4:8], total)
			return 8, nil
		case seq >= 2 && seq < 12:
			// One of ten 500-byte PART payloads; content is the part
			// index repeated so the test can check ordering.
			part := seq - 2
			for i := range buf {
				buf[i] = byte(part)
			}
			return len(buf), nil
		default:
			// Tail empty-read: result is ignored by the receiver.
			return 0, nil
		}
	}

	s := session.New(ep, session.Odin, session.Options{})
	require.NoError(t, s.Handshake(context.Background()))

	sink := &fakeSink{}
	n, err := Receive(context.Background(), s, sink, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(total), n)
	assert.Equal(t, int64(total), sink.length)
	assert.Len(t, sink.data, total)

	for part := 0; part < total/unit; part++ {
		chunk := sink.data[part*unit : (part+1)*unit]
		for _, b := range chunk {
			assert.Equal(t, byte(part), b)
		}
	}

	// 1 handshake + 1 DUMP + 10 PART + 1 XFER_END = 13 sends.
	require.Len(t, ep.Sent, 13)
	assertPITRequest(t, ep.Sent[1], proto.PITDump, 0)
	for part := 0; part < 10; part++ {
		assertPITRequest(t, ep.Sent[2+part], proto.PITPart, int32(part))
	}
	assertPITRequest(t, ep.Sent[12], proto.PITXferEnd, 0)
}

func assertPITRequest(t *testing.T, buf []byte, wantSubID, wantWord int32) {
	t.Helper()
	id := int32(binary.LittleEndian.Uint32(buf[0:4]))
	subid := int32(binary.LittleEndian.Uint32(buf[4:8]))
	word := int32(binary.LittleEndian.Uint32(buf[8:12]))
	assert.Equal(t, int32(proto.OdinPIT), id)
	assert.Equal(t, wantSubID, subid)
	assert.Equal(t, wantWord, word)
}

func TestPITDumpRejectsThorSession(t *testing.T) {
	ep := mocktransport.New()
	s := session.New(ep, session.Thor, session.Options{})
	_, err := Receive(context.Background(), s, &fakeSink{}, Options{})
	require.Error(t, err)
}
