package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddiss/lthor/internal/flasherr"
	"github.com/ddiss/lthor/internal/proto"
	"github.com/ddiss/lthor/internal/transport/mocktransport"
)

func TestHandshakeSucceedsOnRoht(t *testing.T) {
	ep := mocktransport.New()
	ep.OnRecv = func(seq int, buf []byte) (int, error) {
		copy(buf, "ROHT")
		return len(buf), nil
	}
	s := New(ep, Thor, Options{})
	require.NoError(t, s.Handshake(context.Background()))
	assert.Equal(t, StateHandshaked, s.State())
	assert.Equal(t, "THOR", string(ep.Sent[0]))
}

func TestHandshakeFailsOnMismatch(t *testing.T) {
	ep := mocktransport.New()
	ep.OnRecv = func(seq int, buf []byte) (int, error) {
		copy(buf, "NOPE")
		return len(buf), nil
	}
	s := New(ep, Thor, Options{})
	err := s.Handshake(context.Background())
	require.Error(t, err)
	assert.True(t, flasherr.Is(err, flasherr.InvalidArgument))
	assert.Equal(t, StateOpened, s.State())
}

// TestEmptySessionScenario drives a session with no files at all:
// handshake, start session with 0 bytes, end session, reboot.
func TestEmptySessionScenario(t *testing.T) {
	ep := mocktransport.New()
	ep.OnRecv = func(seq int, buf []byte) (int, error) {
		if seq == 0 {
			copy(buf, "ROHT")
			return len(buf), nil
		}
		out := make([]byte, proto.RespPktSize) // ack (offset 8) left zero: success
		return copy(buf, out), nil
	}
	s := New(ep, Thor, Options{})
	require.NoError(t, s.Handshake(context.Background()))
	require.NoError(t, s.StartSession(context.Background(), 0))
	require.NoError(t, s.EndSession(context.Background()))
	require.NoError(t, s.Reboot(context.Background()))

	require.Len(t, ep.Sent, 4)
	assert.Equal(t, "THOR", string(ep.Sent[0]))
	assertFirstTwoInts(t, ep.Sent[1], proto.GroupDL, proto.DLInit)
	assertFirstTwoInts(t, ep.Sent[2], proto.GroupDL, proto.DLExit)
	assertFirstTwoInts(t, ep.Sent[3], proto.GroupCmd, proto.CmdReboot)
}

func assertFirstTwoInts(t *testing.T, buf []byte, wantGroup, wantSub int32) {
	t.Helper()
	req := struct {
		ID, SubID int32
	}{}
	req.ID = int32(buf[0]) | int32(buf[1])<<8 | int32(buf[2])<<16 | int32(buf[3])<<24
	req.SubID = int32(buf[4]) | int32(buf[5])<<8 | int32(buf[6])<<16 | int32(buf[7])<<24
	assert.Equal(t, wantGroup, req.ID)
	assert.Equal(t, wantSub, req.SubID)
}

func TestOdinStartSession(t *testing.T) {
	ep := mocktransport.New()
	ep.OnRecv = func(seq int, buf []byte) (int, error) {
		if seq == 0 {
			copy(buf, "LOKE")
			return len(buf), nil
		}
		// DL_INIT response: id=0x64, xfer_size=131072
		copy(buf, []byte{0x64, 0, 0, 0, 0x00, 0x00, 0x02, 0x00})
		return 8, nil
	}
	s := New(ep, Odin, Options{})
	require.NoError(t, s.Handshake(context.Background()))
	require.NoError(t, s.StartSession(context.Background(), 0))
	assert.Equal(t, 131072, s.Unit())
	assert.Equal(t, StateInSession, s.State())
}
