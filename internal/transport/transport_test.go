package transport

import (
	"context"
	"testing"
	"time"

	"github.com/ddiss/lthor/internal/flasherr"
	"github.com/ddiss/lthor/internal/transport/mocktransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRecvRoundTrip(t *testing.T) {
	ep := mocktransport.New()
	ep.OnRecv = func(seq int, buf []byte) (int, error) {
		copy(buf, []byte("ROHT"))
		return len(buf), nil
	}

	require.NoError(t, Send(context.Background(), ep, []byte("THOR"), DefaultControlTimeout))
	buf := make([]byte, 4)
	n, err := Recv(context.Background(), ep, buf, DefaultControlTimeout)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "ROHT", string(buf))
	assert.Equal(t, [][]byte{[]byte("THOR")}, ep.Sent)
}

func TestRecvShortReadIsIoError(t *testing.T) {
	ep := mocktransport.New()
	ep.OnRecv = func(seq int, buf []byte) (int, error) {
		return len(buf) - 1, nil
	}
	_, err := Recv(context.Background(), ep, make([]byte, 8), DefaultControlTimeout)
	require.Error(t, err)
	assert.True(t, flasherr.Is(err, flasherr.IoError))
}

func TestAsyncTransferSendCompletes(t *testing.T) {
	ep := mocktransport.New()
	results := make(chan TransferResult, 1)
	xfer := SubmitSend(context.Background(), ep, make([]byte, 1024), DefaultControlTimeout, 0, results, nil)
	res := <-results
	xfer.Cleanup()

	assert.NoError(t, res.Err)
	assert.Equal(t, KindOut, res.Kind)
	assert.Equal(t, 0, res.ChunkIndex)
	assert.False(t, res.Cancelled)
}

func TestAsyncTransferCancel(t *testing.T) {
	ep := mocktransport.New()
	block := make(chan struct{})
	ep.OnRecv = func(seq int, buf []byte) (int, error) {
		<-block
		return 0, context.Canceled
	}
	results := make(chan TransferResult, 1)
	xfer := SubmitRecv(context.Background(), ep, make([]byte, 8), time.Minute, 1, results, nil)
	xfer.Cancel()
	close(block)
	res := <-results
	xfer.Cleanup()

	assert.Equal(t, KindIn, res.Kind)
	assert.Equal(t, 1, res.ChunkIndex)
	assert.True(t, res.Cancelled)
}
