package tracker

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveUDPTracker answers one connect and one announce request. With
// failAnnounce set it answers the announce with an error action instead.
func serveUDPTracker(t *testing.T, failAnnounce bool) (string, <-chan []byte) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	announces := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 2048)
		n, addr, err := pc.ReadFrom(buf)
		if err != nil || n < 16 {
			return
		}
		connectResp := &bytes.Buffer{}
		binary.Write(connectResp, binary.BigEndian, int32(UDP_ACTION_CONNECT))
		connectResp.Write(buf[12:16])
		binary.Write(connectResp, binary.BigEndian, int64(0x1122334455667788))
		pc.WriteTo(connectResp.Bytes(), addr)

		n, addr, err = pc.ReadFrom(buf)
		if err != nil || n < 98 {
			return
		}
		req := make([]byte, n)
		copy(req, buf[:n])
		announces <- req

		announceResp := &bytes.Buffer{}
		if failAnnounce {
			binary.Write(announceResp, binary.BigEndian, int32(UDP_ACTION_ERROR))
			announceResp.Write(req[12:16])
			announceResp.WriteString("torrent not registered")
		} else {
			binary.Write(announceResp, binary.BigEndian, int32(UDP_ACTION_ANNOUNCE))
			announceResp.Write(req[12:16])
			binary.Write(announceResp, binary.BigEndian, int32(900))
			binary.Write(announceResp, binary.BigEndian, int32(2))
			binary.Write(announceResp, binary.BigEndian, int32(5))
			announceResp.Write([]byte{10, 0, 0, 1, 0x1a, 0xe1})
		}
		pc.WriteTo(announceResp.Bytes(), addr)
	}()
	return "udp://" + pc.LocalAddr().String() + "/announce", announces
}

func TestUDPTrackerAnnounce(t *testing.T) {
	announce, announces := serveUDPTracker(t, false)
	tr, err := NewTracker(announce, nil)
	require.NoError(t, err)

	req := testRequest()
	resp, err := tr.Announce(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(900), resp.Interval)
	assert.Equal(t, int64(2), resp.Leechers)
	assert.Equal(t, int64(5), resp.Seeders)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "10.0.0.1:6881", resp.Peers[0].String())

	sent := <-announces
	assert.Equal(t, uint64(0x1122334455667788), binary.BigEndian.Uint64(sent[0:8]))
	assert.Equal(t, req.InfoHash[:], sent[16:36])
	assert.Equal(t, req.PeerID[:], sent[36:56])
	assert.Equal(t, uint64(92063), binary.BigEndian.Uint64(sent[64:72]))
	assert.Equal(t, uint16(6881), binary.BigEndian.Uint16(sent[96:98]))
}

func TestUDPTrackerError(t *testing.T) {
	announce, _ := serveUDPTracker(t, true)
	tr, err := NewUDPTracker(announce)
	require.NoError(t, err)

	_, err = tr.Announce(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrTrackerFailure)
	assert.ErrorContains(t, err, "torrent not registered")
}

func TestNewTrackerScheme(t *testing.T) {
	_, err := NewTracker("http://tracker.example/announce", nil)
	assert.NoError(t, err)
	_, err = NewTracker("wss://tracker.example/announce", nil)
	assert.ErrorIs(t, err, ErrTracker)
	_, err = NewUDPTracker("http://tracker.example/announce")
	assert.ErrorIs(t, err, ErrTracker)
}
