package wire

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	infoHash = [20]byte{0xd6, 0x9f, 0x91, 0xe6, 0xb2, 0xae, 0x4c, 0x54, 0x24, 0x68,
		0xd1, 0x07, 0x3a, 0x71, 0xd4, 0xea, 0x13, 0x87, 0x9a, 0x7f}
	clientID = [20]byte{'0', '0', '1', '1', '2', '2', '3', '3', '4', '4',
		'5', '5', '6', '6', '7', '7', '8', '8', '9', '9'}
	remoteID = [20]byte{'-', 'R', 'M', '0', '0', '0', '1', '-'}
)

func TestHandshakeSerialize(t *testing.T) {
	b := NewHandshake(infoHash, clientID).Serialize()
	require.Len(t, b, 68)
	assert.Equal(t, byte(19), b[0])
	assert.Equal(t, "BitTorrent protocol", string(b[1:20]))
	assert.Equal(t, make([]byte, 8), b[20:28])
	assert.Equal(t, infoHash[:], b[28:48])
	assert.Equal(t, clientID[:], b[48:68])

	h, err := ReadHandshake(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, infoHash, h.InfoHash)
	assert.Equal(t, clientID, h.PeerID)
}

func TestReadHandshakeErrors(t *testing.T) {
	b := NewHandshake(infoHash, clientID).Serialize()

	_, err := ReadHandshake(bytes.NewReader(b[:67]))
	assert.ErrorIs(t, err, ErrConnectionClosed)
	_, err = ReadHandshake(bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrConnectionClosed)

	bad := append([]byte{}, b...)
	copy(bad[1:20], "BitTorrent protocoI")
	_, err = ReadHandshake(bytes.NewReader(bad))
	assert.ErrorIs(t, err, ErrProtocolMismatch)

	bad = append([]byte{}, b...)
	bad[0] = 18
	_, err = ReadHandshake(bytes.NewReader(bad))
	assert.ErrorIs(t, err, ErrProtocolMismatch)
}

// fakePeer reads the client handshake and answers with the given reply.
func fakePeer(t *testing.T, conn net.Conn, reply []byte) <-chan []byte {
	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, HANDSHAKE_LENGTH)
		if _, err := conn.Read(buf); err != nil {
			close(received)
			return
		}
		received <- buf
		conn.Write(reply)
	}()
	return received
}

func TestExchange(t *testing.T) {
	client, peer := net.Pipe()
	defer client.Close()
	defer peer.Close()

	received := fakePeer(t, peer, NewHandshake(infoHash, remoteID).Serialize())
	w := NewWire(client, time.Second)
	remote, err := Exchange(w, infoHash, clientID)
	require.NoError(t, err)
	assert.Equal(t, remoteID, remote.PeerID)
	assert.Equal(t, NewHandshake(infoHash, clientID).Serialize(), <-received)
}

func TestExchangeInfoHashMismatch(t *testing.T) {
	client, peer := net.Pipe()
	defer client.Close()
	defer peer.Close()

	otherHash := infoHash
	otherHash[0] ^= 0xff
	fakePeer(t, peer, NewHandshake(otherHash, remoteID).Serialize())
	_, err := Exchange(NewWire(client, time.Second), infoHash, clientID)
	assert.ErrorIs(t, err, ErrProtocolMismatch)
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestMessageSerialize(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0}, (*Message)(nil).Serialize())
	assert.Equal(t, []byte{0, 0, 0, 1, 2}, NewInterested().Serialize())
	assert.Equal(t, []byte{0, 0, 0, 5, 4, 0, 0, 0, 7}, NewHave(7).Serialize())
	assert.Equal(t, []byte{
		0, 0, 0, 13, 6,
		0, 0, 0, 1,
		0, 0, 0x40, 0,
		0, 0, 0x40, 0,
	}, NewRequest(1, 16384, 16384).Serialize())
	assert.Equal(t, []byte{0, 0, 0, 3, 5, 0xff, 0x80}, NewBitField([]byte{0xff, 0x80}).Serialize())
	assert.Equal(t, byte(CANCEL), NewCancel(1, 2, 3).Serialize()[4])
}

func TestReadMessage(t *testing.T) {
	stream := &bytes.Buffer{}
	stream.Write((*Message)(nil).Serialize())
	stream.Write(NewUnchoke().Serialize())
	stream.Write(NewPiece(3, 32768, []byte("block")).Serialize())
	stream.Write(NewRequest(3, 0, 16384).Serialize())

	m, err := ReadMessage(stream)
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = ReadMessage(stream)
	require.NoError(t, err)
	assert.Equal(t, UNCHOKE, m.ID)
	assert.Empty(t, m.Payload)

	m, err = ReadMessage(stream)
	require.NoError(t, err)
	index, begin, block, err := m.ParsePiece()
	require.NoError(t, err)
	assert.Equal(t, 3, index)
	assert.Equal(t, 32768, begin)
	assert.Equal(t, []byte("block"), block)

	m, err = ReadMessage(stream)
	require.NoError(t, err)
	index, begin, length, err := m.ParseRequest()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 0, 16384}, []int{index, begin, length})

	_, err = ReadMessage(stream)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestReadMessageErrors(t *testing.T) {
	frame := NewPiece(0, 0, make([]byte, 100)).Serialize()
	_, err := ReadMessage(bytes.NewReader(frame[:50]))
	assert.ErrorIs(t, err, ErrTruncatedFrame)

	_, err = ReadMessage(bytes.NewReader([]byte{0, 0}))
	assert.ErrorIs(t, err, ErrTruncatedFrame)

	_, err = ReadMessage(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 7}))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestParseErrors(t *testing.T) {
	_, err := (&Message{ID: HAVE, Payload: []byte{1, 2}}).ParseHave()
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, _, _, err = (&Message{ID: PIECE, Payload: []byte{1, 2, 3}}).ParsePiece()
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, _, _, err = NewHave(1).ParsePiece()
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, _, _, err = (*Message)(nil).ParseRequest()
	assert.ErrorIs(t, err, ErrMalformedPayload)

	index, begin, length, err := NewCancel(4, 5, 6).ParseRequest()
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5, 6}, []int{index, begin, length})

	have, err := NewHave(9).ParseHave()
	require.NoError(t, err)
	assert.Equal(t, 9, have)
}

func TestWireTimeout(t *testing.T) {
	client, peer := net.Pipe()
	defer client.Close()
	defer peer.Close()

	w := NewWire(client, 20*time.Millisecond)
	_, err := w.ReadMessage()
	assert.ErrorIs(t, err, ErrPeerUnresponsive)
}

func TestWireSendAndClose(t *testing.T) {
	client, peer := net.Pipe()
	defer peer.Close()

	w := NewWire(client, time.Second)
	go w.SendRequest(0, 16384, 16384)
	m, err := ReadMessage(peer)
	require.NoError(t, err)
	assert.Equal(t, REQUEST, m.ID)
	assert.False(t, w.GetLastMessageSent().IsZero())

	require.NoError(t, w.Close())
	_, err = w.ReadMessage()
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.ErrorIs(t, w.SendInterested(), ErrConnectionClosed)
}

func TestWireSendOverPipe(t *testing.T) {
	client, peer := net.Pipe()
	defer client.Close()
	defer peer.Close()

	w := NewWire(client, time.Second)
	sent := make(chan error, 1)
	go func() {
		for _, send := range []func() error{
			func() error { return w.SendHave(42) },
			func() error { return w.SendBitField([]byte{0xa0, 0x01}) },
			func() error { return w.SendCancel(3, 16384, 100) },
			w.SendNotInterested,
			w.SendKeepAlive,
		} {
			if err := send(); err != nil {
				sent <- err
				return
			}
		}
		sent <- nil
	}()

	m, err := ReadMessage(peer)
	require.NoError(t, err)
	have, err := m.ParseHave()
	require.NoError(t, err)
	assert.Equal(t, 42, have)

	m, err = ReadMessage(peer)
	require.NoError(t, err)
	assert.Equal(t, BITFIELD, m.ID)
	assert.Equal(t, []byte{0xa0, 0x01}, m.Payload)

	m, err = ReadMessage(peer)
	require.NoError(t, err)
	assert.Equal(t, CANCEL, m.ID)
	index, begin, length, err := m.ParseRequest()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 16384, 100}, []int{index, begin, length})

	m, err = ReadMessage(peer)
	require.NoError(t, err)
	assert.Equal(t, NOT_INTERESTED, m.ID)

	m, err = ReadMessage(peer)
	require.NoError(t, err)
	assert.Nil(t, m)

	require.NoError(t, <-sent)
}

// deadlineConn fails every deadline update.
type deadlineConn struct {
	net.Conn
}

func (c deadlineConn) SetReadDeadline(time.Time) error  { return net.ErrClosed }
func (c deadlineConn) SetWriteDeadline(time.Time) error { return net.ErrClosed }

func TestWireDeadlineErrors(t *testing.T) {
	client, peer := net.Pipe()
	defer client.Close()
	defer peer.Close()

	go peer.Write(NewUnchoke().Serialize())
	go ReadMessage(peer)

	w := NewWire(deadlineConn{client}, time.Second)
	_, err := w.ReadMessage()
	assert.ErrorIs(t, err, ErrConnectionClosed)
	_, err = w.ReadHandshake()
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.ErrorIs(t, w.SendInterested(), ErrConnectionClosed)

	// Without a timeout no deadline is set and the frame is read.
	m, err := NewWire(deadlineConn{client}, 0).ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, UNCHOKE, m.ID)
}
