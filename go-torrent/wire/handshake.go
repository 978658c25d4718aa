package wire

import (
	"bytes"
	"fmt"
	"io"
)

const (
	PROTOCOL_ID      = "BitTorrent protocol"
	HANDSHAKE_LENGTH = 1 + 19 + 8 + 20 + 20
)

type Handshake struct {
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{
		InfoHash: infoHash,
		PeerID:   peerID,
	}
}

// Serialize lays out <19><"BitTorrent protocol"><reserved><info hash><peer id>.
func (h *Handshake) Serialize() []byte {
	b := make([]byte, HANDSHAKE_LENGTH)
	b[0] = byte(len(PROTOCOL_ID))
	copy(b[1:20], PROTOCOL_ID)
	copy(b[20:28], h.Reserved[:])
	copy(b[28:48], h.InfoHash[:])
	copy(b[48:68], h.PeerID[:])
	return b
}

func ReadHandshake(r io.Reader) (*Handshake, error) {
	data := make([]byte, HANDSHAKE_LENGTH)
	if n, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: handshake cut short after %d bytes", ErrConnectionClosed, n)
		}
		return nil, readError(err)
	}
	if data[0] != byte(len(PROTOCOL_ID)) || !bytes.Equal(data[1:20], []byte(PROTOCOL_ID)) {
		return nil, fmt.Errorf("%w: unknown protocol %q", ErrProtocolMismatch, data[1:20])
	}
	h := &Handshake{}
	copy(h.Reserved[:], data[20:28])
	copy(h.InfoHash[:], data[28:48])
	copy(h.PeerID[:], data[48:68])
	return h, nil
}

// Exchange sends our handshake and reads the peer's, which must echo the same
// info hash.
func Exchange(w Wire, infoHash, peerID [20]byte) (*Handshake, error) {
	if err := w.SendHandshake(NewHandshake(infoHash, peerID)); err != nil {
		return nil, err
	}
	remote, err := w.ReadHandshake()
	if err != nil {
		return nil, err
	}
	if remote.InfoHash != infoHash {
		return nil, fmt.Errorf("%w: peer answered for info hash %x", ErrProtocolMismatch, remote.InfoHash)
	}
	return remote, nil
}
