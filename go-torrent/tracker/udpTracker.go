package tracker

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"time"
)

const (
	UDP_PROTOCOL_ID     = 0x41727101980 // magic constant
	UDP_ACTION_CONNECT  = 0
	UDP_ACTION_ANNOUNCE = 1
	UDP_ACTION_ERROR    = 3
	UDP_TIMEOUT         = 15 * time.Second
)

// BEP 0015 - UDP Tracker Protocol for BitTorrent
type udpTracker struct {
	announce string
	addr     string
	key      int32
}

func NewUDPTracker(announce string) (Tracker, error) {
	u, err := url.Parse(announce)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "udp" || u.Host == "" {
		return nil, fmt.Errorf("%w: unsupported announce url %q", ErrTracker, announce)
	}
	return &udpTracker{
		announce: announce,
		addr:     u.Host,
		key:      rand.Int31(),
	}, nil
}

func (tr *udpTracker) Announce(ctx context.Context, req *AnnounceRequest) (*AnnounceResponse, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", tr.addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	deadline := time.Now().Add(UDP_TIMEOUT)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	connectionID, err := tr.connect(conn)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", tr.announce, err)
	}
	resp, err := tr.announceUDP(conn, connectionID, req)
	if err != nil {
		return nil, fmt.Errorf("announce to %s: %w", tr.announce, err)
	}
	return resp, nil
}

func (tr *udpTracker) connect(conn net.Conn) (int64, error) {
	connectRequest := &bytes.Buffer{}
	binary.Write(connectRequest, binary.BigEndian, int64(UDP_PROTOCOL_ID))
	binary.Write(connectRequest, binary.BigEndian, int32(UDP_ACTION_CONNECT))
	transactionID := rand.Int31()
	binary.Write(connectRequest, binary.BigEndian, transactionID)
	if _, err := conn.Write(connectRequest.Bytes()); err != nil {
		return 0, err
	}

	data := make([]byte, 2048)
	n, err := conn.Read(data)
	if err != nil {
		return 0, err
	}
	if err := checkUDPHeader(data[:n], UDP_ACTION_CONNECT, transactionID); err != nil {
		return 0, err
	}
	if n < 16 {
		return 0, fmt.Errorf("%w: connect response of %d bytes", ErrMalformedResponse, n)
	}
	return int64(binary.BigEndian.Uint64(data[8:16])), nil
}

func (tr *udpTracker) announceUDP(conn net.Conn, connectionID int64, req *AnnounceRequest) (*AnnounceResponse, error) {
	announceRequest := &bytes.Buffer{}
	binary.Write(announceRequest, binary.BigEndian, connectionID)
	binary.Write(announceRequest, binary.BigEndian, int32(UDP_ACTION_ANNOUNCE))
	transactionID := rand.Int31()
	binary.Write(announceRequest, binary.BigEndian, transactionID)
	binary.Write(announceRequest, binary.BigEndian, req.InfoHash)
	binary.Write(announceRequest, binary.BigEndian, req.PeerID)
	binary.Write(announceRequest, binary.BigEndian, req.Downloaded)
	binary.Write(announceRequest, binary.BigEndian, req.Left)
	binary.Write(announceRequest, binary.BigEndian, req.Uploaded)
	binary.Write(announceRequest, binary.BigEndian, int32(0)) // event: none
	binary.Write(announceRequest, binary.BigEndian, int32(0)) // default ip
	binary.Write(announceRequest, binary.BigEndian, tr.key)
	binary.Write(announceRequest, binary.BigEndian, int32(-1)) // default numwant
	binary.Write(announceRequest, binary.BigEndian, req.Port)
	if _, err := conn.Write(announceRequest.Bytes()); err != nil {
		return nil, err
	}

	data := make([]byte, 65536)
	n, err := conn.Read(data)
	if err != nil {
		return nil, err
	}
	if err := checkUDPHeader(data[:n], UDP_ACTION_ANNOUNCE, transactionID); err != nil {
		return nil, err
	}
	if n < 20 {
		return nil, fmt.Errorf("%w: announce response of %d bytes", ErrMalformedResponse, n)
	}
	resp := &AnnounceResponse{
		Interval: int64(binary.BigEndian.Uint32(data[8:12])),
		Leechers: int64(binary.BigEndian.Uint32(data[12:16])),
		Seeders:  int64(binary.BigEndian.Uint32(data[16:20])),
	}
	resp.Peers, err = ParseCompactPeers(data[20:n])
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func checkUDPHeader(data []byte, action int32, transactionID int32) error {
	if len(data) < 8 {
		return fmt.Errorf("%w: response of %d bytes", ErrMalformedResponse, len(data))
	}
	actionResp := int32(binary.BigEndian.Uint32(data[0:4]))
	transactionIDResp := int32(binary.BigEndian.Uint32(data[4:8]))
	if transactionIDResp != transactionID {
		return fmt.Errorf("%w: transaction id doesn't match", ErrMalformedResponse)
	}
	if actionResp == UDP_ACTION_ERROR {
		return fmt.Errorf("%w: %s", ErrTrackerFailure, data[8:])
	}
	if actionResp != action {
		return fmt.Errorf("%w: unexpected action %d", ErrMalformedResponse, actionResp)
	}
	return nil
}
