package tracker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/Charana123/piecefetch/go-torrent/bencode"
)

const (
	COMPACT_PEER_LENGTH = 6
)

var (
	ErrTracker           = errors.New("tracker")
	ErrTrackerFailure    = fmt.Errorf("%w: announce failed", ErrTracker)
	ErrMalformedResponse = fmt.Errorf("%w: malformed announce response", ErrTracker)
	ErrTruncatedPeerList = fmt.Errorf("%w: compact peer list is not a multiple of 6 bytes", ErrTracker)
)

type Tracker interface {
	Announce(ctx context.Context, req *AnnounceRequest) (*AnnounceResponse, error)
}

type AnnounceRequest struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	Compact    bool
}

type AnnounceResponse struct {
	Interval int64 // seconds
	Seeders  int64
	Leechers int64
	Peers    []PeerAddr
}

type PeerAddr struct {
	IP   net.IP
	Port uint16
}

func (p PeerAddr) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// BuildAnnounceRequest returns the announce query string. The binary fields are
// percent-encoded byte by byte rather than as text.
func BuildAnnounceRequest(req *AnnounceRequest) string {
	compact := "0"
	if req.Compact {
		compact = "1"
	}
	q := &strings.Builder{}
	q.WriteString("info_hash=" + percentEncode(req.InfoHash[:]))
	q.WriteString("&peer_id=" + percentEncode(req.PeerID[:]))
	q.WriteString("&port=" + strconv.Itoa(int(req.Port)))
	q.WriteString("&uploaded=" + strconv.FormatInt(req.Uploaded, 10))
	q.WriteString("&downloaded=" + strconv.FormatInt(req.Downloaded, 10))
	q.WriteString("&left=" + strconv.FormatInt(req.Left, 10))
	q.WriteString("&compact=" + compact)
	return q.String()
}

// AnnounceURL appends the announce query to the tracker URL, keeping any query
// the URL already carries.
func AnnounceURL(announce string, req *AnnounceRequest) (string, error) {
	if !strings.HasPrefix(announce, "http://") && !strings.HasPrefix(announce, "https://") {
		return "", fmt.Errorf("%w: unsupported announce url %q", ErrTracker, announce)
	}
	sep := "?"
	if strings.Contains(announce, "?") {
		sep = "&"
	}
	return announce + sep + BuildAnnounceRequest(req), nil
}

func percentEncode(b []byte) string {
	const hex = "0123456789ABCDEF"
	s := make([]byte, 0, len(b)*3)
	for _, c := range b {
		s = append(s, '%', hex[c>>4], hex[c&0x0f])
	}
	return string(s)
}

func ParseAnnounceResponse(data []byte) (*AnnounceResponse, error) {
	v, err := bencode.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode announce response: %w", err)
	}
	d, ok := v.(bencode.Dict)
	if !ok {
		return nil, fmt.Errorf("%w: response is not a dictionary", ErrMalformedResponse)
	}
	if reason, ok := d.Get("failure reason"); ok {
		if s, ok := reason.(bencode.String); ok {
			return nil, fmt.Errorf("%w: %s", ErrTrackerFailure, s)
		}
		return nil, ErrTrackerFailure
	}

	resp := &AnnounceResponse{}
	interval, ok := d.Get("interval")
	if !ok {
		return nil, fmt.Errorf("%w: missing interval", ErrMalformedResponse)
	}
	i, ok := interval.(bencode.Int)
	if !ok {
		return nil, fmt.Errorf("%w: interval must be an integer", ErrMalformedResponse)
	}
	resp.Interval = int64(i)
	if complete, ok := d.Get("complete"); ok {
		if n, ok := complete.(bencode.Int); ok {
			resp.Seeders = int64(n)
		}
	}
	if incomplete, ok := d.Get("incomplete"); ok {
		if n, ok := incomplete.(bencode.Int); ok {
			resp.Leechers = int64(n)
		}
	}

	peers, ok := d.Get("peers")
	if !ok {
		return nil, fmt.Errorf("%w: missing peers", ErrMalformedResponse)
	}
	compact, ok := peers.(bencode.String)
	if !ok {
		return nil, fmt.Errorf("%w: peers must be a compact string", ErrMalformedResponse)
	}
	resp.Peers, err = ParseCompactPeers(compact)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ParseCompactPeers splits 6-byte records of IPv4 address and big-endian port.
func ParseCompactPeers(peerAddrs []byte) ([]PeerAddr, error) {
	if len(peerAddrs)%COMPACT_PEER_LENGTH != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncatedPeerList, len(peerAddrs))
	}
	peers := make([]PeerAddr, 0, len(peerAddrs)/COMPACT_PEER_LENGTH)
	for i := 0; i < len(peerAddrs); i += COMPACT_PEER_LENGTH {
		ip := net.IPv4(peerAddrs[i+0], peerAddrs[i+1], peerAddrs[i+2], peerAddrs[i+3])
		port := binary.BigEndian.Uint16(peerAddrs[i+4 : i+6])
		peers = append(peers, PeerAddr{IP: ip, Port: port})
	}
	return peers, nil
}
