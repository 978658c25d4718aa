package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/google/uuid"

	"github.com/Charana123/piecefetch/go-torrent/download"
	"github.com/Charana123/piecefetch/go-torrent/piece"
	"github.com/Charana123/piecefetch/go-torrent/stats"
	"github.com/Charana123/piecefetch/go-torrent/storage"
	"github.com/Charana123/piecefetch/go-torrent/torrent"
	"github.com/Charana123/piecefetch/go-torrent/tracker"
)

const (
	PEER_ID_PREFIX = "-GT0001-"
)

var ErrNoPeers = errors.New("no peer delivered the piece")

type Config struct {
	PeerID  [20]byte
	Port    uint16
	Timeout time.Duration
	// Peers tried per piece before giving up.
	MaxAttempts int
	Logger      *slog.Logger
}

func DefaultConfig() Config {
	cfg := Config{
		Port:        6881,
		Timeout:     30 * time.Second,
		MaxAttempts: 3,
	}
	copy(cfg.PeerID[:], "00112233445566778899")
	return cfg
}

// RandomPeerID returns a client prefixed peer id with a random tail.
func RandomPeerID() [20]byte {
	var peerID [20]byte
	id := uuid.New()
	copy(peerID[:], PEER_ID_PREFIX)
	copy(peerID[len(PEER_ID_PREFIX):], id[:])
	return peerID
}

type Client interface {
	Peers(ctx context.Context) (peers []tracker.PeerAddr, err error)
	FetchPiece(ctx context.Context, pieceIndex int) (piece []byte, err error)
	Download(ctx context.Context, st storage.Storage) (err error)
	Stats() stats.Stats
}

type client struct {
	mi         *torrent.MetaInfo
	tracker    tracker.Tracker
	downloader download.Downloader
	stats      stats.Stats
	cfg        Config
	log        *slog.Logger

	mu    sync.Mutex
	peers []tracker.PeerAddr
	// Peers that sent a piece failing its hash check. Never tried again.
	banned mapset.Set
	// Peers that failed for any other reason. Tried after the rest.
	failed mapset.Set
}

func NewClient(mi *torrent.MetaInfo, cfg Config) (Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tr, err := tracker.NewTracker(mi.Announce, &http.Client{Timeout: cfg.Timeout})
	if err != nil {
		return nil, err
	}
	st := stats.NewStats(0, 0, mi.Info.Length)
	dl := download.NewDownloader(mi, st, download.Config{
		PeerID:  cfg.PeerID,
		Timeout: cfg.Timeout,
		Logger:  cfg.Logger,
	})
	return newClient(mi, tr, dl, st, cfg), nil
}

func newClient(
	mi *torrent.MetaInfo,
	tr tracker.Tracker,
	dl download.Downloader,
	st stats.Stats,
	cfg Config) *client {

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &client{
		mi:         mi,
		tracker:    tr,
		downloader: dl,
		stats:      st,
		cfg:        cfg,
		log:        cfg.Logger,
		banned:     mapset.NewSet(),
		failed:     mapset.NewSet(),
	}
}

func (c *client) Stats() stats.Stats {
	return c.stats
}

// Peers announces to the tracker and remembers the returned peers.
func (c *client) Peers(ctx context.Context) ([]tracker.PeerAddr, error) {
	uploaded, downloaded, left := c.stats.GetTrackerStats()
	resp, err := c.tracker.Announce(ctx, &tracker.AnnounceRequest{
		InfoHash:   c.mi.InfoHash,
		PeerID:     c.cfg.PeerID,
		Port:       c.cfg.Port,
		Uploaded:   uploaded,
		Downloaded: downloaded,
		Left:       left,
		Compact:    true,
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("announced",
		"peers", len(resp.Peers), "interval", resp.Interval,
		"seeders", resp.Seeders, "leechers", resp.Leechers)

	c.mu.Lock()
	c.peers = resp.Peers
	c.mu.Unlock()
	return resp.Peers, nil
}

// candidates orders the known peers: untried or healthy ones in tracker
// order, then previously failed ones. Banned peers are left out. The tracker
// is asked again when no cached peer is usable.
func (c *client) candidates(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	peers := c.peers
	c.mu.Unlock()
	if addrs := c.order(peers); len(addrs) > 0 {
		return addrs, nil
	}
	peers, err := c.Peers(ctx)
	if err != nil {
		return nil, err
	}
	return c.order(peers), nil
}

func (c *client) order(peers []tracker.PeerAddr) []string {
	healthy := make([]string, 0, len(peers))
	retry := []string{}
	for _, p := range peers {
		addr := p.String()
		switch {
		case c.banned.Contains(addr):
		case c.failed.Contains(addr):
			retry = append(retry, addr)
		default:
			healthy = append(healthy, addr)
		}
	}
	return append(healthy, retry...)
}

// FetchPiece downloads and verifies one piece, trying peers one at a time
// until one succeeds or MaxAttempts peers have failed.
func (c *client) FetchPiece(ctx context.Context, pieceIndex int) ([]byte, error) {
	if _, err := c.mi.PieceSize(pieceIndex); err != nil {
		return nil, err
	}
	addrs, err := c.candidates(ctx)
	if err != nil {
		return nil, err
	}

	var lastErr error
	attempts := 0
	for _, addr := range addrs {
		if attempts == c.cfg.MaxAttempts {
			break
		}
		attempts++

		log := c.log.With("peer", addr, "piece", pieceIndex)
		log.Debug("fetching piece", "attempt", attempts)
		data, err := c.downloader.DownloadPiece(ctx, addr, pieceIndex)
		if err == nil {
			c.failed.Remove(addr)
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if errors.Is(err, piece.ErrPieceHashMismatch) {
			c.ban(addr, err)
		} else {
			log.Warn("peer failed", "err", err)
			c.failed.Add(addr)
		}
	}
	if lastErr == nil {
		return nil, fmt.Errorf("%w: piece %d, no usable peers", ErrNoPeers, pieceIndex)
	}
	return nil, fmt.Errorf("%w: piece %d after %d attempts: %w", ErrNoPeers, pieceIndex, attempts, lastErr)
}

func (c *client) ban(addr string, err error) {
	peerStat := c.stats.GetPeerStats()[addr]
	c.log.Warn("banning peer", "peer", addr, "downloaded", peerStat.Downloaded, "err", err)
	c.banned.Add(addr)
	c.stats.RemovePeer(addr)
}

// Download fetches every piece in order and writes each to st.
func (c *client) Download(ctx context.Context, st storage.Storage) error {
	numPieces := c.mi.NumPieces()
	for pieceIndex := 0; pieceIndex < numPieces; pieceIndex++ {
		data, err := c.FetchPiece(ctx, pieceIndex)
		if err != nil {
			return err
		}
		if err := st.WritePiece(pieceIndex, data); err != nil {
			return fmt.Errorf("write piece %d: %w", pieceIndex, err)
		}
		_, _, left := c.stats.GetTrackerStats()
		c.log.Info("piece stored", "piece", pieceIndex, "of", numPieces, "left", left)
	}
	return nil
}
