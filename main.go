package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/afero"

	"github.com/Charana123/piecefetch/go-torrent/bencode"
	"github.com/Charana123/piecefetch/go-torrent/client"
	"github.com/Charana123/piecefetch/go-torrent/storage"
	"github.com/Charana123/piecefetch/go-torrent/torrent"
	"github.com/Charana123/piecefetch/go-torrent/wire"
)

var appFs = afero.NewOsFs()

const usage = `usage: piecefetch [flags] <command> [args]

commands:
  decode <bencoded value>
  info <torrent>
  peers <torrent>
  handshake <torrent> <ip:port>
  download_piece -o <out> <torrent> <index>
  download -o <out> <torrent>
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("piecefetch", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() { fmt.Fprint(stderr, usage) }
	level := slog.LevelWarn
	flags.TextVar(&level, "log-level", slog.LevelWarn, "log level (debug, info, warn, error)")
	randomID := flags.Bool("random-peer-id", false, "use a random peer id instead of the fixed one")
	timeout := flags.Duration("timeout", 30*time.Second, "per operation network timeout")
	attempts := flags.Int("attempts", 3, "peers tried per piece")
	if err := flags.Parse(args); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	cfg := client.DefaultConfig()
	cfg.Timeout = *timeout
	cfg.MaxAttempts = *attempts
	cfg.Logger = logger
	if *randomID {
		cfg.PeerID = client.RandomPeerID()
	}

	args = flags.Args()
	if len(args) < 2 {
		flags.Usage()
		return errors.New("not enough arguments")
	}
	command, args := args[0], args[1:]
	logger.Debug("running command", "command", command, "args", args)

	switch command {
	case "decode":
		return decode(stdout, args[0])
	case "info":
		return info(stdout, args[0])
	case "peers":
		return peers(ctx, stdout, cfg, args[0])
	case "handshake":
		if len(args) < 2 {
			return errors.New("handshake needs a torrent and a peer address")
		}
		return handshake(ctx, stdout, cfg, args[0], args[1])
	case "download_piece":
		return downloadPiece(ctx, stdout, cfg, args)
	case "download":
		return downloadFile(ctx, stdout, cfg, args)
	}
	flags.Usage()
	return fmt.Errorf("unknown command: %s", command)
}

func decode(stdout io.Writer, encoded string) error {
	v, err := bencode.Decode([]byte(encoded))
	if err != nil {
		return err
	}
	out, err := json.Marshal(jsonValue(v))
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(out))
	return nil
}

// jsonValue maps a decoded value onto types encoding/json understands. Byte
// strings are rendered as text.
func jsonValue(v bencode.Value) any {
	switch v := v.(type) {
	case bencode.String:
		return string(v)
	case bencode.Int:
		return int64(v)
	case bencode.List:
		list := make([]any, len(v))
		for i, item := range v {
			list[i] = jsonValue(item)
		}
		return list
	case bencode.Dict:
		dict := make(map[string]any, len(v))
		for _, entry := range v {
			dict[string(entry.Key)] = jsonValue(entry.Value)
		}
		return dict
	}
	return nil
}

func info(stdout io.Writer, path string) error {
	mi, err := storage.LoadTorrent(appFs, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Tracker URL: %s\n", mi.Announce)
	fmt.Fprintf(stdout, "Length: %d\n", mi.Info.Length)
	fmt.Fprintf(stdout, "Info Hash: %x\n", mi.InfoHash)
	fmt.Fprintf(stdout, "Piece Length: %d\n", mi.Info.PieceLength)
	fmt.Fprintln(stdout, "Piece Hashes:")
	for _, hash := range mi.PieceHashes() {
		fmt.Fprintln(stdout, hex.EncodeToString(hash[:]))
	}
	return nil
}

func newClient(cfg client.Config, path string) (*torrent.MetaInfo, client.Client, error) {
	mi, err := storage.LoadTorrent(appFs, path)
	if err != nil {
		return nil, nil, err
	}
	c, err := client.NewClient(mi, cfg)
	if err != nil {
		return nil, nil, err
	}
	return mi, c, nil
}

func peers(ctx context.Context, stdout io.Writer, cfg client.Config, path string) error {
	_, c, err := newClient(cfg, path)
	if err != nil {
		return err
	}
	peerAddrs, err := c.Peers(ctx)
	if err != nil {
		return err
	}
	for _, p := range peerAddrs {
		fmt.Fprintln(stdout, p.String())
	}
	return nil
}

func handshake(ctx context.Context, stdout io.Writer, cfg client.Config, path, addr string) error {
	mi, err := storage.LoadTorrent(appFs, path)
	if err != nil {
		return err
	}
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", wire.ErrNetwork, addr, err)
	}
	w := wire.NewWire(conn, cfg.Timeout)
	defer w.Close()

	remote, err := wire.Exchange(w, mi.InfoHash, cfg.PeerID)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Peer ID: %s\n", hex.EncodeToString(remote.PeerID[:]))
	return nil
}

func downloadPiece(ctx context.Context, stdout io.Writer, cfg client.Config, args []string) error {
	flags := flag.NewFlagSet("download_piece", flag.ContinueOnError)
	out := flags.String("o", "", "output path")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *out == "" || flags.NArg() != 2 {
		return errors.New("usage: download_piece -o <out> <torrent> <index>")
	}
	pieceIndex, err := strconv.Atoi(flags.Arg(1))
	if err != nil {
		return fmt.Errorf("piece index %q: %w", flags.Arg(1), err)
	}

	_, c, err := newClient(cfg, flags.Arg(0))
	if err != nil {
		return err
	}
	data, err := c.FetchPiece(ctx, pieceIndex)
	if err != nil {
		return err
	}
	if err := storage.WritePieceFile(appFs, *out, data); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Piece %d downloaded to %s.\n", pieceIndex, *out)
	return nil
}

func downloadFile(ctx context.Context, stdout io.Writer, cfg client.Config, args []string) error {
	flags := flag.NewFlagSet("download", flag.ContinueOnError)
	out := flags.String("o", "", "output path")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *out == "" || flags.NArg() != 1 {
		return errors.New("usage: download -o <out> <torrent>")
	}

	mi, c, err := newClient(cfg, flags.Arg(0))
	if err != nil {
		return err
	}
	st, err := storage.NewRandomAccessStorage(appFs, mi, *out)
	if err != nil {
		return err
	}
	if err := c.Download(ctx, st); err != nil {
		st.Close()
		return err
	}
	if err := st.Close(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Downloaded %s to %s.\n", flags.Arg(0), *out)
	return nil
}
