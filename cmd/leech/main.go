// Command leech is a minimal BitTorrent client exposing one subcommand
// per stage of the download pipeline: decode a bencoded value, inspect
// a torrent file, discover peers, perform a handshake, fetch a single
// piece, or download the whole file.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/danwt/leech/internal/bencode"
	"github.com/danwt/leech/internal/download"
	"github.com/danwt/leech/internal/metainfo"
	"github.com/danwt/leech/internal/peer"
	"github.com/danwt/leech/internal/tracker"
)

const listenPort = 6881

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [arguments]

Commands:
  decode <bencoded-text>
  info <torrent-file>
  peers <torrent-file>
  handshake <torrent-file> <ip:port>
  download_piece -o <out> <torrent-file> <index>
  download -o <out> <torrent-file>
  magnet_parse <magnet-uri>
`, os.Args[0])
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "decode":
		err = cmdDecode(os.Args[2:])
	case "info":
		err = cmdInfo(os.Args[2:])
	case "peers":
		err = cmdPeers(os.Args[2:])
	case "handshake":
		err = cmdHandshake(os.Args[2:])
	case "download_piece":
		err = cmdDownloadPiece(os.Args[2:])
	case "download":
		err = cmdDownload(os.Args[2:])
	case "magnet_parse":
		err = cmdMagnetParse(os.Args[2:])
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return logrus.NewEntry(log)
}

func cmdDecode(args []string) error {
	if len(args) != 1 {
		usage()
	}
	v, err := bencode.DecodeBytes([]byte(args[0]))
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	fmt.Println(renderValue(v))
	return nil
}

// renderValue prints a Value as a JSON-like text representation.
// Byte strings are quoted with strconv.Quote, so bytes that are not
// printable UTF-8 appear as \x escapes and the output stays
// unambiguous for binary fields like "pieces".
func renderValue(v *bencode.Value) string {
	switch {
	case v.IsInteger():
		return strconv.FormatInt(v.Int, 10)
	case v.IsString():
		return strconv.Quote(string(v.Str))
	case v.IsList():
		out := "["
		for i, item := range v.List {
			if i > 0 {
				out += ","
			}
			out += renderValue(item)
		}
		return out + "]"
	case v.IsDict():
		out := "{"
		for i, kv := range v.Dict {
			if i > 0 {
				out += ","
			}
			out += strconv.Quote(string(kv.Key)) + ":" + renderValue(kv.Value)
		}
		return out + "}"
	default:
		return "null"
	}
}

func loadTorrent(path string) (*metainfo.Torrent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read torrent file: %w", err)
	}
	return metainfo.ParseTorrentFile(raw)
}

func cmdInfo(args []string) error {
	if len(args) != 1 {
		usage()
	}
	t, err := loadTorrent(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Tracker URL: %s\n", t.Announce[0])
	fmt.Printf("Length: %d\n", t.Info.Length)
	fmt.Printf("Info Hash: %s\n", hex.EncodeToString(t.InfoHash[:]))
	fmt.Printf("Piece Length: %d\n", t.Info.PieceLength)
	fmt.Println("Piece Hashes:")
	for _, h := range t.Info.Pieces {
		fmt.Println(hex.EncodeToString(h[:]))
	}
	return nil
}

func discoverPeers(ctx context.Context, t *metainfo.Torrent, clientID [20]byte) ([]tracker.Peer, error) {
	var lastErr error
	for _, announce := range t.Announce {
		resp, err := tracker.Announce(ctx, announce, t.InfoHash, clientID, listenPort, t.Info.Length)
		if err != nil {
			lastErr = err
			continue
		}
		return resp.Peers, nil
	}
	return nil, fmt.Errorf("announce to all trackers failed: %w", lastErr)
}

func cmdPeers(args []string) error {
	if len(args) != 1 {
		usage()
	}
	t, err := loadTorrent(args[0])
	if err != nil {
		return err
	}
	clientID := peer.NewClientID()
	peers, err := discoverPeers(context.Background(), t, clientID)
	if err != nil {
		return err
	}
	for _, p := range peers {
		fmt.Println(p.Addr())
	}
	return nil
}

func cmdHandshake(args []string) error {
	if len(args) != 2 {
		usage()
	}
	t, err := loadTorrent(args[0])
	if err != nil {
		return err
	}
	clientID := peer.NewClientID()
	s, err := peer.Dial(context.Background(), args[1], t.InfoHash, clientID, newLogger())
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	defer s.Close()
	fmt.Printf("Peer ID: %s\n", hex.EncodeToString(s.PeerID[:]))
	return nil
}

func cmdDownloadPiece(args []string) error {
	fs := flag.NewFlagSet("download_piece", flag.ExitOnError)
	out := fs.String("o", "", "output file path")
	fs.Parse(args)
	rest := fs.Args()
	if *out == "" || len(rest) != 2 {
		usage()
	}
	torrentPath := rest[0]
	index, err := strconv.Atoi(rest[1])
	if err != nil {
		return fmt.Errorf("invalid piece index %q: %w", rest[1], err)
	}

	t, err := loadTorrent(torrentPath)
	if err != nil {
		return err
	}
	if index < 0 || index >= t.Info.NumPieces() {
		return fmt.Errorf("piece index %d out of range (0..%d)", index, t.Info.NumPieces()-1)
	}

	ctx := context.Background()
	clientID := peer.NewClientID()
	peers, err := discoverPeers(ctx, t, clientID)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		return fmt.Errorf("no peers discovered")
	}

	s, err := peer.Dial(ctx, peers[0].Addr(), t.InfoHash, clientID, newLogger())
	if err != nil {
		return fmt.Errorf("dial %s: %w", peers[0].Addr(), err)
	}
	defer s.Close()
	if err := s.Negotiate(t.Info.NumPieces()); err != nil {
		return fmt.Errorf("negotiate: %w", err)
	}
	if err := s.SendUnchoke(); err != nil {
		return err
	}
	if err := s.SendInterested(); err != nil {
		return err
	}

	buf, err := download.DownloadPiece(s, download.Piece{
		Index:  index,
		Hash:   t.Info.Pieces[index],
		Length: int(t.Info.PieceLen(index)),
	})
	if err != nil {
		return fmt.Errorf("download piece %d: %w", index, err)
	}
	if err := os.WriteFile(*out, buf, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Printf("Piece %d downloaded to %s.\n", index, *out)
	return nil
}

func cmdDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	out := fs.String("o", "", "output file path")
	fs.Parse(args)
	rest := fs.Args()
	if *out == "" || len(rest) != 1 {
		usage()
	}

	t, err := loadTorrent(rest[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	clientID := peer.NewClientID()
	trackerPeers, err := discoverPeers(ctx, t, clientID)
	if err != nil {
		return err
	}
	if len(trackerPeers) == 0 {
		return fmt.Errorf("no peers discovered")
	}
	addresses := make([]string, len(trackerPeers))
	for i, p := range trackerPeers {
		addresses[i] = p.Addr()
	}

	f, err := os.OpenFile(*out, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer f.Close()
	if err := f.Truncate(t.Info.Length); err != nil {
		return fmt.Errorf("allocate output: %w", err)
	}

	pieces := make([]download.Piece, t.Info.NumPieces())
	for i := range pieces {
		pieces[i] = download.Piece{
			Index:  i,
			Hash:   t.Info.Pieces[i],
			Length: int(t.Info.PieceLen(i)),
		}
	}

	e := &download.Engine{
		InfoHash:    t.InfoHash,
		ClientID:    clientID,
		Out:         f,
		Log:         newLogger(),
		PieceLength: t.Info.PieceLength,
	}
	if err := e.Run(ctx, addresses, pieces, t.Info.NumPieces()); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	fmt.Printf("Downloaded %s to %s.\n", t.Info.Name, *out)
	return nil
}

func cmdMagnetParse(args []string) error {
	if len(args) != 1 {
		usage()
	}
	m, err := metainfo.ParseMagnet(args[0])
	if err != nil {
		return err
	}
	if len(m.Trackers) > 0 {
		fmt.Printf("Tracker URL: %s\n", m.Trackers[0])
	}
	fmt.Printf("Info Hash: %s\n", m.InfoHashHex())
	return nil
}
