package download

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/danwt/leech/internal/peer"
)

// DownloadFailed is returned when every dialable peer has disconnected
// or errored out while pieces remain unverified — there is nowhere
// left to get the rest of the file from.
type DownloadFailed struct {
	Remaining int
}

func (e *DownloadFailed) Error() string {
	return errors.Errorf("download: all peers exhausted with %d piece(s) still unverified", e.Remaining).Error()
}

const requeueBackoff = 50 * time.Millisecond

// Engine owns the single mutable piece of shared state — the count of
// pieces still outstanding — and serializes access to it through
// atomic operations rather than a lock, since the only operation it
// needs is "decrement and check for zero".
type Engine struct {
	InfoHash [20]byte
	ClientID [20]byte
	Out      io.WriterAt
	Log      *logrus.Entry

	// PieceLength is the nominal length of every piece except
	// possibly the last, used to compute each piece's byte offset
	// into the output file.
	PieceLength int64
}

// Run schedules pieces round-robin across addresses: every worker
// pulls the next piece off a shared queue regardless of which peer
// announced it, checking the peer's own bitfield only once it has the
// piece in hand (a peer selection heuristic such as rarest-first is
// explicitly not implemented — see DESIGN.md). A worker that loses its
// peer returns cleanly, requeuing whatever piece it was holding;
// Run only fails once the whole queue has stalled with no workers
// left alive to drain it.
func (e *Engine) Run(ctx context.Context, addresses []string, pieces []Piece, numPieces int) error {
	queue := make(chan Piece, len(pieces))
	for _, p := range pieces {
		queue <- p
	}
	remaining := int64(len(pieces))

	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range addresses {
		addr := addr
		g.Go(func() error {
			e.runWorker(gctx, addr, queue, numPieces, &remaining)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if left := atomic.LoadInt64(&remaining); left > 0 {
		return &DownloadFailed{Remaining: int(left)}
	}
	return nil
}

func (e *Engine) runWorker(ctx context.Context, addr string, queue chan Piece, numPieces int, remaining *int64) {
	log := e.Log.WithField("peer", addr)

	s, err := peer.Dial(ctx, addr, e.InfoHash, e.ClientID, log)
	if err != nil {
		log.WithError(err).Debug("dial failed")
		return
	}
	defer s.Close()

	if err := s.Negotiate(numPieces); err != nil {
		log.WithError(err).Debug("negotiation failed")
		return
	}
	if err := s.SendUnchoke(); err != nil {
		return
	}
	if err := s.SendInterested(); err != nil {
		return
	}

	for {
		if atomic.LoadInt64(remaining) <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case p, ok := <-queue:
			if !ok {
				return
			}
			if !s.HasPiece(p.Index) {
				requeue(queue, p)
				select {
				case <-time.After(requeueBackoff):
				case <-ctx.Done():
					return
				}
				continue
			}
			buf, err := DownloadPiece(s, p)
			if err != nil {
				log.WithError(err).WithField("piece", p.Index).Debug("piece download failed, requeuing")
				requeue(queue, p)
				return
			}
			if _, err := e.Out.WriteAt(buf, int64(p.Index)*e.PieceLength); err != nil {
				log.WithError(err).Error("failed to write piece to output")
				requeue(queue, p)
				return
			}
			s.SendHave(p.Index)
			if atomic.AddInt64(remaining, -1) == 0 {
				// Every piece is verified: closing the queue wakes the
				// workers still waiting on it so Run can return.
				close(queue)
			}
		}
	}
}

func requeue(queue chan Piece, p Piece) {
	select {
	case queue <- p:
	default:
	}
}
