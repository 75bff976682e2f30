package dispatch

import (
	"context"
	"errors"
	"net"

	"github.com/mademast/sail/framework/log"
	"github.com/mademast/sail/internal/metrics"
	"github.com/mademast/sail/internal/server"
	"github.com/mademast/sail/internal/smtp"
	"golang.org/x/sync/errgroup"
)

// readBufferSize bounds one read off a session connection; the FSMs
// buffer internally across reads, so a short read just takes another
// lap rather than losing data.
const readBufferSize = 1024

// Server is the listener half of a running instance: it accepts
// connections and hands each one a fresh server.Session backed by the
// Dispatcher acting as policy.Policy.
type Server struct {
	Dispatcher *Dispatcher
	Logger     log.Logger
}

// Serve runs the accept loop against ln until ctx is cancelled. The
// listener and the shutdown watcher are two independent long-running
// tasks coordinated with errgroup: cancelling ctx closes ln, which
// unblocks Accept with net.ErrClosed, treated here as a clean exit.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.acceptLoop(ctx, ln)
	})
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// handleConn owns one inbound session end to end: write the greeting,
// then alternate reading command bytes and writing whatever responses
// they produce until QUIT is answered or the peer closes the
// connection (a zero-length read).
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	metrics.SessionsTotal.Inc()

	sess, greeting := server.NewSession(s.Dispatcher)
	if err := writeResponse(conn, greeting); err != nil {
		return
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, resp := range sess.Push(buf[:n]) {
				if werr := writeResponse(conn, resp); werr != nil {
					return
				}
			}
		}
		if err != nil || sess.ShouldExit() {
			return
		}
	}
}

func writeResponse(conn net.Conn, resp smtp.Response) error {
	_, err := conn.Write([]byte(resp.String()))
	return err
}
