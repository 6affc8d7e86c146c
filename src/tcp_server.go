package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:   	Accept raw correction data over TCP.
 *
 * Description:	Anything that can open a socket, e.g. a phone sharing
 *		its cellular connection or an NTRIP client, can push SPARTN
 *		data here.  Every read is injected as one correction with
 *		the configured source.
 *
 *		Like the other network servers the number of clients is
 *		limited.  When all slots are taken, new connections wait in
 *		the kernel backlog until one is free.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const MAX_NET_CLIENTS = 3

const injectReadSize = 1024

type InjectServer struct {
	listen string
	source Source
	sink   CorrectionInjector
	log    *log.Logger

	listener net.Listener

	mu     sync.Mutex
	client [MAX_NET_CLIENTS]net.Conn
	wg     sync.WaitGroup
	closed bool
}

func NewInjectServer(listen string, source Source, sink CorrectionInjector, logger *log.Logger) *InjectServer {
	return &InjectServer{
		listen: listen,
		source: source,
		sink:   sink,
		log:    logger,
	}
}

// Start listens and serves until ctx is done or Close is called.
func (s *InjectServer) Start(ctx context.Context) error {
	var lc net.ListenConfig

	var listener, err = lc.Listen(ctx, "tcp", s.listen)
	if err != nil {
		return err
	}

	s.listener = listener

	s.log.Info("ready for correction clients", "addr", listener.Addr(), "source", s.source)

	s.wg.Add(1)

	go s.acceptLoop()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return nil
}

// Addr is the address actually listened on, after Start.
func (s *InjectServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *InjectServer) freeSlot() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := 0; c < MAX_NET_CLIENTS; c++ {
		if s.client[c] == nil {
			return c
		}
	}

	return -1
}

func (s *InjectServer) acceptLoop() {
	defer s.wg.Done()

	for {
		var slot = s.freeSlot()
		if slot < 0 {
			time.Sleep(100 * time.Millisecond) /* wait then check again if more clients allowed. */

			if s.isClosed() {
				return
			}

			continue
		}

		var conn, acceptErr = s.listener.Accept()
		if acceptErr != nil {
			if s.isClosed() || errors.Is(acceptErr, net.ErrClosed) {
				return
			}

			s.log.Warn("accept failed", "err", acceptErr)

			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()

			return
		}
		s.client[slot] = conn
		s.mu.Unlock()

		s.log.Info("attached to correction client", "client", slot, "remote", conn.RemoteAddr())

		s.wg.Add(1)

		go s.serve(slot, conn)
	}
}

func (s *InjectServer) serve(slot int, conn net.Conn) {
	defer s.wg.Done()

	defer func() {
		conn.Close()

		s.mu.Lock()
		s.client[slot] = nil
		s.mu.Unlock()

		s.log.Info("correction client detached", "client", slot)
	}()

	var buf = make([]byte, injectReadSize)

	for {
		var n, err = conn.Read(buf)
		if n > 0 {
			s.sink.Inject(buf[:n], s.source)
		}

		if err != nil {
			return
		}
	}
}

func (s *InjectServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// Close stops accepting, disconnects all clients and waits for them.
func (s *InjectServer) Close() {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return
	}

	s.closed = true

	for _, conn := range s.client {
		if conn != nil {
			conn.Close()
		}
	}

	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}

	s.wg.Wait()
}
