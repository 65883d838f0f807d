// Package smtpsrv implements a demo SMTP/LMTP session handler on top of
// smtpproto: it accepts connections, runs the protocol loop, and dispatches
// each parsed command to a handler method. It does not queue or deliver
// mail; see the Conn documentation for what each command handler actually
// does in this demo.
package smtpsrv

import (
	"crypto/tls"
	"net"
	"time"

	"blitiri.com.ar/go/smtpproto/internal/maillog"
	"blitiri.com.ar/go/log"
)

// Server represents an SMTP server instance.
type Server struct {
	// Main hostname, used for display and in the EHLO banner.
	Hostname string

	// Maximum data size, in bytes.
	MaxDataSize int64

	// How many malformed/rejected commands a session tolerates before the
	// connection is dropped.
	MaxCommandErrors int

	// Addresses to listen on, by socket mode.
	addrs map[SocketMode][]string

	// Listeners obtained via systemd socket activation, by socket mode.
	listeners map[SocketMode][]net.Listener

	// TLS config (including loaded certificates), used for STARTTLS and
	// TLS-wrapped listeners.
	tlsConfig *tls.Config

	// Time before we give up on a connection, even if it's sending data.
	connTimeout time.Duration

	// Time we wait for command round-trips (excluding DATA).
	commandTimeout time.Duration
}

// NewServer returns a new empty Server.
func NewServer() *Server {
	return &Server{
		addrs:     map[SocketMode][]string{},
		listeners: map[SocketMode][]net.Listener{},

		tlsConfig: &tls.Config{
			SessionTicketsDisabled: true,
		},

		MaxCommandErrors: 3,
		connTimeout:      20 * time.Minute,
		commandTimeout:   1 * time.Minute,
	}
}

// SetCommandTimeout overrides the default command round-trip timeout.
func (s *Server) SetCommandTimeout(d time.Duration) {
	s.commandTimeout = d
}

// AddCerts (TLS) to the server.
func (s *Server) AddCerts(certPath, keyPath string) error {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return err
	}
	s.tlsConfig.Certificates = append(s.tlsConfig.Certificates, cert)
	return nil
}

// AddAddr adds an address for the server to listen on.
func (s *Server) AddAddr(a string, m SocketMode) {
	s.addrs[m] = append(s.addrs[m], a)
}

// AddListeners adds listeners for the server to listen on.
func (s *Server) AddListeners(ls []net.Listener, m SocketMode) {
	s.listeners[m] = append(s.listeners[m], ls...)
}

// ListenAndServe on the addresses and listeners that were previously added.
// This function will not return.
func (s *Server) ListenAndServe() {
	for m, addrs := range s.addrs {
		for _, addr := range addrs {
			l, err := net.Listen("tcp", addr)
			if err != nil {
				log.Fatalf("Error listening: %v", err)
			}

			log.Infof("Server listening on %s (%v)", addr, m)
			maillog.Listening(addr)
			go s.serve(l, m)
		}
	}

	for m, ls := range s.listeners {
		for _, l := range ls {
			log.Infof("Server listening on %s (%v, via systemd)", l.Addr(), m)
			maillog.Listening(l.Addr().String())
			go s.serve(l, m)
		}
	}

	// Never return. If the serve goroutines have problems, they will abort
	// execution.
	for {
		time.Sleep(24 * time.Hour)
	}
}

func (s *Server) serve(l net.Listener, mode SocketMode) {
	if mode.TLS {
		l = tls.NewListener(l, s.tlsConfig)
	}

	for {
		conn, err := l.Accept()
		if err != nil {
			log.Fatalf("Error accepting: %v", err)
		}

		sc := &Conn{
			hostname:         s.Hostname,
			maxDataSize:      s.MaxDataSize,
			maxCommandErrors: s.MaxCommandErrors,
			conn:             conn,
			mode:             mode,
			tlsConfig:        s.tlsConfig,
			onTLS:            mode.TLS,
			deadline:         time.Now().Add(s.connTimeout),
			commandTimeout:   s.commandTimeout,
		}
		go sc.Handle()
	}
}
