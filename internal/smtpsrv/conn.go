package smtpsrv

import (
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"bufio"

	"blitiri.com.ar/go/smtpproto/internal/expvarom"
	"blitiri.com.ar/go/smtpproto/internal/maillog"
	"blitiri.com.ar/go/smtpproto/internal/normalize"
	"blitiri.com.ar/go/smtpproto/internal/tlsconst"
	"blitiri.com.ar/go/smtpproto/internal/trace"
	"blitiri.com.ar/go/smtpproto/smtpproto"
)

// Exported variables.
var (
	commandCount = expvarom.NewMap("chasquid/smtpIn/commandCount",
		"command", "count of SMTP commands received, by command")
	responseCodeCount = expvarom.NewMap("chasquid/smtpIn/responseCodeCount",
		"code", "response codes returned to SMTP commands")
	tlsCount = expvarom.NewMap("chasquid/smtpIn/tlsCount",
		"status", "count of TLS usage in incoming connections")
	wrongProtoCount = expvarom.NewMap("chasquid/smtpIn/wrongProtoCount",
		"command", "count of commands for other protocols")
	parseErrorCount = expvarom.NewMap("chasquid/smtpIn/parseErrorCount",
		"error", "count of request-line parse errors, by error type")
)

// SocketMode represents the mode for a socket (listening or connection).
// We keep them distinct, as policies can differ between them.
type SocketMode struct {
	// Is this mode submission?
	IsSubmission bool

	// Is this mode TLS-wrapped? That means that we don't use STARTTLS, the
	// connection is directly established over TLS (like HTTPS).
	TLS bool
}

func (mode SocketMode) String() string {
	s := "SMTP"
	if mode.IsSubmission {
		s = "submission"
	}
	if mode.TLS {
		s += "+TLS"
	}
	return s
}

// Valid socket modes.
var (
	ModeSMTP          = SocketMode{IsSubmission: false, TLS: false}
	ModeSubmission    = SocketMode{IsSubmission: true, TLS: false}
	ModeSubmissionTLS = SocketMode{IsSubmission: true, TLS: true}
)

// Conn represents an incoming SMTP connection. Unlike a full MTA, this
// handler never queues or delivers mail: MAIL/RCPT are checked for
// well-formedness and policy (submission requires auth, recipients must
// parse), and DATA/BDAT are accepted, unstuffed/reassembled and reported,
// but nothing is written anywhere past the connection's lifetime.
type Conn struct {
	hostname         string
	maxDataSize      int64
	maxCommandErrors int

	conn         net.Conn
	mode         SocketMode
	tlsConnState *tls.ConnectionState
	remoteAddr   net.Addr

	reader *bufio.Reader
	writer *bufio.Writer

	tr *trace.Trace

	tlsConfig *tls.Config

	ehloDomain string
	isESMTP    bool
	onTLS      bool

	mailFrom *smtpproto.MailFrom
	rcptTo   []smtpproto.RcptTo
	data     []byte

	completedAuth bool
	authUser      string
	authDomain    string

	deadline       time.Time
	commandTimeout time.Duration

	rr *smtpproto.RequestReceiver

	// parseErr is the error behind the synthetic command last returned by
	// parseErrorCommand; nil once it has been reported.
	parseErr error
}

// Close the connection.
func (c *Conn) Close() {
	c.conn.Close()
}

// Handle implements the main protocol loop (reading commands, sending
// replies).
func (c *Conn) Handle() {
	defer c.Close()

	c.tr = trace.New("SMTP.Conn", c.conn.RemoteAddr().String())
	defer c.tr.Finish()
	c.tr.Debugf("Connected, mode: %s", c.mode)

	c.conn.SetDeadline(time.Now().Add(c.commandTimeout))

	if tc, ok := c.conn.(*tls.Conn); ok {
		if err := tc.Handshake(); err != nil {
			c.tr.Errorf("error completing TLS handshake: %v", err)
			return
		}

		cstate := tc.ConnectionState()
		c.tlsConnState = &cstate
		if name := c.tlsConnState.ServerName; name != "" {
			c.hostname = name
		}
	}

	c.reader = bufio.NewReader(c.conn)
	c.writer = bufio.NewWriter(c.conn)
	c.remoteAddr = c.conn.RemoteAddr()
	c.rr = smtpproto.NewRequestReceiver()

	c.greeting()

	var errCount int

loop:
	for {
		if time.Since(c.deadline) > 0 {
			c.tr.Errorf("connection deadline exceeded")
			break
		}

		c.conn.SetDeadline(time.Now().Add(c.commandTimeout))

		cmd, err := c.readCommand()
		if err != nil {
			if err == io.EOF {
				c.tr.Debugf("client closed the connection")
			} else {
				c.tr.Errorf("exiting with error: %v", err)
			}
			break
		}

		if cmd.Kind == smtpproto.KindAUTH {
			c.tr.Debugf("-> AUTH <redacted>")
		} else {
			c.tr.Debugf("-> %s", cmd.Kind)
		}

		var code int
		var esc [3]uint8
		var msg string

		if c.parseErr != nil {
			code, esc, msg = errToResponse(c.parseErr)
			c.parseErr = nil
			commandCount.Add("PARSE-ERROR", 1)
			c.tr.Errorf("parse error: %d  %s", code, msg)
			errCount++
			if errCount >= c.maxCommandErrors {
				c.tr.Errorf("too many errors, breaking connection")
				_ = c.writeResponse(421, [3]uint8{4, 5, 0}, "Too many errors, bye")
				break
			}
			if err := c.writeResponse(code, esc, msg); err != nil {
				c.tr.Errorf("exiting with error: %v", err)
				break
			}
			continue loop
		}

		switch cmd.Kind {
		case smtpproto.KindEHLO, smtpproto.KindLHLO:
			c.EHLO(cmd)
			commandCount.Add(cmd.Kind.String(), 1)
			continue loop
		case smtpproto.KindHELO:
			code, esc, msg = c.HELO(cmd)
		case smtpproto.KindHELP:
			code, esc, msg = 214, [3]uint8{2, 0, 0}, "Hoy por ti, mañana por mi"
		case smtpproto.KindNOOP:
			code, esc, msg = 250, [3]uint8{2, 0, 0}, "You hear a faint typing noise."
		case smtpproto.KindRSET:
			code, esc, msg = c.RSET()
		case smtpproto.KindVRFY:
			code, esc, msg = 252, [3]uint8{2, 5, 0}, "You have a strange feeling for a moment, then it passes."
		case smtpproto.KindEXPN:
			code, esc, msg = 252, [3]uint8{2, 5, 0}, "You feel disoriented for a moment."
		case smtpproto.KindMAIL:
			code, esc, msg = c.MAIL(cmd.From)
		case smtpproto.KindRCPT:
			code, esc, msg = c.RCPT(cmd.To)
		case smtpproto.KindDATA:
			code, esc, msg = c.DATA()
		case smtpproto.KindBDAT:
			code, esc, msg = c.BDAT(cmd)
		case smtpproto.KindSTARTTLS:
			code, esc, msg = c.STARTTLS()
		case smtpproto.KindAUTH:
			code, esc, msg = c.AUTH(cmd)
		case smtpproto.KindETRN, smtpproto.KindATRN, smtpproto.KindBURL:
			code, esc, msg = 502, [3]uint8{5, 5, 1}, cmd.Kind.String() + " not implemented in this demo"
		case smtpproto.KindQUIT:
			_ = c.writeResponse(221, [3]uint8{2, 0, 0}, "Be seeing you...")
			break loop
		default:
			code, esc, msg = 500, [3]uint8{5, 5, 1}, "Unknown command"
		}

		commandCount.Add(cmd.Kind.String(), 1)
		if code == 0 {
			// The handler already wrote its own reply (STARTTLS).
			continue
		}

		c.tr.Debugf("<- %d  %s", code, msg)
		if code >= 400 {
			c.tr.Errorf("%s failed: %d  %s", cmd.Kind, code, msg)
			errCount++
			if errCount >= c.maxCommandErrors {
				c.tr.Errorf("too many errors, breaking connection")
				_ = c.writeResponse(421, [3]uint8{4, 5, 0}, "Too many errors, bye")
				break
			}
		}

		if err := c.writeResponse(code, esc, msg); err != nil {
			c.tr.Errorf("exiting with error: %v", err)
			break
		}
	}
}

func (c *Conn) greeting() {
	fmt.Fprintf(c.writer, "220 %s ESMTP smtpproto-serve\r\n", c.hostname)
	c.writer.Flush()
}

// readCommand reads bytes off the connection until a complete command line
// has arrived, handing the grammar over to smtpproto's RequestReceiver. A
// parse error surfaces as a synthetic Command so the main loop can report
// it through the ordinary response path, keeping the session in sync with
// the byte stream (ParseCommand always consumes through the line's LF).
func (c *Conn) readCommand() (smtpproto.Command, error) {
	buf := make([]byte, 4096)
	for {
		n, err := c.reader.Read(buf)
		if n > 0 {
			cmd, done, perr := c.rr.Ingest(buf[:n])
			if done {
				if perr != nil {
					return c.parseErrorCommand(perr), nil
				}
				return cmd, nil
			}
		}
		if err != nil {
			return smtpproto.Command{}, err
		}
	}
}

// parseErrorCommand turns a smtpproto parse error into a Command carrying
// enough information for the main loop to report it; KindNOOP is reused as
// a harmless placeholder Kind, the error text is carried in Value, and the
// typed error itself is kept in c.parseErr for errToResponse.
func (c *Conn) parseErrorCommand(err error) smtpproto.Command {
	parseErrorCount.Add(fmt.Sprintf("%T", err), 1)
	c.parseErr = err
	return smtpproto.Command{Kind: smtpproto.KindNOOP, Value: "__parse_error__:" + err.Error()}
}

// errToResponse maps a smtpproto parse error to an SMTP reply.
func errToResponse(err error) (code int, esc [3]uint8, msg string) {
	switch e := err.(type) {
	case *smtpproto.UnknownCommandError:
		return 500, [3]uint8{5, 5, 1}, "Unknown command"
	case *smtpproto.InvalidSenderAddressError:
		return 501, [3]uint8{5, 1, 7}, "Sender address malformed"
	case *smtpproto.InvalidRecipientAddressError:
		return 501, [3]uint8{5, 1, 3}, "Recipient address malformed"
	case *smtpproto.SyntaxError:
		return 501, [3]uint8{5, 5, 4}, "Syntax error, expected: " + e.Syntax
	case *smtpproto.InvalidParameterError:
		return 501, [3]uint8{5, 5, 4}, fmt.Sprintf("Invalid parameter %q", e.Param)
	case *smtpproto.UnsupportedParameterError:
		return 504, [3]uint8{5, 5, 4}, fmt.Sprintf("Unsupported parameter %q", e.Param)
	case *smtpproto.ResponseTooLongError:
		return 500, [3]uint8{5, 5, 4}, "Line too long"
	default:
		return 500, [3]uint8{5, 5, 0}, err.Error()
	}
}

// HELO SMTP command handler.
func (c *Conn) HELO(cmd smtpproto.Command) (code int, esc [3]uint8, msg string) {
	if cmd.Host == "" {
		return 501, [3]uint8{5, 5, 4}, "Invisible customers are not welcome!"
	}
	c.ehloDomain = cmd.Host
	return 250, [3]uint8{2, 0, 0}, fmt.Sprintf("Hello %s, welcome", cmd.Host)
}

// EHLO SMTP command handler. Unlike the other handlers this writes its own
// multi-line reply directly, via EhloResponse.WriteTo.
func (c *Conn) EHLO(cmd smtpproto.Command) {
	if cmd.Host == "" {
		_ = c.writeResponse(501, [3]uint8{5, 5, 4}, "Invisible customers are not welcome!")
		return
	}
	c.ehloDomain = cmd.Host
	c.isESMTP = true

	resp := smtpproto.EhloResponse{
		Hostname: c.hostname,
		Capabilities: smtpproto.Cap8BitMIME | smtpproto.CapPipelining |
			smtpproto.CapSMTPUTF8 | smtpproto.CapEnhancedStatusCodes |
			smtpproto.CapSIZE | smtpproto.CapHELP | smtpproto.CapChunking |
			smtpproto.CapDSN | smtpproto.CapRequireTLS,
		Size: uint64(c.maxDataSize),
	}
	if c.onTLS {
		resp.Capabilities |= smtpproto.CapAUTH
		resp.AuthMechanisms = smtpproto.RecognizeMechanism("PLAIN") | smtpproto.RecognizeMechanism("LOGIN")
	} else {
		resp.Capabilities |= smtpproto.CapSTARTTLS
	}

	if err := resp.WriteTo(c.writer); err != nil {
		c.tr.Errorf("error writing EHLO response: %v", err)
		return
	}
	c.writer.Flush()
	c.tr.Debugf("<- 250  (EHLO capabilities)")
}

// RSET SMTP command handler.
func (c *Conn) RSET() (code int, esc [3]uint8, msg string) {
	c.resetEnvelope()
	return 250, [3]uint8{2, 0, 0}, "Resetting"
}

// MAIL SMTP command handler.
func (c *Conn) MAIL(from smtpproto.MailFrom) (code int, esc [3]uint8, msg string) {
	if c.mode.IsSubmission && !c.completedAuth {
		return 550, [3]uint8{5, 7, 9}, "Mail to submission port must be authenticated"
	}

	c.resetEnvelope()

	addr := from.Address
	if addr != "" {
		if !strings.Contains(addr, "@") {
			return 501, [3]uint8{5, 1, 8}, "Sender address must contain a domain"
		}
		if len(addr) > 256 {
			return 501, [3]uint8{5, 1, 7}, "Sender address too long"
		}

		var err error
		addr, err = normalize.DomainToUnicode(addr)
		if err != nil {
			maillog.Rejected(c.remoteAddr, addr, nil,
				fmt.Sprintf("malformed address: %v", err))
			return 501, [3]uint8{5, 1, 8}, "Malformed sender domain (IDNA conversion failed)"
		}
	}

	from.Address = addr
	c.mailFrom = &from
	return 250, [3]uint8{2, 1, 5}, "You feel like you are being watched"
}

// RCPT SMTP command handler.
func (c *Conn) RCPT(to smtpproto.RcptTo) (code int, esc [3]uint8, msg string) {
	if c.mailFrom == nil {
		return 503, [3]uint8{5, 5, 1}, "Sender not yet given"
	}

	// https://tools.ietf.org/html/rfc5321#section-4.5.3.1.8
	if len(c.rcptTo) > 100 {
		return 452, [3]uint8{4, 5, 3}, "Too many recipients"
	}

	e, err := mail.ParseAddress(to.Address)
	if err != nil || e.Address == "" {
		return 501, [3]uint8{5, 1, 3}, "Malformed destination address"
	}

	addr, err := normalize.DomainToUnicode(e.Address)
	if err != nil {
		return 501, [3]uint8{5, 1, 2}, "Malformed destination domain (IDNA conversion failed)"
	}
	if len(addr) > 256 {
		return 501, [3]uint8{5, 1, 3}, "Destination address too long"
	}

	to.Address = addr
	c.rcptTo = append(c.rcptTo, to)
	return 250, [3]uint8{2, 1, 5}, "You have an eerie feeling..."
}

// DATA SMTP command handler.
func (c *Conn) DATA() (code int, esc [3]uint8, msg string) {
	if c.ehloDomain == "" {
		return 503, [3]uint8{5, 5, 1}, "Invisible customers are not welcome!"
	}
	if c.mailFrom == nil {
		return 503, [3]uint8{5, 5, 1}, "Sender not yet given"
	}
	if len(c.rcptTo) == 0 {
		return 503, [3]uint8{5, 5, 1}, "Need an address to send to"
	}

	if err := c.writeResponse(354, [3]uint8{}, "Start mail input; end with <CRLF>.<CRLF>"); err != nil {
		return 554, [3]uint8{5, 4, 0}, fmt.Sprintf("Error writing DATA response: %v", err)
	}
	c.tr.Debugf("<- 354  Start mail input")

	if c.onTLS {
		tlsCount.Add("tls", 1)
	} else {
		tlsCount.Add("plain", 1)
	}

	c.conn.SetDeadline(c.deadline)

	dr := smtpproto.NewDataReceiver()
	buf := make([]byte, 4096)
	for {
		n, rerr := c.reader.Read(buf)
		if n > 0 && dr.Ingest(buf[:n]) {
			break
		}
		if rerr != nil {
			return 554, [3]uint8{5, 4, 0}, fmt.Sprintf("Error reading DATA: %v", rerr)
		}
	}

	c.data = append([]byte(nil), dr.Bytes()...)
	c.tr.Debugf("-> ... %d bytes of data", len(c.data))

	if int64(len(c.data)) > c.maxDataSize {
		maillog.Rejected(c.remoteAddr, c.mailFrom.Address, addrList(c.rcptTo), "message too big")
		c.resetEnvelope()
		return 552, [3]uint8{5, 3, 4}, "Message too big"
	}

	return c.finishMessage()
}

// BDAT SMTP command handler, implementing RFC 3030 chunking as an
// alternative to DATA: each BDAT command carries its own chunk size, and
// the client may send several before the one marked LAST.
func (c *Conn) BDAT(cmd smtpproto.Command) (code int, esc [3]uint8, msg string) {
	if c.ehloDomain == "" {
		return 503, [3]uint8{5, 5, 1}, "Invisible customers are not welcome!"
	}
	if c.mailFrom == nil {
		return 503, [3]uint8{5, 5, 1}, "Sender not yet given"
	}
	if len(c.rcptTo) == 0 {
		return 503, [3]uint8{5, 5, 1}, "Need an address to send to"
	}

	c.conn.SetDeadline(c.deadline)

	br := smtpproto.NewBdatReceiver(cmd.ChunkSize)
	buf := make([]byte, 4096)
	for {
		n, rerr := c.reader.Read(buf)
		if n > 0 {
			consumed, done := br.Ingest(buf[:n])
			if done {
				_ = consumed
				break
			}
		}
		if rerr != nil {
			return 554, [3]uint8{5, 4, 0}, fmt.Sprintf("Error reading BDAT chunk: %v", rerr)
		}
	}

	c.data = append(c.data, br.Bytes()...)

	if int64(len(c.data)) > c.maxDataSize {
		maillog.Rejected(c.remoteAddr, c.mailFrom.Address, addrList(c.rcptTo), "message too big")
		c.resetEnvelope()
		return 552, [3]uint8{5, 3, 4}, "Message too big"
	}

	if !cmd.IsLast {
		return 250, [3]uint8{2, 0, 0}, fmt.Sprintf("%d bytes received", cmd.ChunkSize)
	}

	return c.finishMessage()
}

// finishMessage is the shared tail of DATA and BDAT: perform the basic
// sanity checks, add the Received header, and hand the message off (in
// this demo, that means logging it as queued, since there is no real
// queue or delivery agent wired up).
func (c *Conn) finishMessage() (code int, esc [3]uint8, msg string) {
	if err := checkData(c.data); err != nil {
		maillog.Rejected(c.remoteAddr, c.mailFrom.Address, addrList(c.rcptTo), err.Error())
		c.resetEnvelope()
		return 554, [3]uint8{5, 6, 0}, err.Error()
	}

	c.addReceivedHeader()

	msgID := fmt.Sprintf("%x", rand.Int63())
	c.tr.Printf("Queued from %s to %v - %s", c.mailFrom.Address, c.rcptTo, msgID)
	maillog.Queued(c.remoteAddr, c.mailFrom.Address, addrList(c.rcptTo), msgID)

	c.resetEnvelope()
	return 250, [3]uint8{2, 0, 0}, "Ok: queued as " + msgID
}

func addrList(rcpts []smtpproto.RcptTo) []string {
	out := make([]string, len(rcpts))
	for i, r := range rcpts {
		out[i] = r.Address
	}
	return out
}

func (c *Conn) addReceivedHeader() {
	var v string

	if c.completedAuth {
		v += fmt.Sprintf("from %s\n", c.ehloDomain)
	} else {
		v += fmt.Sprintf("from [%s] (%s)\n", addrLiteral(c.remoteAddr), c.ehloDomain)
	}

	v += fmt.Sprintf("by %s (smtpproto-serve) ", c.hostname)

	with := "SMTP"
	if c.isESMTP {
		with = "ESMTP"
	}
	if c.onTLS {
		with += "S"
	}
	if c.completedAuth {
		with += "A"
	}
	v += fmt.Sprintf("with %s\n", with)

	if c.tlsConnState != nil {
		v += fmt.Sprintf("tls %s\n", tlsconst.CipherSuiteName(c.tlsConnState.CipherSuite))
	}

	v += fmt.Sprintf("(over %s, ", c.mode)
	if c.tlsConnState != nil {
		v += fmt.Sprintf("%s, ", tlsconst.VersionName(c.tlsConnState.Version))
	} else {
		v += "plain text!, "
	}
	v += fmt.Sprintf("envelope from %q)\n", c.mailFrom.Address)
	v += fmt.Sprintf("; %s\n", time.Now().Format(time.RFC1123Z))

	header := fmt.Sprintf("Received: %s\r\n", v)
	c.data = append([]byte(header), c.data...)
}

func addrLiteral(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String()
	}
	s := tcp.IP.String()
	if strings.Contains(s, ":") {
		return "IPv6:" + s
	}
	return s
}

// checkData performs a very basic sanity check on the body of the email,
// enough to catch broad problems like mangled messages.
func checkData(data []byte) error {
	if _, err := mail.ReadMessage(strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("5.6.0 Error parsing message: %v", err)
	}
	return nil
}

// STARTTLS SMTP command handler.
func (c *Conn) STARTTLS() (code int, esc [3]uint8, msg string) {
	if c.onTLS {
		return 503, [3]uint8{5, 5, 1}, "You are already wearing that!"
	}

	if err := c.writeResponse(220, [3]uint8{2, 0, 0}, "Ready to start TLS"); err != nil {
		return 554, [3]uint8{5, 4, 0}, fmt.Sprintf("Error writing STARTTLS response: %v", err)
	}
	c.tr.Debugf("<- 220  Ready to start TLS")

	server := tls.Server(c.conn, c.tlsConfig)
	if err := server.Handshake(); err != nil {
		return 554, [3]uint8{5, 5, 0}, fmt.Sprintf("Error in TLS handshake: %v", err)
	}
	c.tr.Debugf("<> ... jump to TLS was successful")

	c.conn = server
	c.reader = bufio.NewReader(c.conn)
	c.writer = bufio.NewWriter(c.conn)
	c.rr = smtpproto.NewRequestReceiver()

	cstate := server.ConnectionState()
	c.tlsConnState = &cstate

	c.resetEnvelope()
	c.onTLS = true

	if name := c.tlsConnState.ServerName; name != "" {
		c.hostname = name
	}

	// 0 indicates not to send back a reply (already sent above).
	return 0, [3]uint8{}, ""
}

// AUTH SMTP command handler. Credential verification is out of scope for
// this demo (there is no user database wired up); this exercises the
// mechanism recognizer and the SASL challenge/response line receiver, and
// always reports the attempt as failed.
func (c *Conn) AUTH(cmd smtpproto.Command) (code int, esc [3]uint8, msg string) {
	if !c.onTLS {
		return 503, [3]uint8{5, 7, 10}, "You feel vulnerable"
	}
	if c.completedAuth {
		return 503, [3]uint8{5, 5, 1}, "You are already wearing that!"
	}
	if cmd.Mechanism == 0 {
		return 504, [3]uint8{5, 7, 4}, "Unrecognized authentication mechanism"
	}

	response := cmd.InitialResponse
	if response == "" {
		if err := c.writeResponse(334, [3]uint8{}, ""); err != nil {
			return 554, [3]uint8{5, 4, 0}, fmt.Sprintf("Error writing AUTH 334: %v", err)
		}
		line, err := c.readSASLLine()
		if err != nil {
			return 554, [3]uint8{5, 4, 0}, fmt.Sprintf("Error reading AUTH response: %v", err)
		}
		response = line
	}

	decoded, err := base64.StdEncoding.DecodeString(response)
	if err != nil {
		return 501, [3]uint8{5, 5, 2}, fmt.Sprintf("Error decoding AUTH response: %v", err)
	}

	parts := strings.SplitN(string(decoded), "\x00", 3)
	user := ""
	if len(parts) == 3 {
		user = parts[1]
	}
	maillog.Auth(c.remoteAddr, user, false)
	return 535, [3]uint8{5, 7, 8}, "Authentication not available in this demo"
}

// readSASLLine reads one base64-encoded SASL response line, using a
// LineReceiver to accumulate across however the bytes are chunked on the
// wire.
func (c *Conn) readSASLLine() (string, error) {
	lr := smtpproto.NewLineReceiver[struct{}](struct{}{})
	buf := make([]byte, 256)
	for {
		n, err := c.reader.Read(buf)
		if n > 0 {
			line, done, perr := lr.Ingest(buf[:n])
			if perr != nil {
				return "", perr
			}
			if done {
				return line, nil
			}
		}
		if err != nil {
			return "", err
		}
	}
}

func (c *Conn) resetEnvelope() {
	c.mailFrom = nil
	c.rcptTo = nil
	c.data = nil
}

func (c *Conn) writeResponse(code int, esc [3]uint8, msg string) error {
	defer c.writer.Flush()
	responseCodeCount.Add(strconv.Itoa(code), 1)
	resp := smtpproto.Response{Code: code, ESC: esc, Message: msg}
	return resp.WriteTo(c.writer)
}
