package smtpsrv

import (
	"net"
	"testing"

	"blitiri.com.ar/go/smtpproto/smtpproto"
)

func TestAddrLiteral(t *testing.T) {
	// TCP addresses.
	casesTCP := []struct {
		addr     net.IP
		expected string
	}{
		{net.IPv4(1, 2, 3, 4), "1.2.3.4"},
		{net.IPv4(0, 0, 0, 0), "0.0.0.0"},
		{net.ParseIP("1.2.3.4"), "1.2.3.4"},
		{net.ParseIP("2001:db8::68"), "IPv6:2001:db8::68"},
		{net.ParseIP("::1"), "IPv6:::1"},
	}
	for _, c := range casesTCP {
		tcp := &net.TCPAddr{
			IP:   c.addr,
			Port: 12345,
		}
		s := addrLiteral(tcp)
		if s != c.expected {
			t.Errorf("%v: expected %q, got %q", tcp, c.expected, s)
		}
	}

	// Non-TCP addresses. We expect these to match addr.String().
	casesOther := []net.Addr{
		&net.UDPAddr{
			IP:   net.ParseIP("1.2.3.4"),
			Port: 12345,
		},
	}
	for _, addr := range casesOther {
		s := addrLiteral(addr)
		if s != addr.String() {
			t.Errorf("%v: expected %q, got %q", addr, addr.String(), s)
		}
	}
}

func TestErrToResponse(t *testing.T) {
	cases := []struct {
		err      error
		wantCode int
	}{
		{&smtpproto.UnknownCommandError{}, 500},
		{&smtpproto.InvalidSenderAddressError{}, 501},
		{&smtpproto.InvalidRecipientAddressError{}, 501},
		{&smtpproto.SyntaxError{Syntax: "MAIL FROM:<reverse-path>"}, 501},
		{&smtpproto.InvalidParameterError{Param: "SIZE"}, 501},
		{&smtpproto.UnsupportedParameterError{Param: "X-FOO"}, 504},
		{&smtpproto.ResponseTooLongError{}, 500},
	}
	for _, c := range cases {
		code, _, msg := errToResponse(c.err)
		if code != c.wantCode {
			t.Errorf("%T: expected code %d, got %d (%q)", c.err, c.wantCode, code, msg)
		}
		if msg == "" {
			t.Errorf("%T: empty message", c.err)
		}
	}
}

func TestAddrList(t *testing.T) {
	rcpts := []smtpproto.RcptTo{
		{Address: "a@example.com"},
		{Address: "b@example.com"},
	}
	got := addrList(rcpts)
	if len(got) != 2 || got[0] != "a@example.com" || got[1] != "b@example.com" {
		t.Errorf("unexpected result: %v", got)
	}
}

func TestCheckData(t *testing.T) {
	if err := checkData([]byte("Subject: hi\r\n\r\nbody\r\n")); err != nil {
		t.Errorf("valid message rejected: %v", err)
	}
}

func TestResetEnvelope(t *testing.T) {
	c := &Conn{}
	from := smtpproto.MailFrom{Address: "a@b"}
	c.mailFrom = &from
	c.rcptTo = []smtpproto.RcptTo{{Address: "c@d"}}
	c.data = []byte("hi")

	c.resetEnvelope()

	if c.mailFrom != nil || c.rcptTo != nil || c.data != nil {
		t.Errorf("resetEnvelope left state behind: %+v", c)
	}
}
