package smtpproto

import (
	"strings"
	"testing"
)

func TestParseResponseSingleLineWithESC(t *testing.T) {
	resp, err := ParseResponse([]byte("250 2.1.1 Originator <ned@ymir.claremont.edu> ok\r\n"), true)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Code != 250 {
		t.Fatalf("Code = %d, want 250", resp.Code)
	}
	if resp.ESC != [3]uint8{2, 1, 1} {
		t.Fatalf("ESC = %v, want [2 1 1]", resp.ESC)
	}
	want := "Originator <ned@ymir.claremont.edu> ok"
	if resp.Message != want {
		t.Fatalf("Message = %q, want %q", resp.Message, want)
	}
}

func TestParseResponseMultiLineWithESC(t *testing.T) {
	data := "551-5.7.1 Forwarding not allowed\r\n" +
		"551 5.7.1 try again later\r\n"
	resp, err := ParseResponse([]byte(data), true)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Code != 551 || resp.ESC != [3]uint8{5, 7, 1} {
		t.Fatalf("got Code=%d ESC=%v", resp.Code, resp.ESC)
	}
	want := "Forwarding not allowed try again later"
	if resp.Message != want {
		t.Fatalf("Message = %q, want %q", resp.Message, want)
	}
}

func TestParseResponseNoESCRequested(t *testing.T) {
	resp, err := ParseResponse([]byte("550 No such user here\r\n"), false)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Code != 550 {
		t.Fatalf("Code = %d, want 550", resp.Code)
	}
	if resp.ESC != [3]uint8{} {
		t.Fatalf("ESC = %v, want zero value", resp.ESC)
	}
	if resp.Message != "No such user here" {
		t.Fatalf("Message = %q", resp.Message)
	}
}

func TestParseResponseESCRequestedButAbsent(t *testing.T) {
	// Same text as above but hasESC=true: there is no real d.d.d prefix, so
	// the consumed characters must be recovered back into the message
	// rather than silently dropped.
	resp, err := ParseResponse([]byte("550 No such user here\r\n"), true)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Code != 550 {
		t.Fatalf("Code = %d, want 550", resp.Code)
	}
	if resp.Message != "No such user here" {
		t.Fatalf("Message = %q, want %q", resp.Message, "No such user here")
	}
}

func TestParseResponseLenientSpaceSeparatorWithBareLF(t *testing.T) {
	resp, err := ParseResponse([]byte("250 ok\n"), false)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Code != 250 || resp.Message != "ok" {
		t.Fatalf("got %+v", resp)
	}
}

func TestParseResponseBareLFImmediatelyAfterCode(t *testing.T) {
	// No '-' or ' ' separator at all: a bare LF right after the three
	// digits is accepted as an immediate, content-free terminator.
	resp, err := ParseResponse([]byte("250\n"), false)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Code != 250 || resp.Message != "" {
		t.Fatalf("got %+v", resp)
	}
}

func TestResponseReceiverAcrossChunks(t *testing.T) {
	r := NewResponseReceiver(false)
	_, done, err := r.Ingest([]byte("250-mail.example.com\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("did not expect completion after a continuation line")
	}
	resp, done, err := r.Ingest([]byte("250 PIPELINING\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("expected completion on the final line")
	}
	if resp.Code != 250 || resp.Message != "mail.example.com PIPELINING" {
		t.Fatalf("got %+v", resp)
	}
}

func TestResponseReceiverByteAtATime(t *testing.T) {
	r := NewResponseReceiver(false)
	line := "250 ok\r\n"
	var resp Response
	var done bool
	var err error
	for i := 0; i < len(line); i++ {
		resp, done, err = r.Ingest([]byte{line[i]})
		if err != nil {
			t.Fatal(err)
		}
	}
	if !done || resp.Code != 250 || resp.Message != "ok" {
		t.Fatalf("got done=%v resp=%+v", done, resp)
	}
}

func TestResponseWriteToRoundTrips(t *testing.T) {
	resp := Response{Code: 250, ESC: [3]uint8{2, 1, 5}, Message: "ok"}
	var sb strings.Builder
	if err := resp.WriteTo(&sb); err != nil {
		t.Fatal(err)
	}
	got, err := ParseResponse([]byte(sb.String()), true)
	if err != nil {
		t.Fatalf("re-parse of %q failed: %v", sb.String(), err)
	}
	if got.Code != resp.Code || got.ESC != resp.ESC || got.Message != resp.Message {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, resp)
	}
}

func TestResponseWriteToMultiLine(t *testing.T) {
	resp := Response{Code: 550, Message: "line one\nline two"}
	var sb strings.Builder
	if err := resp.WriteTo(&sb); err != nil {
		t.Fatal(err)
	}
	want := "550-line one\r\n550 line two\r\n"
	if sb.String() != want {
		t.Fatalf("WriteTo() = %q, want %q", sb.String(), want)
	}
}

func TestParseResponseRejectsBadSyntax(t *testing.T) {
	_, err := ParseResponse([]byte("not a response\r\n"), false)
	if _, ok := err.(*SyntaxError); !ok {
		t.Fatalf("err = %v, want *SyntaxError", err)
	}
}
