package smtpproto

import "testing"

func TestRequestReceiverFastPath(t *testing.T) {
	r := NewRequestReceiver()
	cmd, done, err := r.Ingest([]byte("QUIT\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !done || cmd.Kind != KindQUIT {
		t.Fatalf("got done=%v cmd=%+v", done, cmd)
	}
}

func TestRequestReceiverSplitAcrossChunks(t *testing.T) {
	r := NewRequestReceiver()
	_, done, err := r.Ingest([]byte("EHLO ba"))
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("expected not done after partial line")
	}
	cmd, done, err := r.Ingest([]byte("r.com\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !done || cmd.Host != "bar.com" {
		t.Fatalf("got done=%v cmd=%+v", done, cmd)
	}
}

func TestRequestReceiverByteAtATime(t *testing.T) {
	r := NewRequestReceiver()
	line := "RSET\r\n"
	var cmd Command
	var done bool
	var err error
	for i := 0; i < len(line); i++ {
		cmd, done, err = r.Ingest([]byte{line[i]})
		if err != nil {
			t.Fatal(err)
		}
	}
	if !done || cmd.Kind != KindRSET {
		t.Fatalf("got done=%v cmd=%+v", done, cmd)
	}
}

func TestDataReceiverBasic(t *testing.T) {
	r := NewDataReceiver()
	done := r.Ingest([]byte("hello world\r\n.\r\n"))
	if !done {
		t.Fatal("expected termination")
	}
	// The CRLF immediately preceding the terminator dot line belongs to
	// the terminator, not the body, and is stripped along with it.
	if string(r.Bytes()) != "hello world" {
		t.Fatalf("Bytes() = %q", r.Bytes())
	}
}

func TestDataReceiverUnstuffsLeadingDot(t *testing.T) {
	r := NewDataReceiver()
	done := r.Ingest([]byte("data\r\n..line\r\n.\r\n"))
	if !done {
		t.Fatal("expected termination")
	}
	if string(r.Bytes()) != "data\r\n.line" {
		t.Fatalf("Bytes() = %q, want %q", r.Bytes(), "data\r\n.line")
	}
}

func TestDataReceiverRejectsBareLFDot(t *testing.T) {
	// A lone "\n.\n" embedded in the body (no real CRLF framing) must never
	// be mistaken for the terminator -- this is the smuggling-safety case.
	r := NewDataReceiver()
	if r.Ingest([]byte("line one\n.\nline two\r\n")) {
		t.Fatal("bare LF-dot-LF must not terminate the body")
	}
	if !r.Ingest([]byte(".\r\n")) {
		t.Fatal("expected real terminator to end the body")
	}
	want := "line one\n.\nline two"
	if string(r.Bytes()) != want {
		t.Fatalf("Bytes() = %q, want %q", r.Bytes(), want)
	}
}

func TestDataReceiverReset(t *testing.T) {
	r := NewDataReceiver()
	r.Ingest([]byte("x\r\n.\r\n"))
	r.Reset()
	if len(r.Bytes()) != 0 {
		t.Fatalf("Bytes() after Reset = %q, want empty", r.Bytes())
	}
	if !r.Ingest([]byte("y\r\n.\r\n")) {
		t.Fatal("expected termination on reused receiver")
	}
	if string(r.Bytes()) != "y" {
		t.Fatalf("Bytes() = %q", r.Bytes())
	}
}

func TestBdatReceiverExactSize(t *testing.T) {
	r := NewBdatReceiver(5)
	consumed, done := r.Ingest([]byte("hello"))
	if consumed != 5 || !done {
		t.Fatalf("consumed=%d done=%v", consumed, done)
	}
	if string(r.Bytes()) != "hello" {
		t.Fatalf("Bytes() = %q", r.Bytes())
	}
}

func TestDummyDataReceiverDiscardsButRecognizesTerminator(t *testing.T) {
	r := NewDummyDataReceiver()
	if r.Ingest([]byte("whatever\r\nmore stuff\r\n.x\r\n")) {
		t.Fatal("did not expect termination on a dot-stuffed line")
	}
	if !r.Ingest([]byte("\r\n.\r\n")) {
		t.Fatal("expected termination")
	}
}

func TestDummyLineReceiver(t *testing.T) {
	r := NewDummyLineReceiver()
	consumed, done := r.Ingest([]byte("abc"))
	if done || consumed != 3 {
		t.Fatalf("consumed=%d done=%v", consumed, done)
	}
	consumed, done = r.Ingest([]byte("def\nghi"))
	if !done || consumed != 4 {
		t.Fatalf("consumed=%d done=%v", consumed, done)
	}
}

func TestLineReceiverAccumulatesAndDropsCR(t *testing.T) {
	r := NewLineReceiver(42)
	if r.State != 42 {
		t.Fatalf("State = %v, want 42", r.State)
	}
	line, done, err := r.Ingest([]byte("dGVzdA=="))
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("did not expect a complete line yet")
	}
	line, done, err = r.Ingest([]byte("\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !done || line != "dGVzdA==" {
		t.Fatalf("line=%q done=%v", line, done)
	}
}

func TestLineReceiverRejectsOverlongLine(t *testing.T) {
	r := NewLineReceiver(struct{}{})
	big := make([]byte, maxLineReceiverBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	_, _, err := r.Ingest(big)
	if _, ok := err.(*ResponseTooLongError); !ok {
		t.Fatalf("err = %v, want *ResponseTooLongError", err)
	}
}

func TestBdatReceiverAcrossChunks(t *testing.T) {
	r := NewBdatReceiver(5)
	consumed, done := r.Ingest([]byte("he"))
	if consumed != 2 || done {
		t.Fatalf("consumed=%d done=%v", consumed, done)
	}
	consumed, done = r.Ingest([]byte("llo"))
	if consumed != 3 || !done {
		t.Fatalf("consumed=%d done=%v", consumed, done)
	}
	if string(r.Bytes()) != "hello" {
		t.Fatalf("Bytes() = %q", r.Bytes())
	}
}
