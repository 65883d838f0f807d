package smtpproto

import (
	"fmt"
	"io"
	"strings"
)

// WriteTo writes resp's SMTP reply to w. A multi-line message (lines
// joined by '\n' in resp.Message) is split into one "NNN-"-prefixed line
// per line except the last, which uses "NNN " -- the same layout the
// reference SMTP server writer uses for its own multi-line replies.
func (resp Response) WriteTo(w io.Writer) error {
	lines := strings.Split(resp.Message, "\n")
	for i, line := range lines {
		sep := byte('-')
		if i == len(lines)-1 {
			sep = ' '
		}
		if resp.ESC != [3]uint8{} {
			if _, err := fmt.Fprintf(w, "%d%c%d.%d.%d %s\r\n", resp.Code, sep, resp.ESC[0], resp.ESC[1], resp.ESC[2], line); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%d%c%s\r\n", resp.Code, sep, line); err != nil {
			return err
		}
	}
	return nil
}

// maxResponseBytes bounds a ResponseReceiver's accumulated buffer across
// every line of a multi-line reply.
const maxResponseBytes = 4096

// ResponseReceiver accumulates a complete multi-line server reply across
// an arbitrary chunking of the underlying stream, one line at a time,
// recognizing the final line by its separator (a space, or a lenient
// bare LF on a code below 600) the same way ParseResponse does.
type ResponseReceiver struct {
	buf    []byte
	hasESC bool
}

// NewResponseReceiver returns a ready-to-use ResponseReceiver. hasESC is
// forwarded to ParseResponse once the reply is complete.
func NewResponseReceiver(hasESC bool) *ResponseReceiver {
	return &ResponseReceiver{hasESC: hasESC}
}

// Ingest feeds chunk to the receiver. It returns a parsed Response and
// true once a complete reply has arrived, or false (with a zero
// Response) when more data is needed.
func (r *ResponseReceiver) Ingest(chunk []byte) (Response, bool, error) {
	for _, ch := range chunk {
		r.buf = append(r.buf, ch)
		if len(r.buf) > maxResponseBytes {
			r.buf = nil
			return Response{}, false, &ResponseTooLongError{}
		}
		if ch != '\n' {
			continue
		}
		if !responseLineIsLast(r.buf) {
			continue
		}
		resp, err := ParseResponse(r.buf, r.hasESC)
		r.buf = nil
		return resp, true, err
	}
	return Response{}, false, nil
}

// responseLineIsLast reports whether buf (ending in the LF just
// appended) ends with a line that terminates the reply: a "NNN " or
// "NNN\n" (lenient) line, as opposed to a "NNN-" continuation.
func responseLineIsLast(buf []byte) bool {
	lineStart := 0
	for i := len(buf) - 2; i >= 0; i-- {
		if buf[i] == '\n' {
			lineStart = i + 1
			break
		}
	}
	line := buf[lineStart:]
	if len(line) < 4 {
		return false
	}
	switch line[3] {
	case ' ':
		return true
	case '-':
		return false
	default:
		// Lenient bare-LF terminator right after the code.
		return line[3] == '\n'
	}
}

// sizeConsumingStop reads a digit run the same way scanner.size() does,
// but additionally consumes the single byte that stopped it (if any),
// returning it as stop/stopOK. This mirrors the reference ESC-triplet
// algorithm, where reading a size always eats exactly one trailing
// byte -- unlike scanner.size()'s ordinary peek-only convention, which
// every other caller relies on to see the separator that follows.
func sizeConsumingStop(sc *scanner) (value uint64, stop byte, stopOK bool) {
	value = sc.size()
	stop, stopOK = sc.peek()
	if stopOK {
		sc.pos++
	}
	return value, stop, stopOK
}

// ParseResponse parses a complete multi-line SMTP/LMTP server reply (one
// or more "NNN[-| ]text" lines) into a Response. hasESC selects whether
// each line's text is expected to begin with an RFC 2034 enhanced status
// code (d.d.d); a failed ESC parse is not an error -- the consumed digits
// are restored into the message body, so ESC is strictly optional even
// when hasESC is true.
//
// A bare LF immediately following the three-digit code (no '-' or ' '
// separator) is accepted leniently as an immediate terminator: the
// response is considered complete as of the prior line, and nothing past
// that LF is read.
func ParseResponse(data []byte, hasESC bool) (Response, error) {
	sc := newScanner(data)
	var resp Response
	var message []byte
	haveESC := false

	for {
		var code [3]byte
		for i := range code {
			c, err := sc.readChar()
			if err != nil {
				return Response{}, err
			}
			if c < '0' || c > '9' {
				return Response{}, &SyntaxError{Syntax: "NNN[-| ]text"}
			}
			code[i] = c - '0'
		}
		resp.Code = codeValue(code)

		sep, err := sc.readChar()
		if err != nil {
			return Response{}, err
		}

		last := false
		switch {
		case sep == ' ':
			last = true
		case sep == '-':
		case sep == '\n' && code[0] < 6:
			// Lenient bare-LF terminator: the response ends here, this
			// line contributes nothing further.
			resp.Message = string(message)
			return resp, nil
		default:
			return Response{}, &SyntaxError{Syntax: "NNN[-| ]text"}
		}

		skipRestOfLine := false

		if hasESC {
			if !haveESC {
				var gotESC [3]uint8
				ok := true
				var lastStop byte
				var lastStopOK bool
				escStart := sc.pos
				for pos := 0; pos < 3; pos++ {
					v, stop, stopOK := sizeConsumingStop(sc)
					if v != noSize && v < 100 {
						gotESC[pos] = uint8(v)
					} else {
						gotESC[pos] = 0
					}
					lastStop, lastStopOK = stop, stopOK
					if pos < 2 {
						if !stopOK || stop != '.' {
							ok = false
							break
						}
					}
				}
				if ok {
					resp.ESC = gotESC
					haveESC = true
					if lastStopOK && lastStop == '\n' {
						skipRestOfLine = true
					}
				} else {
					// No ESC here: everything read while looking for one
					// is read again as message text.
					sc.pos = escStart
				}
			} else {
				for {
					c, err := sc.readChar()
					if err != nil {
						return Response{}, err
					}
					if (c >= '0' && c <= '9') || c == '.' {
						continue
					}
					if c == '\n' {
						skipRestOfLine = true
					}
					// Any other character (the separator after the
					// digits, e.g. ' ') is consumed and discarded here,
					// matching the reference parser's behaviour.
					break
				}
			}
		}

		if skipRestOfLine {
			if last {
				break
			}
			continue
		}

		if len(message) > 0 && message[len(message)-1] != ' ' {
			message = append(message, ' ')
		}

		for {
			c, err := sc.readChar()
			if err != nil {
				return Response{}, err
			}
			if c == '\n' {
				break
			}
			if c == '\r' {
				continue
			}
			message = append(message, c)
		}

		if last {
			break
		}
	}

	resp.Message = string(message)
	return resp, nil
}
