package smtpproto

import "fmt"

// NeedsMoreDataError signals that the scanner or a receiver ran out of
// input mid-token; BytesLeft is how many trailing bytes of the buffer the
// caller must preserve and prepend to the next chunk before retrying.
type NeedsMoreDataError struct {
	BytesLeft int
}

func (e *NeedsMoreDataError) Error() string {
	return fmt.Sprintf("smtpproto: needs more data (%d bytes pending)", e.BytesLeft)
}

// UnknownCommandError is returned when the first token of a line does not
// match any known SMTP verb.
type UnknownCommandError struct{}

func (e *UnknownCommandError) Error() string { return "smtpproto: unknown command" }

// InvalidSenderAddressError is returned when a MAIL FROM address fails the
// mailbox grammar.
type InvalidSenderAddressError struct{}

func (e *InvalidSenderAddressError) Error() string {
	return "smtpproto: invalid sender address"
}

// InvalidRecipientAddressError is returned when a RCPT TO address fails the
// mailbox grammar.
type InvalidRecipientAddressError struct{}

func (e *InvalidRecipientAddressError) Error() string {
	return "smtpproto: invalid recipient address"
}

// SyntaxError carries the canonical command-syntax template to echo back
// to the client in a 501 reply.
type SyntaxError struct {
	Syntax string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("smtpproto: syntax error, expected: %s", e.Syntax)
}

// InvalidParameterError is returned when a recognized MAIL/RCPT parameter
// keyword had a malformed or disallowed value.
type InvalidParameterError struct {
	Param string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("smtpproto: invalid parameter %q", e.Param)
}

// UnsupportedParameterError is returned for a parameter keyword the parser
// does not recognize; Param is the uppercased spelling as scanned.
type UnsupportedParameterError struct {
	Param string
}

func (e *UnsupportedParameterError) Error() string {
	return fmt.Sprintf("smtpproto: unsupported parameter %q", e.Param)
}

// ResponseTooLongError is returned when an accumulated response message or
// a buffered request line exceeds its size cap.
type ResponseTooLongError struct{}

func (e *ResponseTooLongError) Error() string { return "smtpproto: response too long" }

// InvalidResponseError is returned when a response line's numeric code is
// not permitted in the context it was read (e.g. a non-250 EHLO line).
type InvalidResponseError struct {
	Code int
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("smtpproto: invalid response code %d", e.Code)
}
