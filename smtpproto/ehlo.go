package smtpproto

import (
	"fmt"
	"io"
	"math/bits"
)

// ParseEhloResponse parses a complete multi-line EHLO reply (one or more
// "250[-| ]..." lines, terminated CRLF or bare LF) into an EhloResponse.
// Any non-"250" status code yields an *InvalidResponseError carrying that
// code and does not populate the response.
func ParseEhloResponse(data []byte) (EhloResponse, error) {
	sc := newScanner(data)
	var resp EhloResponse
	isFirstLine := true

	for {
		var code [3]byte
		for i := range code {
			c, err := sc.readChar()
			if err != nil {
				return EhloResponse{}, err
			}
			if c < '0' || c > '9' {
				return EhloResponse{}, &SyntaxError{Syntax: "NNN[-| ]text"}
			}
			code[i] = c - '0'
		}

		sep, err := sc.readChar()
		if err != nil {
			return EhloResponse{}, err
		}

		last := false
		switch {
		case sep == ' ':
			last = true
		case sep == '-':
		case sep == '\n' && code[0] < 6:
			// Bare LF right after the code, lenient terminator.
			last = true
			if code != [3]byte{2, 5, 0} {
				return EhloResponse{}, &InvalidResponseError{Code: codeValue(code)}
			}
			if isFirstLine {
				isFirstLine = false
			}
			// No text followed the code on this line; nothing more to
			// parse for it.
			goto checkDone
		default:
			return EhloResponse{}, &SyntaxError{Syntax: "NNN[-| ]text"}
		}

		if code != [3]byte{2, 5, 0} {
			sc.seekLF()
			return EhloResponse{}, &InvalidResponseError{Code: codeValue(code)}
		}

		if isFirstLine {
			txt, err := sc.text()
			if err != nil {
				return EhloResponse{}, err
			}
			resp.Hostname = txt
			sc.seekLF()
			isFirstLine = false
		} else if err := parseEhloKeywordLine(sc, &resp); err != nil {
			return EhloResponse{}, err
		}

	checkDone:
		if last {
			break
		}
	}

	return resp, nil
}

// WriteTo writes the multi-line "250-..."/"250 ..." EHLO reply for resp
// to w, one capability per line in descending bit-position order, the
// last line using a space separator instead of a dash.
func (resp EhloResponse) WriteTo(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "250-%s you had me at EHLO\r\n", resp.Hostname); err != nil {
		return err
	}

	caps := resp.Capabilities
	for caps != 0 {
		bit := uint32(1) << (31 - bits.LeadingZeros32(caps))
		caps ^= bit

		sep := byte('-')
		if caps == 0 {
			sep = ' '
		}
		if _, err := fmt.Fprintf(w, "250%c", sep); err != nil {
			return err
		}

		var err error
		switch bit {
		case Cap8BitMIME:
			_, err = io.WriteString(w, "8BITMIME\r\n")
		case CapATRN:
			_, err = io.WriteString(w, "ATRN\r\n")
		case CapAUTH:
			if _, err = io.WriteString(w, "AUTH"); err != nil {
				return err
			}
			mechs := resp.AuthMechanisms
			for mechs != 0 {
				bit := uint64(1) << (63 - bits.LeadingZeros64(mechs))
				mechs ^= bit
				name, ok := mechanismNameOf(bit)
				if !ok {
					continue
				}
				if _, err = fmt.Fprintf(w, " %s", name); err != nil {
					return err
				}
			}
			_, err = io.WriteString(w, "\r\n")
		case CapBinaryMIME:
			_, err = io.WriteString(w, "BINARYMIME\r\n")
		case CapBURL:
			_, err = io.WriteString(w, "BURL\r\n")
		case CapCheckpoint:
			_, err = io.WriteString(w, "CHECKPOINT\r\n")
		case CapChunking:
			_, err = io.WriteString(w, "CHUNKING\r\n")
		case CapConNeg:
			_, err = io.WriteString(w, "CONNEG\r\n")
		case CapConPerm:
			_, err = io.WriteString(w, "CONPERM\r\n")
		case CapDeliverBy:
			if resp.DeliverBy > 0 {
				_, err = fmt.Fprintf(w, "DELIVERBY %d\r\n", resp.DeliverBy)
			} else {
				_, err = io.WriteString(w, "DELIVERBY\r\n")
			}
		case CapDSN:
			_, err = io.WriteString(w, "DSN\r\n")
		case CapEnhancedStatusCodes:
			_, err = io.WriteString(w, "ENHANCEDSTATUSCODES\r\n")
		case CapETRN:
			_, err = io.WriteString(w, "ETRN\r\n")
		case CapEXPN:
			_, err = io.WriteString(w, "EXPN\r\n")
		case CapVRFY:
			_, err = io.WriteString(w, "VRFY\r\n")
		case CapFutureRelease:
			_, err = fmt.Fprintf(w, "FUTURERELEASE %d %d\r\n",
				resp.FutureReleaseInterval, resp.FutureReleaseDatetime)
		case CapHELP:
			_, err = io.WriteString(w, "HELP\r\n")
		case CapMTPriority:
			_, err = fmt.Fprintf(w, "MT-PRIORITY %s\r\n", resp.MTPriority)
		case CapMTRK:
			_, err = io.WriteString(w, "MTRK\r\n")
		case CapNoSoliciting:
			if resp.HasNoSoliciting {
				_, err = fmt.Fprintf(w, "NO-SOLICITING %s\r\n", resp.NoSoliciting)
			} else {
				_, err = io.WriteString(w, "NO-SOLICITING\r\n")
			}
		case CapOnex:
			_, err = io.WriteString(w, "ONEX\r\n")
		case CapPipelining:
			_, err = io.WriteString(w, "PIPELINING\r\n")
		case CapRequireTLS:
			_, err = io.WriteString(w, "REQUIRETLS\r\n")
		case CapRRVS:
			_, err = io.WriteString(w, "RRVS\r\n")
		case CapSIZE:
			if resp.Size > 0 {
				_, err = fmt.Fprintf(w, "SIZE %d\r\n", resp.Size)
			} else {
				_, err = io.WriteString(w, "SIZE\r\n")
			}
		case CapSMTPUTF8:
			_, err = io.WriteString(w, "SMTPUTF8\r\n")
		case CapSTARTTLS:
			_, err = io.WriteString(w, "STARTTLS\r\n")
		case CapVerb:
			_, err = io.WriteString(w, "VERB\r\n")
		}
		if err != nil {
			return err
		}
	}

	return nil
}

func codeValue(code [3]byte) int {
	return int(code[0])*100 + int(code[1])*10 + int(code[2])
}

// parseEhloKeywordLine parses one continuation line's keyword and its
// keyword-specific tail, merging the result into resp. Unknown keywords
// are ignored (the remainder of the line is discarded).
func parseEhloKeywordLine(sc *scanner, resp *EhloResponse) error {
	fp, err := sc.hashedValueLong()
	if err != nil {
		return err
	}

	switch fp {
	case fp8BITMIME:
		resp.Capabilities |= Cap8BitMIME
	case fpATRNCAP:
		resp.Capabilities |= CapATRN
	case fpAUTH_PARAM:
		resp.Capabilities |= CapAUTH
		for {
			c, ok := sc.peek()
			if !ok || c == '\n' {
				break
			}
			name := sc.rawKeywordUpper()
			resp.AuthMechanisms |= recognizeMechanism(name)
			sc.seekChar(0)
			sc.skipSpacesCR()
		}
	case fpBINARYMIMECAP:
		resp.Capabilities |= CapBinaryMIME
	case fpBURLCAP:
		resp.Capabilities |= CapBURL
	case fpCHECKPOINT:
		resp.Capabilities |= CapCheckpoint
	case fpCHUNKING:
		resp.Capabilities |= CapChunking
	case fpCONNEG:
		resp.Capabilities |= CapConNeg
	case fpCONPERM:
		resp.Capabilities |= CapConPerm
	case fpDELIVERBY:
		resp.Capabilities |= CapDeliverBy
		if c, ok := sc.peek(); ok && c != '\n' {
			if v := sc.size(); v != noSize {
				resp.DeliverBy = v
			}
		}
	case fpDSN:
		resp.Capabilities |= CapDSN
	case fpENHANCEDSTATUSCO:
		if matchesDES(sc) {
			resp.Capabilities |= CapEnhancedStatusCodes
		}
	case fpETRNCAP:
		resp.Capabilities |= CapETRN
	case fpEXPNCAP:
		resp.Capabilities |= CapEXPN
	case fpFUTURERELEASE:
		resp.Capabilities |= CapFutureRelease
		if c, ok := sc.peek(); ok && c != '\n' {
			if v := sc.size(); v != noSize {
				resp.FutureReleaseInterval = v
			}
		}
		if c, ok := sc.peek(); ok && c != '\n' {
			if v := sc.size(); v != noSize {
				resp.FutureReleaseDatetime = v
			}
		}
	case fpHELPCAP:
		resp.Capabilities |= CapHELP
	case fpMTPRIORITY:
		resp.Capabilities |= CapMTPriority
		resp.MTPriority = MTPriorityMixer
		if c, ok := sc.peek(); ok && c != '\n' {
			pfp, err := sc.hashedValueLong()
			if err != nil {
				return err
			}
			switch pfp {
			case fpMIXER:
				resp.MTPriority = MTPriorityMixer
			case fpSTANAG4406:
				resp.MTPriority = MTPriorityStanag4406
			case fpNSEP:
				resp.MTPriority = MTPriorityNsep
			}
		}
	case fpMTRK:
		resp.Capabilities |= CapMTRK
	case fpNOSOLICITING:
		resp.Capabilities |= CapNoSoliciting
		if c, ok := sc.peek(); ok && c != '\n' {
			txt, err := sc.text()
			if err != nil {
				return err
			}
			if txt != "" {
				resp.NoSoliciting = txt
				resp.HasNoSoliciting = true
			}
		}
	case fpONEX:
		resp.Capabilities |= CapOnex
	case fpPIPELINING:
		resp.Capabilities |= CapPipelining
	case fpREQUIRETLS:
		resp.Capabilities |= CapRequireTLS
	case fpRRVS:
		resp.Capabilities |= CapRRVS
	case fpSIZE:
		resp.Capabilities |= CapSIZE
		if c, ok := sc.peek(); ok && c != '\n' {
			if v := sc.size(); v != noSize {
				resp.Size = v
			}
		}
	case fpSMTPUTF8:
		resp.Capabilities |= CapSMTPUTF8
	case fpSTARTTLSCAP:
		resp.Capabilities |= CapSTARTTLS
	case fpVERB:
		resp.Capabilities |= CapVerb
	case fpVRFYCAP:
		resp.Capabilities |= CapVRFY
	default:
		// Unrecognized keyword; ignore the rest of the line.
	}

	sc.seekLF()
	return nil
}

// matchesDES checks that the next three bytes spell "DES" case-insensitively
// -- ENHANCEDSTATUSCO is recognized as a 16-byte-truncated fingerprint, so
// the parser must confirm the remaining "DES" of ENHANCEDSTATUSCODES itself.
func matchesDES(sc *scanner) bool {
	for _, want := range []byte{'D', 'E', 'S'} {
		c, err := sc.readChar()
		if err != nil || toUpperASCII(c) != want {
			return false
		}
	}
	return true
}
