package smtpproto

import "strings"

// ParseCommand parses one complete SMTP/LMTP request line (as handed over
// by a RequestReceiver -- it must already end in LF) into a typed Command.
//
// On every error path the parser consumes through the terminating LF, so a
// caller that keeps feeding the rest of a pipelined stream stays in sync.
func ParseCommand(line []byte) (Command, error) {
	sc := newScanner(line)

	verb, err := sc.hashedValue()
	if err != nil {
		return Command{}, err
	}

	sep, ok := sc.peek()
	if !ok {
		return Command{}, &NeedsMoreDataError{BytesLeft: 0}
	}
	switch sep {
	case ' ':
		sc.pos++
	case '\r', '\n':
		// Bare invocation; fine for zero-argument commands, and for
		// commands whose argument grammar tolerates being empty.
	default:
		sc.seekLF()
		return Command{}, &UnknownCommandError{}
	}

	switch verb {
	case fpEHLO:
		return parseGreeting(sc, KindEHLO)
	case fpHELO:
		return parseGreeting(sc, KindHELO)
	case fpLHLO:
		return parseGreeting(sc, KindLHLO)
	case fpMAIL:
		return parseMail(sc)
	case fpRCPT:
		return parseRcpt(sc)
	case fpBDAT:
		return parseBdat(sc)
	case fpAUTH:
		return parseAuth(sc)
	case fpEXPN:
		return parseNonEmptyString(sc, KindEXPN)
	case fpVRFY:
		return parseNonEmptyString(sc, KindVRFY)
	case fpNOOP:
		return parseOptionalString(sc, KindNOOP)
	case fpHELP:
		return parseOptionalString(sc, KindHELP)
	case fpETRN:
		return parseNonEmptyString(sc, KindETRN)
	case fpATRN:
		return parseAtrn(sc)
	case fpBURL:
		return parseBurl(sc)
	case fpQUIT:
		sc.seekLF()
		return Command{Kind: KindQUIT}, nil
	case fpRSET:
		sc.seekLF()
		return Command{Kind: KindRSET}, nil
	case fpSTARTTLS:
		sc.seekLF()
		return Command{Kind: KindSTARTTLS}, nil
	case fpDATA:
		sc.seekLF()
		return Command{Kind: KindDATA}, nil
	default:
		sc.seekLF()
		return Command{}, &UnknownCommandError{}
	}
}

func parseGreeting(sc *scanner, kind CommandKind) (Command, error) {
	host, err := sc.text()
	if err != nil {
		return Command{}, err
	}
	sc.seekLF()
	if len(host) < 1 || len(host) > 255 {
		return Command{}, &SyntaxError{Syntax: "EHLO/HELO/LHLO <host>"}
	}
	return Command{Kind: kind, Host: host}, nil
}

const mailSyntax = "MAIL FROM:<reverse-path> [parameters]"
const rcptSyntax = "RCPT TO:<forward-path> [parameters]"

func parseMail(sc *scanner) (Command, error) {
	tok, err := sc.hashedValue()
	if err != nil {
		return Command{}, err
	}
	if tok != fpFROM {
		sc.seekLF()
		return Command{}, &SyntaxError{Syntax: mailSyntax}
	}
	c, ok := sc.peek()
	if !ok || c != ':' {
		sc.seekLF()
		return Command{}, &SyntaxError{Syntax: mailSyntax}
	}
	sc.pos++

	addr, err := parseAddrFrame(sc, mailSyntax)
	if err != nil {
		return Command{}, err
	}
	from := MailFrom{Address: addr}
	if err := parseMailParams(sc, &from); err != nil {
		return Command{}, err
	}
	return Command{Kind: KindMAIL, From: from}, nil
}

func parseRcpt(sc *scanner) (Command, error) {
	tok, err := sc.hashedValue()
	if err != nil {
		return Command{}, err
	}
	if tok != fpTO {
		sc.seekLF()
		return Command{}, &SyntaxError{Syntax: rcptSyntax}
	}
	c, ok := sc.peek()
	if !ok || c != ':' {
		sc.seekLF()
		return Command{}, &SyntaxError{Syntax: rcptSyntax}
	}
	sc.pos++

	addr, err := parseAddrFrameRcpt(sc, rcptSyntax)
	if err != nil {
		return Command{}, err
	}

	to := RcptTo{Address: addr}
	if err := parseRcptParams(sc, &to); err != nil {
		return Command{}, err
	}
	return Command{Kind: KindRCPT, To: to}, nil
}

// parseAddrFrame parses "<addr>" for MAIL, special-casing the null
// reverse-path "<>" (always legal), and returning InvalidSenderAddressError
// for a malformed mailbox or SyntaxError for bad framing.
func parseAddrFrame(sc *scanner, syntax string) (string, error) {
	c, ok := sc.peek()
	if !ok || c != '<' {
		sc.seekLF()
		return "", &SyntaxError{Syntax: syntax}
	}
	sc.pos++

	if c2, ok2 := sc.peek(); ok2 && c2 == '>' {
		sc.pos++
		return "", nil
	}

	addr, closed, ok := sc.address()
	if !closed {
		sc.seekLF()
		return "", &SyntaxError{Syntax: syntax}
	}
	if !ok {
		sc.seekLF()
		return "", &InvalidSenderAddressError{}
	}
	if len(addr) > 256 {
		sc.seekLF()
		return "", &InvalidSenderAddressError{}
	}
	return addr, nil
}

// parseAddrFrameRcpt mirrors parseAddrFrame, for RCPT TO's error variant.
func parseAddrFrameRcpt(sc *scanner, syntax string) (string, error) {
	c, ok := sc.peek()
	if !ok || c != '<' {
		sc.seekLF()
		return "", &SyntaxError{Syntax: syntax}
	}
	sc.pos++

	if c2, ok2 := sc.peek(); ok2 && c2 == '>' {
		sc.pos++
		return "", nil
	}

	addr, closed, ok := sc.address()
	if !closed {
		sc.seekLF()
		return "", &SyntaxError{Syntax: syntax}
	}
	if !ok {
		sc.seekLF()
		return "", &InvalidRecipientAddressError{}
	}
	if len(addr) > 256 {
		sc.seekLF()
		return "", &InvalidRecipientAddressError{}
	}
	return addr, nil
}

func parseBdat(sc *scanner) (Command, error) {
	sz := sc.size()
	if sz == noSize {
		sc.seekLF()
		return Command{}, &SyntaxError{Syntax: "BDAT chunk-size [LAST]"}
	}
	isLast := false
	if c, ok := sc.nextChar(); ok && c != '\n' {
		tok, err := sc.hashedValue()
		if err != nil {
			return Command{}, err
		}
		if tok == fpLAST {
			isLast = true
		}
	}
	sc.seekLF()
	return Command{Kind: KindBDAT, ChunkSize: int(sz), IsLast: isLast}, nil
}

func parseAuth(sc *scanner) (Command, error) {
	name := sc.rawKeywordUpper()
	mech := recognizeMechanism(name)
	// Consume the mechanism token the same way hashedValueLong would, plus
	// any trailing disambiguator bytes, up to the next whitespace.
	sc.seekChar(0)

	var initial string
	if c, ok := sc.nextChar(); ok && c != '\n' {
		var err error
		initial, err = sc.text()
		if err != nil {
			return Command{}, err
		}
	}
	sc.seekLF()
	return Command{Kind: KindAUTH, Mechanism: mech, InitialResponse: initial}, nil
}

func parseNonEmptyString(sc *scanner, kind CommandKind) (Command, error) {
	val, err := sc.text()
	if err != nil {
		return Command{}, err
	}
	sc.seekLF()
	if val == "" {
		return Command{}, &SyntaxError{Syntax: kind.String() + " <value>"}
	}
	return Command{Kind: kind, Value: val}, nil
}

func parseOptionalString(sc *scanner, kind CommandKind) (Command, error) {
	val, err := sc.text()
	if err != nil {
		return Command{}, err
	}
	sc.seekLF()
	return Command{Kind: kind, Value: val}, nil
}

func parseAtrn(sc *scanner) (Command, error) {
	raw, err := sc.text()
	if err != nil {
		return Command{}, err
	}
	sc.seekLF()
	parts := strings.Split(raw, ",")
	domains := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			domains = append(domains, p)
		}
	}
	if len(domains) == 0 {
		return Command{}, &SyntaxError{Syntax: "ATRN domain[,domain...]"}
	}
	return Command{Kind: KindATRN, Domains: domains}, nil
}

func parseBurl(sc *scanner) (Command, error) {
	uri, err := sc.text()
	if err != nil {
		return Command{}, err
	}
	isLast := false
	if c, ok := sc.nextChar(); ok && c != '\n' {
		tok, err := sc.hashedValue()
		if err != nil {
			return Command{}, err
		}
		if tok == fpLAST {
			isLast = true
		}
	}
	sc.seekLF()
	return Command{Kind: KindBURL, URI: uri, IsLast: isLast}, nil
}

// atParamsEnd skips spaces and CRs and reports whether the MAIL/RCPT
// parameter list has ended (LF or end of input). It does not consume the
// byte it stops on, so otherwise the cursor is left on the next parameter
// keyword.
func atParamsEnd(sc *scanner) bool {
	c, ok := sc.nextChar()
	return !ok || c == '\n'
}

func parseMailParams(sc *scanner, from *MailFrom) error {
	for !atParamsEnd(sc) {
		start := sc.pos
		sc.skipSpacesCR()
		keyStart := sc.pos
		kw, err := sc.hashedValueLong()
		if err != nil {
			return err
		}
		switch kw {
		case fpBODY:
			if !expectEquals(sc) {
				return paramError(sc, keyStart, "BODY")
			}
			val, err := sc.hashedValueLong()
			if err != nil {
				return err
			}
			switch val {
			case fpSEVENBIT:
				from.Flags |= Flag7Bit
			case fp8BITMIME:
				from.Flags |= Flag8BitMIME
			case fpBINARYMIME:
				from.Flags |= FlagBinaryMIME
			default:
				return &InvalidParameterError{Param: "BODY"}
			}
		case fpSMTPUTF8:
			from.Flags |= FlagSMTPUTF8
		case fpREQUIRETLS:
			from.Flags |= FlagRequireTLS
		case fpCONPERM:
			from.Flags |= FlagConPerm
		case fpSIZE:
			if !expectEquals(sc) {
				return paramError(sc, keyStart, "SIZE")
			}
			sz := sc.size()
			if sz == noSize {
				return &InvalidParameterError{Param: "SIZE"}
			}
			from.Size = sz
		case fpBY:
			if !expectEquals(sc) {
				return paramError(sc, keyStart, "BY")
			}
			v := sc.integer()
			if v == noInteger {
				return &InvalidParameterError{Param: "BY"}
			}
			if c, ok := sc.peek(); !ok || c != ';' {
				return &InvalidParameterError{Param: "BY"}
			}
			sc.pos++
			code, err := sc.hashedValue()
			if err != nil {
				return err
			}
			switch code {
			case fpN:
				from.Flags |= FlagByNotify
			case fpNT:
				from.Flags |= FlagByNotify | FlagByTrace
			case fpR:
				from.Flags |= FlagByReturn
			case fpRT:
				from.Flags |= FlagByReturn | FlagByTrace
			default:
				return &InvalidParameterError{Param: "BY"}
			}
			from.By = v
			from.HasBy = true
		case fpHOLDFOR:
			if !expectEquals(sc) {
				return paramError(sc, keyStart, "HOLDFOR")
			}
			v := sc.size()
			if v == noSize {
				return &InvalidParameterError{Param: "HOLDFOR"}
			}
			from.HoldFor = v
			from.HasHoldFor = true
		case fpHOLDUNTIL:
			if !expectEquals(sc) {
				return paramError(sc, keyStart, "HOLDUNTIL")
			}
			v := sc.size()
			if v == noSize {
				return &InvalidParameterError{Param: "HOLDUNTIL"}
			}
			from.HoldUntil = v
			from.HasHoldUntil = true
		case fpRET:
			if !expectEquals(sc) {
				return paramError(sc, keyStart, "RET")
			}
			val, err := sc.hashedValue()
			if err != nil {
				return err
			}
			switch val {
			case fpFULL:
				from.Flags |= FlagRetFull
			case fpHDRS:
				from.Flags |= FlagRetHdrs
			default:
				return &InvalidParameterError{Param: "RET"}
			}
		case fpENVID:
			if !expectEquals(sc) {
				return paramError(sc, keyStart, "ENVID")
			}
			v, err := sc.xtext()
			if err != nil {
				return err
			}
			if len(v) < 1 || len(v) > 100 {
				return &InvalidParameterError{Param: "ENVID"}
			}
			from.EnvID = v
		case fpSOLICIT:
			if !expectEquals(sc) {
				return paramError(sc, keyStart, "SOLICIT")
			}
			v, err := sc.text()
			if err != nil {
				return err
			}
			if v == "" {
				return &InvalidParameterError{Param: "SOLICIT"}
			}
			from.Solicit = v
		case fpTRANSID:
			if !expectEquals(sc) {
				return paramError(sc, keyStart, "TRANSID")
			}
			c, ok := sc.peek()
			if !ok || c != '<' {
				return &InvalidParameterError{Param: "TRANSID"}
			}
			sc.pos++
			v := sc.seekChar('>')
			c, ok = sc.peek()
			if !ok || c != '>' {
				return &InvalidParameterError{Param: "TRANSID"}
			}
			sc.pos++
			from.TransID = v
		case fpMTRK:
			if !expectEquals(sc) {
				return paramError(sc, keyStart, "MTRK")
			}
			v, err := sc.text()
			if err != nil {
				return err
			}
			if v == "" {
				return &InvalidParameterError{Param: "MTRK"}
			}
			if idx := strings.IndexByte(v, ':'); idx >= 0 {
				from.MTRKCertifier = v[:idx]
				to, err := parseUintStrict(v[idx+1:])
				if err != nil {
					return &InvalidParameterError{Param: "MTRK"}
				}
				from.MTRKTimeout = to
			} else {
				from.MTRKCertifier = v
			}
			from.HasMTRK = true
		case fpAUTH_PARAM:
			if !expectEquals(sc) {
				return paramError(sc, keyStart, "AUTH")
			}
			v, err := sc.xtext()
			if err != nil {
				return err
			}
			if v != "<>" && (len(v) < 1 || len(v) > 256) {
				return &InvalidParameterError{Param: "AUTH"}
			}
			from.Auth = v
		case fpMTPRIORITY:
			if !expectEquals(sc) {
				return paramError(sc, keyStart, "MT-PRIORITY")
			}
			v := sc.integer()
			if v == noInteger || v < -9 || v > 9 {
				return &InvalidParameterError{Param: "MT-PRIORITY"}
			}
			from.MTPriority = v
		default:
			return unsupportedParam(sc, keyStart)
		}
		if sc.pos == start {
			// Defensive: never spin without making progress.
			sc.seekLF()
			return &SyntaxError{Syntax: mailSyntax}
		}
	}
	sc.seekLF()
	return nil
}

func parseRcptParams(sc *scanner, to *RcptTo) error {
	for !atParamsEnd(sc) {
		start := sc.pos
		sc.skipSpacesCR()
		keyStart := sc.pos
		kw, err := sc.hashedValueLong()
		if err != nil {
			return err
		}
		switch kw {
		case fpCONNEG:
			to.Flags |= FlagConNeg
		case fpREQUIRETLS:
			// Shared keyword; accepted on RCPT too.
		case fpORCPT:
			if !expectEquals(sc) {
				return paramError(sc, keyStart, "ORCPT")
			}
			v, err := sc.xtext()
			if err != nil {
				return err
			}
			if len(v) < 1 || len(v) > 256 {
				return &InvalidParameterError{Param: "ORCPT"}
			}
			to.ORCPT = v
		case fpRRVS:
			if !expectEquals(sc) {
				return paramError(sc, keyStart, "RRVS")
			}
			sub := newScanner(sc.buf[sc.pos:])
			ts := sub.timestamp()
			sc.pos += sub.pos
			if ts == noInteger {
				return &InvalidParameterError{Param: "RRVS"}
			}
			to.RRVS = ts
			to.HasRRVS = true
			if c, ok := sc.peek(); ok && c == ';' {
				sc.pos++
				code, err := sc.hashedValue()
				if err != nil {
					return err
				}
				switch code {
				case fpC:
					to.Flags |= FlagRRVSContinue
				case fpR:
					to.Flags |= FlagRRVSReject
				default:
					return &InvalidParameterError{Param: "RRVS"}
				}
			} else {
				// RFC 7293: no ;C/;R suffix defaults to reject-before-time.
				to.Flags |= FlagRRVSReject
			}
		case fpNOTIFY:
			if !expectEquals(sc) {
				return paramError(sc, keyStart, "NOTIFY")
			}
			var flags uint64
			for {
				val, err := sc.hashedValueLong()
				if err != nil {
					return err
				}
				switch val {
				case fpSUCCESS:
					flags |= FlagNotifySuccess
				case fpFAILURE:
					flags |= FlagNotifyFailure
				case fpDELAY:
					flags |= FlagNotifyDelay
				case fpNEVER:
					flags |= FlagNotifyNever
				default:
					return &InvalidParameterError{Param: "NOTIFY"}
				}
				c, ok := sc.peek()
				if ok && c == ',' {
					sc.pos++
					continue
				}
				break
			}
			if flags&FlagNotifyNever != 0 &&
				flags&(FlagNotifySuccess|FlagNotifyFailure|FlagNotifyDelay) != 0 {
				return &InvalidParameterError{Param: "NOTIFY"}
			}
			to.Flags |= flags
		default:
			return unsupportedParam(sc, keyStart)
		}
		if sc.pos == start {
			sc.seekLF()
			return &SyntaxError{Syntax: rcptSyntax}
		}
	}
	sc.seekLF()
	return nil
}

func expectEquals(sc *scanner) bool {
	c, ok := sc.peek()
	if !ok || c != '=' {
		return false
	}
	sc.pos++
	return true
}

func paramError(sc *scanner, keyStart int, name string) error {
	sc.seekChar(0)
	return &InvalidParameterError{Param: name}
}

func unsupportedParam(sc *scanner, keyStart int) error {
	sc.seekChar(0)
	param := strings.ToUpper(string(sc.buf[keyStart:sc.pos]))
	return &UnsupportedParameterError{Param: param}
}

func parseUintStrict(s string) (uint64, error) {
	sub := newScanner([]byte(s + "\n"))
	v := sub.size()
	if v == noSize || sub.pos != len(s) {
		return 0, &InvalidParameterError{Param: "MTRK"}
	}
	return v, nil
}
