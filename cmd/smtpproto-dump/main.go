// smtpproto-dump reads SMTP/LMTP command lines and prints the decoded
// command each one parses to. It is a small inspection tool for the
// smtpproto package, not a server.
package main

import (
	"bufio"
	"fmt"
	"os"

	"blitiri.com.ar/go/smtpproto/smtpproto"
	"github.com/docopt/docopt-go"
)

const usage = `smtpproto-dump: decode SMTP/LMTP command lines.

Usage:
  smtpproto-dump [--line=<line>]
  smtpproto-dump -h | --help

Options:
  --line=<line>  Decode a single command line instead of reading stdin.
  -h --help      Show this screen.

With no --line, reads CRLF- or LF-terminated command lines from stdin, one
per line, and prints the decoded command for each.
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], "smtpproto-dump")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if line, _ := opts.String("--line"); line != "" {
		dump(line)
		return
	}

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		dump(sc.Text())
	}
	if err := sc.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "reading stdin: %v\n", err)
		os.Exit(1)
	}
}

func dump(line string) {
	cmd, err := smtpproto.ParseCommand([]byte(line + "\r\n"))
	if err != nil {
		fmt.Printf("%-40q  ERROR: %v\n", line, err)
		return
	}
	fmt.Printf("%-40q  %s %+v\n", line, cmd.Kind, cmd)
}
