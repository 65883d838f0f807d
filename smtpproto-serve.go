// smtpproto-serve is a demo SMTP/LMTP server exercising the smtpproto
// protocol parser. It accepts connections on the plain, submission and
// submission+TLS sockets, runs the protocol loop, and logs each message it
// receives; it does not queue or deliver mail.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"blitiri.com.ar/go/smtpproto/internal/config"
	"blitiri.com.ar/go/smtpproto/internal/maillog"
	"blitiri.com.ar/go/smtpproto/internal/smtpsrv"
	"blitiri.com.ar/go/log"
	"blitiri.com.ar/go/systemd"
)

// Command-line flags.
var (
	configDir = flag.String("config_dir", "/etc/smtpproto-serve",
		"configuration directory")
	configOverrides = flag.String("config_overrides", "",
		"override configuration values (in YAML format)")
	showVer = flag.Bool("version", false, "show version and exit")
)

func main() {
	flag.Parse()
	log.Init()

	parseVersionInfo()
	if *showVer {
		fmt.Printf("smtpproto-serve %s (source date: %s)\n", version, sourceDate)
		return
	}

	log.Infof("smtpproto-serve starting (version %s)", version)

	// Seed the PRNG, just to prevent it from being totally predictable.
	rand.Seed(time.Now().UnixNano())

	conf, err := config.Load(*configDir+"/smtpproto-serve.yaml", *configOverrides)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	config.LogConfig(conf)

	// Change to the config dir, so that relative paths (certs/) are
	// resolved consistently regardless of the working directory we were
	// launched from.
	err = os.Chdir(*configDir)
	if err != nil {
		log.Fatalf("Error changing to config dir %q: %v", *configDir, err)
	}

	initMailLog(conf.MailLogPath)

	go signalHandler()

	if conf.MonitoringAddr != "" {
		go launchMonitoringServer(conf)
	}

	s := smtpsrv.NewServer()
	s.Hostname = conf.Hostname
	s.MaxDataSize = conf.MaxDataSizeBytes()
	s.MaxCommandErrors = conf.MaxCommandErrors
	s.SetCommandTimeout(conf.IdleTimeoutDuration())

	// Load certificates from "certs/<directory>/{fullchain,privkey}.pem".
	// The structure matches letsencrypt's, to make it easier for that case.
	if fis, err := os.ReadDir("certs/"); err == nil {
		log.Infof("Loading certificates")
		for _, fi := range fis {
			name := fi.Name()
			dir := filepath.Join("certs/", name)
			if fi, err := os.Stat(dir); err == nil && !fi.IsDir() {
				continue
			}

			certPath := filepath.Join(dir, "fullchain.pem")
			if _, err := os.Stat(certPath); os.IsNotExist(err) {
				continue
			}
			keyPath := filepath.Join(dir, "privkey.pem")
			if _, err := os.Stat(keyPath); os.IsNotExist(err) {
				continue
			}

			log.Infof("  %s", name)
			if err := s.AddCerts(certPath, keyPath); err != nil {
				log.Fatalf("    %v", err)
			}
		}
	}

	systemdLs, err := systemd.Listeners()
	if err != nil {
		log.Fatalf("Error getting systemd listeners: %v", err)
	}

	naddr := loadAddress(s, conf.ListenAddr, systemdLs["smtp"], smtpsrv.ModeSMTP)
	naddr += loadAddress(s, conf.SubmissionAddr, systemdLs["submission"], smtpsrv.ModeSubmission)
	naddr += loadAddress(s, conf.SubmissionTLSAddr, systemdLs["submission_tls"], smtpsrv.ModeSubmissionTLS)

	if naddr == 0 {
		log.Fatalf("No address to listen on")
	}

	s.ListenAndServe()
}

// loadAddress registers a single configured address (which may be "systemd"
// to take listeners from socket activation, or empty to skip this socket
// mode entirely) with the server, and returns how many listeners it added.
func loadAddress(srv *smtpsrv.Server, addr string, systemdLs []net.Listener, mode smtpsrv.SocketMode) int {
	switch addr {
	case "":
		return 0
	case "systemd":
		srv.AddListeners(systemdLs, mode)
		if len(systemdLs) == 0 {
			log.Errorf("Warning: no %v systemd listeners found", mode)
			log.Errorf("If using systemd, check that you named the sockets")
		}
		return len(systemdLs)
	default:
		srv.AddAddr(addr, mode)
		return 1
	}
}

func initMailLog(path string) {
	var err error

	switch path {
	case "<syslog>":
		maillog.Default, err = maillog.NewSyslog()
	case "<stdout>":
		maillog.Default = maillog.New(os.Stdout)
	case "<stderr>":
		maillog.Default = maillog.New(os.Stderr)
	default:
		_ = os.MkdirAll(filepath.Dir(path), 0775)
		maillog.Default, err = maillog.NewFile(path)
	}

	if err != nil {
		log.Fatalf("Error opening mail log: %v", err)
	}
}

func signalHandler() {
	var err error

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP)

	for {
		switch sig := <-signals; sig {
		case syscall.SIGHUP:
			// SIGHUP triggers a reopen of the log files. This is used for log
			// rotation.
			err = log.Default.Reopen()
			if err != nil {
				log.Fatalf("Error reopening log: %v", err)
			}

			err = maillog.Default.Reopen()
			if err != nil {
				log.Fatalf("Error reopening maillog: %v", err)
			}
		default:
			log.Errorf("Unexpected signal %v", sig)
		}
	}
}

