// Command cncnet-relay runs a UDP relay server for LAN-tunneled games.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/hashicorp/go-envparse"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/mod/semver"

	"github.com/r2northstar/cncnet-relay/internal/relay"
	"github.com/r2northstar/cncnet-relay/internal/relaylog"
)

// ProtocolVersion is reported in the QUERY version key when Version is
// unset or fails semver validation.
const ProtocolVersion = "v1.0.0"

// Version is set via -ldflags "-X main.Version=..." at build time.
var Version string

var opt struct {
	Help       bool
	BindIP     string
	Hostname   string
	Password   string
	Timeout    int
	MaxClients int
	LinkTo     string
	EnvFile    string
	DebugAddr  string
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
	pflag.StringVarP(&opt.BindIP, "bind", "i", "0.0.0.0", "Address to bind to")
	pflag.StringVarP(&opt.Hostname, "hostname", "n", "Unnamed CnCNet Dedicated Server", "Hostname reported to clients")
	pflag.StringVarP(&opt.Password, "password", "p", "", "Admin password; empty disables RESET/whitelisting")
	pflag.IntVarP(&opt.Timeout, "timeout", "t", 60, "Idle peer timeout, in seconds (clamped to [1, 3600])")
	pflag.IntVarP(&opt.MaxClients, "maxclients", "c", 8, "Maximum simultaneous peers (clamped to [2, 32])")
	pflag.StringVarP(&opt.LinkTo, "link", "l", "", "Sibling relay to peer with, as host[:port] (default port 9000)")
	pflag.StringVarP(&opt.EnvFile, "env-file", "e", "", "Optional env file loaded into the process environment (existing variables are kept; flags are not read from it)")
	pflag.StringVar(&opt.DebugAddr, "debug-addr", "", "If set, serve Prometheus metrics on this address")
}

func main() {
	if err := run(); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run() error {
	pflag.Parse()

	if opt.EnvFile != "" {
		if err := preloadEnvFile(opt.EnvFile); err != nil {
			return fmt.Errorf("read env file: %w", err)
		}
	}

	if opt.Help || pflag.NArg() > 1 {
		fmt.Printf("usage: %s [options] [port]\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		return errUsage
	}

	port := 9000
	if pflag.NArg() == 1 {
		p, err := strconv.Atoi(pflag.Arg(0))
		if err != nil {
			return fmt.Errorf("bad port %q", pflag.Arg(0))
		}
		port = p
	}

	cfg := relay.Config{
		BindIP:     opt.BindIP,
		BindPort:   clamp(port, 1024, 65535),
		Hostname:   opt.Hostname,
		Password:   opt.Password,
		Timeout:    clamp(opt.Timeout, 1, 3600),
		MaxClients: clamp(opt.MaxClients, 2, 32),
		Version:    resolveVersion(),
	}

	if opt.LinkTo != "" {
		link, err := resolveLinkTo(opt.LinkTo)
		if err != nil {
			return fmt.Errorf("bad -l address %q: %w", opt.LinkTo, err)
		}
		cfg.LinkTo = link
	}

	log := relaylog.New(zerolog.InfoLevel)
	srv := relay.NewServer(cfg, log)

	if opt.DebugAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			srv.WritePrometheus(w)
		})
		go func() {
			log.Warn().Str("addr", opt.DebugAddr).Msg("running insecure debug metrics server")
			if err := http.ListenAndServe(opt.DebugAddr, mux); err != nil {
				log.Warn().Err(err).Msg("debug metrics server failed")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// errUsage signals that usage text was already printed to stdout; main
// exits 1 without an additional error line.
var errUsage = errors.New("usage")

func resolveLinkTo(s string) (netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		host = s
		portStr = "9000"
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return netip.AddrPort{}, fmt.Errorf("resolve host: %w", err)
	}
	addr, ok := netip.AddrFromSlice(ips[0].To4())
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("%s does not resolve to an IPv4 address", host)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("bad port %q", portStr)
	}
	return netip.AddrPortFrom(addr, uint16(port)), nil
}

func resolveVersion() string {
	if Version == "" {
		return ProtocolVersion
	}
	if !semver.IsValid(Version) {
		return ProtocolVersion
	}
	return semver.Canonical(Version)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// preloadEnvFile loads key=value pairs from path into the process
// environment, without overwriting variables already set. It runs after flag
// parsing, and no flag takes its value from the environment.
func preloadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	vars, err := envparse.Parse(f)
	if err != nil {
		return err
	}
	for k, v := range vars {
		if _, set := os.LookupEnv(k); !set {
			os.Setenv(k, v)
		}
	}
	return nil
}
