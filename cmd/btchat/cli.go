package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/smjoseph/btchat/bdaddr"
	"github.com/smjoseph/btchat/config"
)

// errUsage asks the caller to print usage and fail.
var errUsage = errors.New("usage")

// options holds the raw command line before it is merged into a Config.
type options struct {
	connect    string
	listen     bool
	handle     string
	psm        string
	bufferSize int
	configFile string
	retries    uint
	verbose    bool
	logFile    string

	set map[string]bool
}

func newFlagSet(opts *options, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("btchat", flag.ContinueOnError)
	fs.SetOutput(out)

	fs.StringVar(&opts.connect, "c", "", "connect to the peer at this bdaddr")
	fs.BoolVar(&opts.listen, "l", false, "listen for one incoming connection")
	fs.StringVar(&opts.handle, "h", "", "sender handle (default <user>@<host>)")
	fs.StringVar(&opts.psm, "p", "", "PSM in hex (default 0x1213)")
	fs.IntVar(&opts.bufferSize, "b", 0, "frame size in bytes (default 128)")
	fs.StringVar(&opts.configFile, "config", "", "YAML configuration file")
	fs.UintVar(&opts.retries, "retries", 0, "connect retries with backoff")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")
	fs.StringVar(&opts.logFile, "log-file", "", "write JSON logs to this file instead of stderr")

	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: btchat -c <bdaddr> | -l [-h handle] [-p psm] [-b size] [-config file] [-retries n] [-v] [-log-file path]")
		fs.PrintDefaults()
	}

	return fs
}

// parseArgs turns the command line into a validated Config. Flags given on
// the command line override values from the configuration file. Usage asked
// for by running without arguments goes to stdout; flag errors go to stderr.
func parseArgs(args []string, stdout, stderr io.Writer) (config.Config, error) {
	var opts options
	fs := newFlagSet(&opts, stderr)

	if len(args) == 0 {
		fs.SetOutput(stdout)
		fs.Usage()
		return config.Config{}, errUsage
	}

	if err := fs.Parse(args); err != nil {
		return config.Config{}, errUsage
	}

	if fs.NArg() > 0 {
		return config.Config{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	opts.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })

	return opts.build()
}

func (o *options) build() (config.Config, error) {
	cfg := config.Default()
	if o.configFile != "" {
		var err error
		if cfg, err = config.Load(o.configFile, cfg); err != nil {
			return cfg, err
		}
	}

	if o.set["c"] && o.set["l"] {
		return cfg, &config.Error{Field: "role", Err: config.ErrConflictingRoles}
	}

	if o.set["c"] {
		addr, err := bdaddr.Parse(o.connect)
		if err != nil {
			return cfg, &config.Error{Field: "connect", Err: err}
		}

		cfg.Role = config.RoleInitiator
		cfg.Remote = addr
	}

	if o.set["l"] && o.listen {
		cfg.Role = config.RoleResponder
		cfg.Remote = bdaddr.Any
	}

	if o.set["h"] {
		cfg.Handle = o.handle
	}

	if cfg.Handle == "" && !o.set["h"] {
		cfg.Handle = config.DefaultHandle()
	}

	if o.set["p"] {
		psm, err := config.ParsePSM(o.psm)
		if err != nil {
			return cfg, err
		}

		cfg.PSM = psm
	}

	if o.set["b"] {
		cfg.BufferSize = o.bufferSize
	}

	if o.set["retries"] {
		cfg.ConnectRetries = o.retries
	}

	if o.verbose {
		cfg.LogLevel = "debug"
	}

	if o.set["log-file"] {
		cfg.LogFile = o.logFile
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}
