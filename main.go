package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/abema/curlb/adapters"
	"github.com/abema/curlb/core"
	"github.com/blang/semver"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var Version = semver.MustParse("0.1.0")

const exitUsage = 2

type UsageError struct {
	err error
}

func newUsageError(format string, args ...interface{}) error {
	return &UsageError{err: fmt.Errorf(format, args...)}
}

func (err *UsageError) Error() string {
	return err.err.Error()
}

func (err *UsageError) Unwrap() error {
	return err.err
}

type options struct {
	Compressed       bool
	Insecure         bool
	Request          string
	Verbose          bool
	ConnectTimeout   int
	ConnectTimeoutMs int
	Data             string
	WriteOut         string
	Version          bool
	Headers          []string
	Location         bool
	MaxRedirs        int
	Config           string

	// set when the value came from the config file
	hasConnectTimeoutMs bool
	hasData             bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, core.NewRunner(os.Stderr))
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, runner *core.Runner) int {
	cmd := newCommand(stdout, runner)
	if wantsVersion(cmd.Flags(), args) {
		fmt.Fprintln(stdout, versionString())
		return 0
	}
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	logger := log.New(stderr, "", 0)
	var usageErr *UsageError
	var transferErr *core.TransferError
	switch {
	case errors.As(err, &usageErr):
		logger.Print("ERROR: invalid arguments: ", usageErr)
		logger.Print()
		logger.Print("HELP: curlb -h")
		return exitUsage
	case errors.As(err, &transferErr):
		logger.Print("ERROR: ", transferErr)
		return transferErr.Code
	}
	logger.Print("ERROR: ", err)
	return core.CodeFailedInit
}

func newCommand(stdout io.Writer, runner *core.Runner) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "curlb [OPTIONS] URL",
		Short:         "Get statistics from a single HTTP/FTP request",
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Version {
				fmt.Fprintln(stdout, versionString())
				return nil
			}
			config, err := buildConfig(cmd, opts, args)
			if err != nil {
				return err
			}
			result, err := runner.Perform(cmd.Context(), config)
			if err != nil {
				return err
			}
			if err := onResult(stdout, config)(result); err != nil {
				return &core.TransferError{Code: core.CodeWriteError, Err: err}
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{err: err}
	})

	flags := cmd.Flags()
	flags.SortFlags = false
	flags.BoolVar(&opts.Compressed, "compressed", false, "Request compressed response")
	flags.BoolVarP(&opts.Insecure, "insecure", "k", false, "Allow insecure server connections when using SSL")
	flags.StringVarP(&opts.Request, "request", "X", "", "Specify request command to use")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "Make the operation more talkative")
	flags.IntVar(&opts.ConnectTimeout, "connect-timeout", core.DefaultConnectTimeoutSeconds, "Maximum time allowed for connection (seconds)")
	flags.IntVar(&opts.ConnectTimeoutMs, "connect-timeout-ms", 0, "Maximum time allowed for connection (milliseconds), overrides --connect-timeout")
	flags.StringVarP(&opts.Data, "data", "d", "", "HTTP POST data, FTP upload data")
	flags.StringVarP(&opts.WriteOut, "write-out", "w", "", "Write the response body to FILE")
	flags.StringArrayVarP(&opts.Headers, "header", "H", nil, "Pass custom header to server (\"Name: value\")")
	flags.BoolVarP(&opts.Location, "location", "L", false, "Follow redirects")
	flags.IntVar(&opts.MaxRedirs, "max-redirs", core.DefaultMaxRedirects, "Maximum number of redirects allowed")
	flags.StringVarP(&opts.Config, "config", "K", "", "Read default options from a YAML file")
	flags.BoolVarP(&opts.Version, "version", "V", false, "Show version number and quit")
	return cmd
}

func buildConfig(cmd *cobra.Command, opts *options, args []string) (*core.Config, error) {
	if opts.Config != "" {
		fc, err := loadFileConfig(opts.Config)
		if err != nil {
			return nil, &UsageError{err: err}
		}
		fc.apply(cmd.Flags(), opts)
	}

	switch len(args) {
	case 0:
		return nil, newUsageError("URL must be specified")
	case 1:
	default:
		return nil, newUsageError("only one URL can be specified: %s", strings.Join(args, " "))
	}

	config := core.NewConfig(args[0])
	config.Method = opts.Request
	config.Verbose = opts.Verbose
	config.Insecure = opts.Insecure
	config.Compressed = opts.Compressed
	config.ConnectTimeoutSeconds = opts.ConnectTimeout
	if cmd.Flags().Changed("connect-timeout-ms") || opts.hasConnectTimeoutMs {
		ms := opts.ConnectTimeoutMs
		config.ConnectTimeoutMillis = &ms
	}
	if cmd.Flags().Changed("data") || opts.hasData {
		data := opts.Data
		config.Body = &data
	}
	config.WriteOut = opts.WriteOut
	config.FollowLocation = opts.Location
	config.MaxRedirects = opts.MaxRedirs
	for _, h := range opts.Headers {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, newUsageError("invalid header: %q", h)
		}
		config.Header.Add(name, strings.TrimSpace(value))
	}
	if config.Header.Get("User-Agent") == "" {
		config.Header.Set("User-Agent", "curlb/"+Version.String())
	}
	if err := config.Validate(); err != nil {
		return nil, &UsageError{err: err}
	}
	return config, nil
}

func onResult(stdout io.Writer, config *core.Config) core.OnResultHandler {
	handlers := []core.OnResultHandler{adapters.InfoWriter(stdout)}
	if config.WriteOut != "" {
		handlers = append(handlers, adapters.BodyExporter(config.WriteOut))
	}
	return core.MergeOnResultHandlers(handlers...)
}

// wantsVersion finds -V anywhere before "--" so that it wins over invalid flags.
// The argument following a flag that takes a value is that value, never -V.
func wantsVersion(flags *pflag.FlagSet, args []string) bool {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--":
			return false
		case strings.HasPrefix(arg, "--"):
			name, _, inline := strings.Cut(arg[2:], "=")
			if name == "version" {
				return true
			}
			if f := flags.Lookup(name); f != nil && !inline && takesValue(f) {
				i++
			}
		case strings.HasPrefix(arg, "-"):
			for j := 1; j < len(arg); j++ {
				if arg[j] == 'V' {
					return true
				}
				f := flags.ShorthandLookup(arg[j : j+1])
				if f == nil || !takesValue(f) {
					continue
				}
				// the rest of arg, or the next argument, is the value
				if j == len(arg)-1 {
					i++
				}
				break
			}
		}
	}
	return false
}

func takesValue(f *pflag.Flag) bool {
	return f.NoOptDefVal == ""
}

func versionString() string {
	return fmt.Sprintf("curlb/%s %s (%s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
