package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/common/version"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/mzyy94/stylusctl/internal/config"
	"github.com/mzyy94/stylusctl/internal/escp"
	"github.com/mzyy94/stylusctl/internal/printer"
)

const appName = "stylusctl"

// Process exit codes.
const (
	exitOK        = 0
	exitNotReady  = 1
	exitUsage     = 2
	exitTransport = 3
	exitDecode    = 4
	exitStuck     = 5
	exitCancelled = 6
	exitProtocol  = 7
	exitBlocked   = 100
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	cancel()
	os.Exit(code)
}

type globalFlags struct {
	config   *string
	logLevel *string
	timeout  *time.Duration
}

func run(ctx context.Context, args []string, stdout io.Writer) int {
	app := kingpin.New(appName, "Maintenance and status tool for Epson inkjet printers on the network.")
	app.Version(version.Print(appName))
	app.HelpFlag.Short('h')

	g := globalFlags{
		config:   app.Flag("config", "YAML settings file.").PlaceHolder("FILE").String(),
		logLevel: app.Flag("log.level", "Log level: debug, info, warn, error.").Default("info").OverrideDefaultFromEnvar("STYLUSCTL_LOG_LEVEL").String(),
		timeout:  app.Flag("timeout", "SNMP query timeout (overrides the settings file).").Duration(),
	}

	runCmd := app.Command("run", "Clean and/or check nozzles, then verify the result.").Default()
	runHost := runCmd.Arg("printer", "Printer hostname or IP.").String()
	runOpts := runFlags{
		clean:   runCmd.Flag("clean", "Clean the group holding this nozzle colour.").Short('k').PlaceHolder("COLOUR").Enum(escp.ShortNames()...),
		power:   runCmd.Flag("power", "Power clean instead of a normal clean.").Short('P').Bool(),
		check:   runCmd.Flag("check", "Print a nozzle check pattern.").Short('c').Bool(),
		verbose: runCmd.Flag("verbose", "Report progress.").Short('v').Bool(),
		verify:  runCmd.Flag("verify", "Read the nozzle check result after the run.").Default("true").Bool(),
		report:  runCmd.Flag("report", "Write a PDF report to this file.").PlaceHolder("FILE").String(),
	}

	statusCmd := app.Command("status", "Show decoded printer status and the last nozzle check.")
	statusHost := statusCmd.Arg("printer", "Printer hostname or IP.").String()
	statusOpts := statusFlags{
		json:   statusCmd.Flag("json", "Print JSON.").Bool(),
		report: statusCmd.Flag("report", "Write a PDF report to this file.").PlaceHolder("FILE").String(),
	}

	discoverCmd := app.Command("discover", "Browse the local network for printers.")
	discoverOpts := discoverFlags{
		timeout: discoverCmd.Flag("browse-timeout", "How long to browse.").Default("5s").Duration(),
		all:     discoverCmd.Flag("all", "List printers from every vendor.").Bool(),
	}

	exporterCmd := app.Command("exporter", "Serve printer status as Prometheus metrics.")
	exporterOpts := exporterFlags{
		host:          exporterCmd.Flag("printer", "Printer hostname or IP.").OverrideDefaultFromEnvar("STYLUSCTL_PRINTER").String(),
		listenAddress: exporterCmd.Flag("web.listen-address", "Address to listen on for web interface and telemetry.").OverrideDefaultFromEnvar("STYLUSCTL_EXPORTER_ADDRESS").String(),
		metricsPath:   exporterCmd.Flag("web.telemetry-path", "Path under which to expose metrics.").String(),
		nozzles:       exporterCmd.Flag("nozzles", "Also export the last nozzle check result.").Bool(),
	}

	command, err := app.Parse(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: error: %v, try --help\n", appName, err)
		return exitUsage
	}

	level := parseLogLevel(*g.logLevel)
	if command == runCmd.FullCommand() && *runOpts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	settings, err := config.Load(*g.config)
	if err != nil {
		slog.Error("failed to load settings", "err", err)
		return exitUsage
	}
	if *g.timeout > 0 {
		settings.Printer.QueryTimeoutMs = int(g.timeout.Milliseconds())
	}

	switch command {
	case runCmd.FullCommand():
		err = runMaintenance(ctx, stdout, settings, *runHost, runOpts)
	case statusCmd.FullCommand():
		err = runStatus(ctx, stdout, settings, *statusHost, statusOpts)
	case discoverCmd.FullCommand():
		err = runDiscover(ctx, stdout, discoverOpts)
	case exporterCmd.FullCommand():
		err = runExporter(ctx, settings, exporterOpts)
	}
	return exitCode(err)
}

// usageError marks errors caused by the command line or settings.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

// outcomeError carries a non-zero exit status for a normal outcome that
// has already been reported to the user.
type outcomeError struct{ code int }

func (e *outcomeError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func resolveHost(arg string, settings config.Settings) (string, error) {
	if arg != "" {
		return arg, nil
	}
	if settings.Printer.Host != "" {
		return settings.Printer.Host, nil
	}
	return "", &usageError{"printer hostname or IP required"}
}

func printerOptions(s config.Settings) printer.Options {
	return printer.Options{
		SNMPPort:     s.Printer.SNMPPort,
		RawPort:      s.Printer.RawPort,
		QueryTimeout: s.Printer.QueryTimeout(),
		DialTimeout:  s.Printer.DialTimeout(),
		BusyInterval: s.Poll.BusyInterval(),
		IdleInterval: s.Poll.IdleInterval(),
		BusyAttempts: s.Poll.BusyAttempts,
		IdleAttempts: s.Poll.IdleAttempts,
	}
}

// exitCode maps an error returned by a command to the process exit status,
// logging it unless it was already reported.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var oe *outcomeError
	if errors.As(err, &oe) {
		return oe.code
	}
	slog.Error("command failed", "err", err)

	var (
		ue *usageError
		de *escp.DecodeError
		te *escp.TransportError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return exitCancelled
	case errors.Is(err, printer.ErrStuck):
		return exitStuck
	case errors.As(err, &de), errors.Is(err, escp.ErrNozzleCountMismatch):
		return exitDecode
	case errors.As(err, &te):
		return exitTransport
	case errors.Is(err, escp.ErrOutOfSequence):
		return exitProtocol
	case errors.As(err, &ue),
		errors.Is(err, escp.ErrNozzleNotFound),
		errors.Is(err, escp.ErrInvalidGroup),
		errors.Is(err, escp.ErrGroupNotFound):
		return exitUsage
	case errors.Is(err, context.DeadlineExceeded):
		return exitCancelled
	default:
		// local I/O such as writing a report
		return exitTransport
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
