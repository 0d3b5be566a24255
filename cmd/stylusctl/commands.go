package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"

	"github.com/mzyy94/stylusctl/internal/config"
	"github.com/mzyy94/stylusctl/internal/escp"
	"github.com/mzyy94/stylusctl/internal/exporter"
	"github.com/mzyy94/stylusctl/internal/printer"
	"github.com/mzyy94/stylusctl/internal/report"
)

type runFlags struct {
	clean   *string
	power   *bool
	check   *bool
	verbose *bool
	verify  *bool
	report  *string
}

func runMaintenance(ctx context.Context, out io.Writer, settings config.Settings, host string, f runFlags) error {
	host, err := resolveHost(host, settings)
	if err != nil {
		return err
	}
	req := printer.Request{
		Clean:  *f.clean,
		Power:  *f.power,
		Check:  *f.check,
		Verify: *f.verify,
	}
	if req.Power && req.Clean == "" {
		return &usageError{"--power requires --clean"}
	}

	opts := printerOptions(settings)
	issued := 0
	opts.Hooks = printer.Hooks{
		OnState: func(s printer.State) {
			switch s {
			case printer.StateIssuingCommand:
				issued++
				if issued == 1 && req.Clean != "" {
					n, _ := escp.NozzleByShortName(req.Clean)
					fmt.Fprintf(out, "Cleaning nozzles %s...\n", n.Group)
				} else {
					fmt.Fprintln(out, "Running nozzle check...")
				}
			case printer.StateWaitingForBusy:
				if *f.verbose {
					fmt.Fprintln(out, "Waiting for printer to start...")
				}
			}
		},
		OnStatus: func(s printer.State, st *escp.StatusRecord) {
			if !*f.verbose {
				return
			}
			switch s {
			case printer.StateCheckingReadiness:
				fmt.Fprintln(out, "Printer status:", st.StatusText)
			case printer.StateWaitingForIdle:
				fmt.Fprintln(out, "Status:", st.StatusText)
			}
		},
	}

	p := printer.New(host, opts)
	res, err := p.Run(ctx, req)
	if err != nil {
		return err
	}

	code := exitOK
	switch res.Outcome {
	case printer.OutcomeNotReady:
		fmt.Fprintln(out, "Printer not ready.")
		code = exitNotReady
	case printer.OutcomeNothingToDo:
		fmt.Fprintln(out, "Nothing to do.")
	case printer.OutcomeDone:
		fmt.Fprintln(out, "Done.")
	case printer.OutcomeAllClear:
		fmt.Fprintln(out, "Nozzles OK")
	case printer.OutcomeBlocked:
		names := make([]string, len(res.Blocked))
		for i, n := range res.Blocked {
			names[i] = fmt.Sprintf("%s (%s)", n.Long, n.Short)
		}
		fmt.Fprintln(out, "Blocked:", strings.Join(names, ", "))
		code = exitBlocked
	}

	if *f.report != "" {
		r := report.Report{
			Host:    host,
			Status:  res.Status,
			Nozzles: res.Nozzles,
			Outcome: res.Outcome.String(),
		}
		if res.Cleaned != 0 {
			r.Cleaned = res.Cleaned.String()
		}
		if err := report.Write(*f.report, r); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		slog.Info("report written", "path", *f.report)
	}

	if code != exitOK {
		return &outcomeError{code}
	}
	return nil
}

type statusFlags struct {
	json   *bool
	report *string
}

// statusView is the JSON form of the status command output.
type statusView struct {
	Host        string            `json:"host"`
	Status      int               `json:"status"`
	StatusText  string            `json:"statusText"`
	Ready       bool              `json:"ready"`
	Serial      string            `json:"serial,omitempty"`
	Inks        []inkView         `json:"inks,omitempty"`
	Tanks       []int             `json:"tanks,omitempty"`
	ErrorCode   string            `json:"errorCode,omitempty"`
	WarningCode string            `json:"warningCode,omitempty"`
	Unknown     map[string]string `json:"unknown,omitempty"`
	Nozzles     map[string]bool   `json:"blockedNozzles,omitempty"`
}

type inkView struct {
	Colour string `json:"colour"`
	ID     int    `json:"id"`
	Level  int    `json:"level"`
}

func newStatusView(host string, st *escp.StatusRecord, nc escp.NozzleCheckResult) statusView {
	v := statusView{
		Host:        host,
		Status:      int(st.Status),
		StatusText:  st.StatusText,
		Ready:       st.Ready,
		ErrorCode:   hex.EncodeToString(st.ErrorCode),
		WarningCode: hex.EncodeToString(st.WarningCode),
	}
	if st.Serial != nil {
		v.Serial = *st.Serial
	}
	for _, ink := range st.Inks {
		v.Inks = append(v.Inks, inkView{Colour: ink.Name, ID: int(ink.ColourID), Level: int(ink.Level)})
	}
	if st.Tanks != nil {
		v.Tanks = []int{int(st.Tanks.Tank1), int(st.Tanks.Tank2)}
	}
	for _, u := range st.Unknown {
		if v.Unknown == nil {
			v.Unknown = make(map[string]string)
		}
		v.Unknown[fmt.Sprintf("0x%02X", u.Type)] = hex.EncodeToString(u.Raw)
	}
	if len(nc) == escp.NozzleCount {
		v.Nozzles = make(map[string]bool, len(nc))
		for i, n := range escp.Nozzles() {
			v.Nozzles[n.Short] = nc[i]
		}
	}
	return v
}

func runStatus(ctx context.Context, out io.Writer, settings config.Settings, host string, f statusFlags) error {
	host, err := resolveHost(host, settings)
	if err != nil {
		return err
	}
	p := printer.New(host, printerOptions(settings))

	st, err := p.Status(ctx)
	if err != nil {
		return err
	}
	nc, err := p.NozzleCheck(ctx)
	if err != nil {
		slog.Warn("nozzle check result unavailable", "err", err)
		nc = nil
	}

	if *f.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(newStatusView(host, st, nc)); err != nil {
			return err
		}
	} else {
		printStatus(out, st, nc)
	}

	if *f.report != "" {
		if err := report.Write(*f.report, report.Report{Host: host, Status: st, Nozzles: nc}); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		slog.Info("report written", "path", *f.report)
	}
	return nil
}

func printStatus(out io.Writer, st *escp.StatusRecord, nc escp.NozzleCheckResult) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()

	ready := "no"
	if st.Ready {
		ready = "yes"
	}
	fmt.Fprintf(w, "Status:\t%s (%d)\n", st.StatusText, st.Status)
	fmt.Fprintf(w, "Ready:\t%s\n", ready)
	if st.Serial != nil {
		fmt.Fprintf(w, "Serial:\t%s\n", *st.Serial)
	}
	if st.ErrorCode != nil {
		fmt.Fprintf(w, "Error code:\t% x\n", st.ErrorCode)
	}
	if st.WarningCode != nil {
		fmt.Fprintf(w, "Warning code:\t% x\n", st.WarningCode)
	}
	if st.Tanks != nil {
		fmt.Fprintf(w, "Maintenance tanks:\t%d / %d\n", st.Tanks.Tank1, st.Tanks.Tank2)
	}
	for _, ink := range st.Inks {
		fmt.Fprintf(w, "Ink %s:\t%d%%\n", ink.Name, ink.Level)
	}
	for _, u := range st.Unknown {
		fmt.Fprintf(w, "Field 0x%02X:\t% x\n", u.Type, u.Raw)
	}
	if len(nc) == escp.NozzleCount {
		for i, n := range escp.Nozzles() {
			state := "OK"
			if nc[i] {
				state = "BLOCKED"
			}
			fmt.Fprintf(w, "Nozzle %s (%s):\t%s\n", n.Long, n.Short, state)
		}
	}
}

type discoverFlags struct {
	timeout *time.Duration
	all     *bool
}

func runDiscover(ctx context.Context, out io.Writer, f discoverFlags) error {
	printers, err := escp.Discover(ctx, escp.DiscoveryOptions{Timeout: *f.timeout})
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()
	found := 0
	for _, pi := range printers {
		if !*f.all && !pi.IsEpson() {
			continue
		}
		found++
		fmt.Fprintf(w, "%s\t%s\t%s\n", pi.Host(), pi.Model, pi.Instance)
	}
	if found == 0 {
		slog.Info("no printers found")
	}
	return nil
}

type exporterFlags struct {
	host          *string
	listenAddress *string
	metricsPath   *string
	nozzles       *bool
}

func runExporter(ctx context.Context, settings config.Settings, f exporterFlags) error {
	host, err := resolveHost(*f.host, settings)
	if err != nil {
		return err
	}
	addr := *f.listenAddress
	if addr == "" {
		addr = settings.Exporter.ListenAddress
	}
	metricsPath := *f.metricsPath
	if metricsPath == "" {
		metricsPath = settings.Exporter.TelemetryPath
	}

	slog.Info("starting "+appName, "version", version.Info(), "build", version.BuildContext())

	p := printer.New(host, printerOptions(settings))
	reg := prometheus.NewRegistry()
	reg.MustRegister(exporter.New(p, settings.Printer.QueryTimeout(), *f.nozzles))
	reg.MustRegister(version.NewCollector("stylus_exporter"))

	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
<head><title>Stylus Exporter</title></head>
<body>
<h1>Stylus Exporter</h1>
<p><a href='` + metricsPath + `'>Metrics</a></p>
</body>
</html>`))
	})

	server := &http.Server{Addr: addr, Handler: logMiddleware(mux)}
	errc := make(chan error, 1)
	go func() {
		slog.Info("exporter listening", "addr", addr, "printer", host, "path", metricsPath)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error", "err", err)
	}
	return nil
}

// responseRecorder captures the status code for logging.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(rec, r)
		slog.Debug("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}
