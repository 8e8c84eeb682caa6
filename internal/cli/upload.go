package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	utils "uploadflow/internal"
	"uploadflow/internal/config"
	"uploadflow/internal/metrics"
	"uploadflow/internal/source"
	"uploadflow/internal/transport"
	"uploadflow/internal/upload"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

type uploadOptions struct {
	url          string
	profile      string
	profilesPath string
	method       string
	partSizeMB   int64
	maxParts     int
	concurrency  int
	retries      int
	batch        bool
	headers      []string
	metricsAddr  string
	rateLimit    float64
}

func newUploadCmd(g *globalOptions) *cobra.Command {
	o := &uploadOptions{}
	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload files, in multipart sessions when they exceed the part size",
		Long: "Upload files one after the other. A URL ending in / receives the file name.\n" +
			"Settings come from the named profile and are overridden by flags.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, g, o, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&o.url, "url", g.cfg.UploadURL, "Destination URL")
	flags.StringVarP(&o.profile, "profile", "p", "default", "Profile name")
	flags.StringVar(&o.profilesPath, "profiles", g.cfg.ProfilesPath, "Path to the profiles YAML file")
	flags.StringVar(&o.method, "method", upload.DefaultMethod, "HTTP method for direct uploads")
	flags.Int64Var(&o.partSizeMB, "part-size-mb", upload.DefaultPartSize>>20, "Preferred part size in MiB")
	flags.IntVar(&o.maxParts, "max-parts", upload.DefaultMaxParts, "Maximum number of parts per file")
	flags.IntVar(&o.concurrency, "concurrency", 0, "Concurrent parts per file (0 = all)")
	flags.IntVar(&o.retries, "retries", upload.DefaultPartRetries, "Retries per failed part")
	flags.BoolVar(&o.batch, "batch", false, "Start the next file as soon as one is uploaded")
	flags.StringArrayVarP(&o.headers, "header", "H", nil, "Request header as 'Name: Value' (repeatable)")
	flags.StringVar(&o.metricsAddr, "metrics-addr", g.cfg.MetricsAddr, "Serve Prometheus metrics on this address")
	flags.Float64Var(&o.rateLimit, "rate-limit", g.cfg.RateLimit, "Maximum requests per second (0 = unlimited)")

	return cmd
}

// resolveProfile merges the named profile with the flags set on cmd
func (o *uploadOptions) resolveProfile(cmd *cobra.Command, pc *config.ProfilesConfig) (*config.Profile, error) {
	p := pc.GetProfile(o.profile)
	flags := cmd.Flags()

	if flags.Changed("url") || p.URL == "" {
		p.URL = o.url
	}
	if flags.Changed("method") || p.Method == "" {
		p.Method = o.method
	}
	if flags.Changed("part-size-mb") {
		p.PartSizeMB = o.partSizeMB
	}
	if flags.Changed("max-parts") {
		p.MaxParts = o.maxParts
	}
	if flags.Changed("concurrency") {
		p.MaxConcurrentParts = o.concurrency
	}
	if flags.Changed("retries") {
		retries := o.retries
		p.PartRetries = &retries
	}
	if flags.Changed("batch") {
		p.Batch = o.batch
	}
	for _, raw := range o.headers {
		h, err := parseHeader(raw)
		if err != nil {
			return nil, err
		}
		p.Headers = append(p.Headers, h)
	}

	if p.URL == "" {
		return nil, errors.New("no upload url: set --url, UPLOAD_URL or a profile url")
	}
	return p, nil
}

func parseHeader(raw string) (upload.Header, error) {
	name, value, ok := strings.Cut(raw, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return upload.Header{}, fmt.Errorf("invalid header %q: expected 'Name: Value'", raw)
	}
	return upload.Header{Name: name, Value: strings.TrimSpace(value)}, nil
}

// destination appends the file name to directory-style URLs
func destination(base string, f *upload.File) string {
	if strings.HasSuffix(base, "/") {
		return base + url.PathEscape(f.Name)
	}
	return base
}

func runUpload(cmd *cobra.Command, g *globalOptions, o *uploadOptions, args []string) error {
	logger := g.logger
	pc, err := config.LoadProfiles(o.profilesPath)
	if err != nil {
		return err
	}
	profile, err := o.resolveProfile(cmd, pc)
	if err != nil {
		return err
	}

	opened, err := source.OpenAll(args)
	if err != nil {
		return err
	}
	defer source.CloseAll(opened)

	files := make([]*upload.File, len(opened))
	for i, op := range opened {
		files[i] = op.File
	}
	queue := upload.NewMemoryQueue(files...)

	notifiers := upload.MultiNotifier{newPrinter(cmd.OutOrStdout())}
	if o.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		notifiers = append(notifiers, metrics.MustNewRecorder(reg))
		stop := serveMetrics(o.metricsAddr, reg, logger)
		defer stop()
	}

	base := profile.UploadConfig()
	resolver := upload.FromFunc(func(f *upload.File) upload.UploadConfig {
		cfg := base
		cfg.URL = destination(base.URL, f)
		return cfg
	})
	tr := transport.New(
		transport.WithRateLimit(rate.Limit(o.rateLimit), 1),
		transport.WithLogger(logger),
	)
	opts := append(profile.SchedulerOptions(), upload.WithNotifier(notifiers), upload.WithLogger(logger))
	s := upload.NewScheduler(queue, resolver, tr, opts...)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stopSignals := utils.NotifyQuit()
	defer stopSignals()
	go func() {
		select {
		case <-utils.QuitChan:
			logger.Warn("Aborting uploads... 🛑")
			cancel()
			s.Abort()
		case <-ctx.Done():
		}
	}()

	if err := s.UploadAll(ctx); err != nil {
		// let aborted tasks settle before reporting
		settle, done := context.WithTimeout(context.Background(), 10*time.Second)
		_ = s.Wait(settle)
		done()
	}

	return summarize(cmd.OutOrStdout(), len(files), queue)
}

func summarize(w io.Writer, total int, queue *upload.MemoryQueue) error {
	uploaded := queue.Uploaded()
	failed := queue.ListQueued()
	fmt.Fprintf(w, "%d uploaded, %d failed\n", len(uploaded), len(failed))
	if len(failed) == 0 {
		return nil
	}
	names := make([]string, len(failed))
	for i, f := range failed {
		names[i] = f.Name
	}
	return fmt.Errorf("%d of %d uploads failed: %s", len(failed), total, strings.Join(names, ", "))
}

// printer reports upload events on the terminal
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) Notify(ev upload.Event) {
	var line string
	switch ev.Type {
	case upload.EventMultipartStarted:
		line = fmt.Sprintf("⬆️  %s: %d parts of %d bytes", ev.File.Name, ev.Session.PartCount(), ev.Session.PartSize)
	case upload.EventUploading:
		if ev.Session != nil {
			return
		}
		line = fmt.Sprintf("⬆️  %s: %d bytes", ev.File.Name, ev.File.Size)
	case upload.EventProgressParts:
		line = fmt.Sprintf("   %s: %d/%d parts", ev.File.Name, ev.Done, ev.Total)
	case upload.EventUploaded:
		line = fmt.Sprintf("✅ %s", ev.File.Name)
	case upload.EventFailed, upload.EventFactoryFailed:
		line = fmt.Sprintf("🚨 %s: %v", ev.File.Name, ev.Err)
	default:
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (stop func()) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
