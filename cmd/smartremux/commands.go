package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/notstpa/smartremux/internal/batch"
	"github.com/notstpa/smartremux/internal/config"
	"github.com/notstpa/smartremux/internal/ffmpeg"
	"github.com/notstpa/smartremux/internal/history"
	"github.com/notstpa/smartremux/internal/logging"
	"github.com/notstpa/smartremux/internal/model"
	"github.com/notstpa/smartremux/internal/plan"
	"github.com/notstpa/smartremux/internal/probe"
	"github.com/notstpa/smartremux/internal/scan"
	"github.com/notstpa/smartremux/internal/tui"
	"github.com/notstpa/smartremux/internal/watch"
)

var (
	flagOutput     string
	flagContainer  string
	flagAudio      string
	flagCFR        string
	flagPostAction string
	flagWorkers    int
	flagRetries    int
	flagOverwrite  bool
	flagTimestamps bool
	flagCancelMode string
	flagPlain      bool
	flagNoHistory  bool

	scanPreview  bool
	historyLimit int
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run [DIR]",
		Short: "Remux every video file under a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRun,
	}
	addBatchFlags(runCmd)
	runCmd.Flags().BoolVar(&flagPlain, "plain", false, "log progress instead of the TUI")
	rootCmd.AddCommand(runCmd)

	// scan command
	scanCmd := &cobra.Command{
		Use:   "scan [DIR]",
		Short: "Probe candidate files without remuxing",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runScan,
	}
	addBatchFlags(scanCmd)
	scanCmd.Flags().BoolVar(&scanPreview, "preview", false, "print the ffmpeg command per file")
	rootCmd.AddCommand(scanCmd)

	// watch command
	watchCmd := &cobra.Command{
		Use:   "watch [DIR]",
		Short: "Watch a directory and remux files as they settle",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatch,
	}
	addBatchFlags(watchCmd)
	rootCmd.AddCommand(watchCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history [BATCH]",
		Short: "Show recent batches, or per-file results for one batch",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of batches to show")
	rootCmd.AddCommand(historyCmd)
}

func addBatchFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output directory (default: next to each source)")
	cmd.Flags().StringVar(&flagContainer, "container", "", "target container: mp4 or mov")
	cmd.Flags().StringVar(&flagAudio, "audio", "", "audio policy: all or none")
	cmd.Flags().StringVar(&flagCFR, "cfr-fix", "", "frame-rate normalization: auto, on, or off")
	cmd.Flags().StringVar(&flagPostAction, "post-action", "", "original file handling: keep, move, or delete")
	cmd.Flags().IntVar(&flagWorkers, "workers", 0, "parallel remux count (default: CPU count)")
	cmd.Flags().IntVar(&flagRetries, "retries", 0, "remux retry count per file")
	cmd.Flags().BoolVar(&flagOverwrite, "overwrite", false, "replace existing outputs")
	cmd.Flags().BoolVar(&flagTimestamps, "preserve-timestamps", false, "copy source times onto the output")
	cmd.Flags().StringVar(&flagCancelMode, "cancel-mode", "", "cancellation behavior: drain or kill")
	cmd.Flags().BoolVar(&flagNoHistory, "no-history", false, "skip the history journal")
}

// loadConfig builds the effective config: file, then flags, then the
// positional directory.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	if len(args) > 0 {
		cfg.InputDir = args[0]
	}
	if cfg.InputDir == "" {
		cfg.InputDir = "."
	}
	if verbose {
		cfg.Verbose = true
	}

	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.OutputDir = flagOutput
	}
	if flags.Changed("container") {
		cfg.Container = model.Container(flagContainer)
	}
	if flags.Changed("audio") {
		cfg.Audio = model.AudioPolicy(flagAudio)
	}
	if flags.Changed("cfr-fix") {
		cfg.CFR = model.CFRPolicy(flagCFR)
	}
	if flags.Changed("post-action") {
		cfg.PostAction = model.PostAction(flagPostAction)
	}
	if flags.Changed("workers") {
		cfg.Workers = flagWorkers
	}
	if flags.Changed("retries") {
		cfg.Retries = flagRetries
	}
	if flags.Changed("overwrite") {
		cfg.Overwrite = flagOverwrite
	}
	if flags.Changed("preserve-timestamps") {
		cfg.PreserveTimestamps = flagTimestamps
	}
	if flags.Changed("cancel-mode") {
		cfg.CancelMode = model.CancelMode(flagCancelMode)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, quietStderr bool) (*logging.Logger, error) {
	opts := logging.Options{File: cfg.LogFile}
	if cfg.Verbose {
		opts.Level = "debug"
	}
	if quietStderr {
		// The TUI owns the terminal; logs go to the file sink or nowhere.
		if cfg.LogFile == "" {
			return logging.Discard(), nil
		}
		opts.Output = io.Discard
	}
	return logging.New(opts)
}

func openJournal(cfg *config.Config, log *logging.Logger) *history.Journal {
	if flagNoHistory {
		return nil
	}
	path := cfg.HistoryPath
	if path == "" {
		path = config.DefaultHistoryPath()
	}
	if path == "" {
		return nil
	}
	j, err := history.Open(path)
	if err != nil {
		log.Warn("history disabled", "error", err)
		return nil
	}
	return j
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	useTUI := !flagPlain
	log, err := newLogger(cfg, useTUI)
	if err != nil {
		return err
	}
	defer log.Close()

	tools, err := ffmpeg.Locate(cfg.FFmpegPath, cfg.FFprobePath)
	if err != nil {
		return err
	}

	files, err := scan.Discover(cfg)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No video files found.")
		return nil
	}

	journal := openJournal(cfg, log)
	if journal != nil {
		defer journal.Close()
	}

	scheduler := batch.New(cfg, batch.DefaultStages(cfg, tools), log, journal)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var report *batch.Report
	if useTUI {
		report, err = runWithTUI(ctx, scheduler, files)
	} else {
		report, err = runPlain(ctx, scheduler, files, log)
	}
	if err != nil {
		return err
	}

	printSummary(report)
	if n := report.State.Failed; n > 0 {
		return fmt.Errorf("%d file(s) failed", n)
	}
	return nil
}

func runWithTUI(ctx context.Context, scheduler *batch.Scheduler, files []string) (*batch.Report, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	app := tui.NewApp(len(files), cancel, scheduler)
	p := tea.NewProgram(app)

	reportCh := make(chan *batch.Report, 1)
	go func() {
		report, _ := scheduler.Run(runCtx, files, func(ev batch.Event) {
			p.Send(tui.EventMsg{Event: ev})
		})
		reportCh <- report
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-reportCh
		return nil, fmt.Errorf("failed to run progress view: %w", err)
	}
	return <-reportCh, nil
}

func runPlain(ctx context.Context, scheduler *batch.Scheduler, files []string, log *logging.Logger) (*batch.Report, error) {
	return scheduler.Run(ctx, files, func(ev batch.Event) {
		switch e := ev.(type) {
		case batch.FileStarted:
			log.Info("remuxing", "file", filepath.Base(e.Path), "n", fmt.Sprintf("%d/%d", e.Index, e.Total))
		case batch.FileFinished:
			r := e.Result
			switch r.Status {
			case model.StatusDone:
				log.Info("remuxed", "file", filepath.Base(r.Path),
					"elapsed", r.Elapsed.Round(time.Millisecond),
					"size", humanize.Bytes(uint64(r.BytesOut)))
			case model.StatusSkipped:
				log.Info("skipped, output exists", "file", filepath.Base(r.Path))
			case model.StatusCancelled:
				log.Warn("cancelled", "file", filepath.Base(r.Path))
			default:
				log.Error("failed", "file", filepath.Base(r.Path), "stage", r.Stage, "error", r.Err)
			}
		}
	})
}

func printSummary(report *batch.Report) {
	state := report.State
	fmt.Printf("\nRemuxed %d of %d file(s) in %s",
		state.Done, state.Total, state.Elapsed().Round(time.Second))
	if state.Skipped > 0 {
		fmt.Printf(", %d skipped", state.Skipped)
	}
	if state.Failed > 0 {
		fmt.Printf(", %d failed", state.Failed)
	}
	if state.Cancelled > 0 {
		fmt.Printf(", %d cancelled", state.Cancelled)
	}
	fmt.Println()

	if state.BytesIn > 0 {
		fmt.Printf("Input %s, output %s\n",
			humanize.Bytes(uint64(state.BytesIn)), humanize.Bytes(uint64(state.BytesOut)))
	}
	printFrameRates(report.FrameRates)

	for _, r := range state.Results {
		if r.Status == model.StatusFailed {
			fmt.Printf("  failed: %s (%s): %v\n", r.Path, r.Stage, r.Err)
		}
	}
}

func printFrameRates(rates map[string]int) {
	if len(rates) == 0 {
		return
	}
	fmt.Println("Detected frame rates:")
	for _, fps := range batch.SortedRates(rates) {
		fmt.Printf("  %s fps: %d file(s)\n", fps, rates[fps])
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer log.Close()

	tools, err := ffmpeg.Locate(cfg.FFmpegPath, cfg.FFprobePath)
	if err != nil {
		return err
	}

	files, err := scan.Discover(cfg)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No video files found.")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prober := probe.New(tools.FFprobe, cfg.ProbeTimeout())

	type scanned struct {
		mf  *model.MediaFile
		err error
	}
	results := make(map[string]scanned, len(files))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(cfg.WorkerCount())
	for _, path := range files {
		p := path
		g.Go(func() error {
			mf, err := prober.Probe(ctx, p)
			mu.Lock()
			results[p] = scanned{mf: mf, err: err}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	rates := make(map[string]int)
	var totalSize int64
	var bad int

	for _, path := range files {
		r := results[path]
		if r.err != nil {
			bad++
			fmt.Printf("  %-60s unreadable: %v\n", relTo(cfg.InputDir, path), r.err)
			continue
		}
		totalSize += r.mf.Size
		if fps := r.mf.FPS(); fps > 0 {
			rates[batch.FormatRate(fps)]++
		}

		profile := string(r.mf.Profile)
		fmt.Printf("  %-60s %8s  %s %s\n", relTo(cfg.InputDir, path),
			humanize.Bytes(uint64(r.mf.Size)), r.mf.VideoCodec, profile)

		if scanPreview {
			printPreview(cfg, tools, r.mf)
		}
	}

	fmt.Printf("\n%d file(s), %s total", len(files), humanize.Bytes(uint64(totalSize)))
	if bad > 0 {
		fmt.Printf(", %d unreadable", bad)
	}
	fmt.Println()
	printFrameRates(rates)
	return nil
}

// printPreview shows the exact remux invocation for one probed file.
func printPreview(cfg *config.Config, tools ffmpeg.Tools, mf *model.MediaFile) {
	job, err := plan.Build(cfg, mf)
	if err != nil {
		fmt.Printf("    cannot remux: %v\n", err)
		return
	}
	args := ffmpeg.BuildArgs(job, ffmpeg.TempPath(job.OutputPath))
	fmt.Printf("    %s %s\n", tools.FFmpeg, strings.Join(args, " "))
}

func relTo(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer log.Close()

	tools, err := ffmpeg.Locate(cfg.FFmpegPath, cfg.FFprobePath)
	if err != nil {
		return err
	}

	journal := openJournal(cfg, log)
	if journal != nil {
		defer journal.Close()
	}

	scheduler := batch.New(cfg, batch.DefaultStages(cfg, tools), log, journal)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The watcher hands settled batches to a queue so slow remuxes never
	// back up event processing.
	queue := make(chan []string, 16)
	watcher, err := watch.New(cfg, log, func(paths []string) {
		select {
		case queue <- paths:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}
	defer watcher.Close()

	go watcher.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nStopped watching.")
			return nil
		case paths := <-queue:
			log.Info("processing settled files", "count", len(paths))
			report, err := runPlain(ctx, scheduler, paths, log)
			if err != nil {
				return err
			}
			printSummary(report)
		}
	}
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	path := cfg.HistoryPath
	if path == "" {
		path = config.DefaultHistoryPath()
	}
	journal, err := history.Open(path)
	if err != nil {
		return err
	}
	defer journal.Close()

	ctx := context.Background()

	if len(args) > 0 {
		return printBatchDetail(ctx, journal, args[0])
	}

	batches, err := journal.RecentBatches(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		fmt.Println("No batches recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tBATCH\tDIR\tFILES\tDONE\tSKIPPED\tFAILED\tSIZE")
	for _, b := range batches {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			b.StartedAt.Local().Format("2006-01-02 15:04"),
			shortID(b.ID), b.InputDir, b.Total, b.Done, b.Skipped, b.Failed,
			humanize.Bytes(uint64(b.BytesOut)))
	}
	return w.Flush()
}

func printBatchDetail(ctx context.Context, journal *history.Journal, prefix string) error {
	batches, err := journal.RecentBatches(ctx, 1000)
	if err != nil {
		return err
	}

	var id string
	for _, b := range batches {
		if strings.HasPrefix(b.ID, prefix) {
			id = b.ID
			break
		}
	}
	if id == "" {
		return fmt.Errorf("no batch matching %q", prefix)
	}

	results, err := journal.BatchResults(ctx, id)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tFILE\tELAPSED\tSIZE\tERROR")
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Status, filepath.Base(r.Path), r.Elapsed.Round(time.Millisecond),
			humanize.Bytes(uint64(r.BytesOut)), errText)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
