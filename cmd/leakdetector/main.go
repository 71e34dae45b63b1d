package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"leakdetector/internal/biz"
	"leakdetector/internal/conf"
	"leakdetector/internal/pkg/logging"
	"leakdetector/internal/server"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/env"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "leakdetector"
	// Version is the version of the compiled software.
	Version string

	flagconf  string
	imagePath string
	imageURL  string
	historyOf string
	timeout   time.Duration
)

func init() {
	flag.StringVar(&flagconf, "conf", "configs/config.yaml", "config path, eg: -conf config.yaml")
	flag.StringVar(&imagePath, "image", "", "analyze this image file once, print the report as JSON and exit")
	flag.StringVar(&imageURL, "url", "", "public URL of -image for engines that search by URL")
	flag.StringVar(&historyOf, "history", "", "print the stored snapshots of this content hash and exit")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "deadline of a one-shot command")
}

type application struct {
	app      *kratos.App
	analysis *biz.AnalysisUsecase
}

func newApplication(logger log.Logger, gs *server.GRPCServer, uc *biz.AnalysisUsecase) *application {
	return &application{
		app: kratos.New(
			kratos.Name(Name),
			kratos.Version(Version),
			kratos.Logger(logger),
			kratos.Server(gs),
		),
		analysis: uc,
	}
}

func main() {
	flag.Parse()

	// a missing .env is fine
	_ = godotenv.Load()

	bc, err := loadConfig(flagconf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.With(logging.New(os.Stderr, bc.Log.Format, bc.Log.Level),
		"caller", log.DefaultCaller,
		"service.name", Name,
		"service.version", Version,
	)
	helper := log.NewHelper(logger)

	a, cleanup, err := wireApp(bc.Server, bc.Data, bc.Providers, bc.Analysis, logger)
	if err != nil {
		helper.Fatalf("failed to initialize: %v", err)
	}

	code := 0
	switch {
	case imagePath != "":
		code = runOnce(a.analysis, helper)
	case historyOf != "":
		code = printHistory(a.analysis, helper)
	default:
		if err := a.app.Run(); err != nil {
			helper.Errorf("app stopped: %v", err)
			code = 1
		}
	}
	cleanup()
	os.Exit(code)
}

func loadConfig(path string) (*conf.Bootstrap, error) {
	c := config.New(
		config.WithSource(
			env.NewSource("LEAKDETECTOR_"),
			file.NewSource(path),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		return nil, err
	}
	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		return nil, err
	}
	bc.EnsureSections()
	return &bc, nil
}

func runOnce(uc *biz.AnalysisUsecase, helper *log.Helper) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	report, err := uc.Analyze(ctx, biz.FileSource{Path: imagePath, URL: imageURL})
	if err != nil {
		helper.Errorf("analysis failed: %v", err)
		return 1
	}
	return printJSON(report, helper)
}

func printHistory(uc *biz.AnalysisUsecase, helper *log.Helper) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	snapshots, err := uc.History(ctx, historyOf, 0)
	if err != nil {
		helper.Errorf("failed to load history: %v", err)
		return 1
	}
	return printJSON(snapshots, helper)
}

func printJSON(v any, helper *log.Helper) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		helper.Errorf("failed to write output: %v", err)
		return 1
	}
	return 0
}
