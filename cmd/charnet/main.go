package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/menta2k/charnet"
	"github.com/menta2k/charnet/internal/config"
	"github.com/menta2k/charnet/internal/logging"
	"github.com/menta2k/charnet/internal/system"
	"github.com/menta2k/charnet/pkg/pipeline"
)

func main() {
	var configPath, stages, runID, backend, url, visionModel, out string
	var hourglass bool

	flag.StringVar(&configPath, "config", "", "config file (yaml or json), defaults to "+config.GetConfigPath()+" when present")
	flag.StringVar(&stages, "stages", "", "comma separated stages: preprocessing,detection,classification (default all)")
	flag.StringVar(&runID, "run", "", "run id naming the weights folders (default: new uuid)")
	flag.StringVar(&backend, "backend", "", "framework backend: remote, ollama or llamacpp")
	flag.StringVar(&url, "url", "", "backend server URL")
	flag.StringVar(&visionModel, "vision-model", "", "vision model for the ollama and llamacpp backends")
	flag.BoolVar(&hourglass, "hourglass", false, "use the stacked hourglass detector")
	flag.StringVar(&out, "out", "", "predictions CSV path")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if runID != "" {
		cfg.Run.RunID = runID
	}
	if cfg.Run.RunID == "" {
		cfg.Run.RunID = uuid.NewString()
	}
	if backend != "" {
		cfg.Run.Backend = backend
	}
	if url != "" {
		cfg.Run.BackendURL = url
	}
	if visionModel != "" {
		cfg.Run.VisionModel = visionModel
	}
	if out != "" {
		cfg.Run.PredictionsPath = out
	}

	// Tee every log line into the run log
	w := io.Writer(os.Stderr)
	if cfg.Run.LogDir != "" {
		if err := os.MkdirAll(cfg.Run.LogDir, 0o755); err != nil {
			log.Fatal(err)
		}
		f, err := os.OpenFile(filepath.Join(cfg.Run.LogDir, cfg.Run.RunID+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		w = io.MultiWriter(os.Stderr, f)
	}
	logs := logging.New(w)

	logs.Execution.Printf("charnet %s, run %s, backend %s", charnet.Version, cfg.Run.RunID, cfg.Run.Backend)
	system.LogResources(logs.Execution)

	framework, err := charnet.NewFramework(cfg, logs.Test)
	if err != nil {
		logs.Execution.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var selected []string
	if stages != "" {
		for _, st := range strings.Split(stages, ",") {
			if st = strings.TrimSpace(st); st != "" {
				selected = append(selected, st)
			}
		}
	}

	res, err := charnet.Run(ctx, cfg, framework, charnet.Options{
		Stages:    selected,
		Hourglass: hourglass,
		Session:   []pipeline.Option{pipeline.WithLoggers(logs)},
	})
	if errors.Is(err, pipeline.ErrAborted) {
		logs.Execution.Printf("Aborting after user command!")
		stop()
		os.Exit(1)
	}
	if err != nil {
		logs.Execution.Fatal(err)
	}

	if res.Predictions == nil {
		logs.Execution.Printf("Run %s finished, no test predictions", cfg.Run.RunID)
		return
	}
	if err := pipeline.WritePredictions(cfg.Run.PredictionsPath, res.TestCrops, res.Predictions, res.Vocabulary); err != nil {
		logs.Execution.Fatal(err)
	}
	logs.Execution.Printf("wrote %d predictions to %s", len(res.Predictions), cfg.Run.PredictionsPath)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if p := config.GetConfigPath(); fileExists(p) {
			path = p
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
