package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mavleo96/remote-test-harness/internal/comm"
	"github.com/mavleo96/remote-test-harness/internal/config"
	"github.com/mavleo96/remote-test-harness/internal/harness"
	"github.com/mavleo96/remote-test-harness/internal/sandbox"
	"github.com/mavleo96/remote-test-harness/internal/transfer"
	log "github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

func main() {
	app := kingpin.New("harness", "Runs test requests in isolated sandboxes.")
	serveCmd := app.Command("serve", "Serve test requests.").Default()
	configPath := serveCmd.Flag("config", "Path to config file").Default("config.yaml").String()
	app.Command("sandbox", "Sandbox child entry, started by the harness.").Hidden()

	switch kingpin.MustParse(app.Parse(os.Args[1:])) {
	case "sandbox":
		os.Exit(sandbox.ChildMain())
	default:
		serve(*configPath)
	}
}

func serve(configPath string) {
	log.SetFormatter(&log.TextFormatter{TimestampFormat: "15:04.000", FullTimestamp: true})

	cfg, err := config.ParseConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	// Artifacts are fetched from and logs persisted to the repository stream service
	files, err := transfer.CreateClient(cfg.Repository.StreamAddress, cfg.Transfer.BlockSize)
	if err != nil {
		log.Fatal(err)
	}
	defer files.Close()

	spawner, err := sandbox.CreateSpawner(cfg.Harness.SandboxCommand)
	if err != nil {
		log.Fatal(err)
	}

	c, err := comm.CreateComm(harness.Author, cfg.Harness.Endpoint, comm.SenderOptions(cfg.Comm)...)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	th := harness.CreateTestHarness(cfg.Harness, c, files, files, spawner)
	th.Start(ctx)

	// Interrupt drains the queued requests, a second one cancels running sandboxes
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Infof("[TestHarness] shutting down")
		th.Stop()
		<-sigs
		cancel()
	}()

	th.Wait()
}
