package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mavleo96/remote-test-harness/internal/comm"
	"github.com/mavleo96/remote-test-harness/internal/config"
	"github.com/mavleo96/remote-test-harness/internal/models"
	"github.com/mavleo96/remote-test-harness/internal/repository"
	log "github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

func main() {
	app := kingpin.New("repository", "Stores test artifacts and result logs.")
	configPath := app.Flag("config", "Path to config file").Default("config.yaml").String()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	log.SetFormatter(&log.TextFormatter{TimestampFormat: "15:04.000", FullTimestamp: true})

	cfg, err := config.ParseConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	c, err := comm.CreateComm(repository.Name, cfg.Repository.Endpoint, comm.SenderOptions(cfg.Comm)...)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	repo, err := repository.CreateRepository(cfg.Repository, cfg.Transfer.BlockSize, c)
	if err != nil {
		c.Close()
		log.Fatal(err)
	}
	defer repo.Close()
	repo.Start()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		ep := c.Endpoint()
		c.Receiver.Enqueue(models.MakeQuitMessage(ep, ep))
	}()

	repo.Wait()
	log.Infof("[Repository] stopped")
}
