package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mavleo96/remote-test-harness/internal/clientapp"
	"github.com/mavleo96/remote-test-harness/internal/comm"
	"github.com/mavleo96/remote-test-harness/internal/config"
	"github.com/mavleo96/remote-test-harness/internal/models"
	"github.com/mavleo96/remote-test-harness/internal/transfer"
	log "github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

const queryTimeout = 10 * time.Second

func main() {
	app := kingpin.New("client", "Submits test requests to the harness and queries the repository.")
	configPath := app.Flag("config", "Path to config file").Default("config.yaml").String()
	planPath := app.Flag("plan", "Test plan csv: set, test name, driver, [libraries]").String()
	requestPath := app.Flag("request", "Test request markup file").String()
	uploads := app.Flag("upload", "Comma separated artifacts to upload from the upload directory").String()
	query := app.Flag("query", "Text to search the stored logs for").String()
	interactive := app.Flag("interactive", "Wait for a command after each test set").Bool()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.ParseConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	// Load test sets before connecting
	var testSets []*clientapp.TestSet
	if *planPath != "" {
		records, err := clientapp.ReadCSV(*planPath)
		if err != nil {
			log.Fatal(err)
		}
		testSets, err = clientapp.ParseRecords(records)
		if err != nil {
			log.Fatal(err)
		}
	}
	if *requestPath != "" {
		data, err := os.ReadFile(*requestPath)
		if err != nil {
			log.Fatal(err)
		}
		set, err := parseRequestFile(string(data), int64(len(testSets)+1))
		if err != nil {
			log.Fatal(err)
		}
		testSets = append(testSets, set)
	}

	files, err := transfer.CreateClient(cfg.Repository.StreamAddress, cfg.Transfer.BlockSize)
	if err != nil {
		log.Fatal(err)
	}
	defer files.Close()

	c, err := comm.CreateComm(cfg.Client.Name, cfg.Client.Endpoint, comm.SenderOptions(cfg.Comm)...)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	client := clientapp.CreateClient(cfg, c, files)
	client.Start()
	defer client.Stop()

	ctx := context.Background()
	if *uploads != "" {
		names := strings.Split(*uploads, ",")
		sent := client.UploadArtifacts(ctx, names)
		log.Infof("[Client] uploaded %d of %d artifacts", sent, len(names))
	}

	reader := bufio.NewReader(os.Stdin)
mainLoop:
	for _, set := range testSets {
		outcome, err := client.ProcessTestSet(ctx, set)
		if err != nil {
			log.Warnf("[Client] set %d: %v", set.SetNumber, err)
		} else {
			clientapp.PrintOutcome(os.Stdout, outcome)
		}
		if !*interactive {
			continue
		}

		// Interaction loop
	interactionLoop:
		for {
			fmt.Print("> ")
			line, err := reader.ReadString('\n')
			if err != nil {
				break mainLoop
			}
			cmd := strings.TrimSpace(line)
			switch {
			case cmd == "next":
				break interactionLoop
			case cmd == "exit":
				break mainLoop
			case strings.HasPrefix(cmd, "query "):
				runQuery(ctx, client, strings.TrimPrefix(cmd, "query "))
			default:
				continue interactionLoop
			}
		}
	}

	if *query != "" {
		runQuery(ctx, client, *query)
	}
	log.Info("Exiting...")
}

func runQuery(ctx context.Context, client *clientapp.Client, text string) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	hits, err := client.QueryLogs(ctx, text)
	if err != nil {
		log.Warnf("[Client] query %q: %v", text, err)
		return
	}
	clientapp.PrintQueryResults(os.Stdout, text, hits)
}

// parseRequestFile turns a request markup file into a single test set
func parseRequestFile(body string, setNumber int64) (*clientapp.TestSet, error) {
	units, err := models.ParseTestRequest(body)
	if err != nil {
		return nil, err
	}
	set := &clientapp.TestSet{SetNumber: setNumber}
	for _, u := range units {
		set.Tests = append(set.Tests, models.TestElement{Name: u.Name, Driver: u.Driver(), Libraries: u.Files[1:]})
	}
	return set, nil
}
