// Command loadtest drives a running site node over its HTTP frontend with a
// generated operation mix and reports latency and outcome tallies.
package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline"
)

type outcome struct {
	status  ledger.Status
	latency time.Duration
	failed  bool
}

func main() {
	command := newLoadTestCommand()
	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLoadTestCommand() *cobra.Command {
	var targetURL string
	var requestCount int
	var workerCount int
	var bookCount int
	var userCount int
	var loanShare int
	var returnShare int
	var renewShare int
	var seed int64

	command := &cobra.Command{
		Use:          "loadtest",
		Short:        "Drive a site node with a generated request mix",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mix, mixErr := buildMix(loanShare, returnShare, renewShare)
			if mixErr != nil {
				return mixErr
			}

			return run(cmd.Context(), runConfig{
				targetURL:    targetURL,
				requestCount: requestCount,
				workerCount:  workerCount,
				bookCount:    bookCount,
				userCount:    userCount,
				mix:          mix,
				seed:         seed,
			})
		},
	}

	command.Flags().StringVar(&targetURL, "url", "http://localhost:8080/api/requests", "request endpoint of the site node")
	command.Flags().IntVar(&requestCount, "requests", 200, "total number of requests to send")
	command.Flags().IntVar(&workerCount, "workers", 8, "number of concurrent senders")
	command.Flags().IntVar(&bookCount, "books", 1000, "size of the seeded inventory, for code generation")
	command.Flags().IntVar(&userCount, "users", 500, "size of the user population")
	command.Flags().IntVar(&loanShare, "loans", 60, "share of LOAN requests in the mix")
	command.Flags().IntVar(&returnShare, "returns", 25, "share of RETURN requests in the mix")
	command.Flags().IntVar(&renewShare, "renewals", 15, "share of RENEW requests in the mix")
	command.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed for reproducible mixes")

	return command
}

type runConfig struct {
	targetURL    string
	requestCount int
	workerCount  int
	bookCount    int
	userCount    int
	mix          []ledger.OperationKind
	seed         int64
}

func buildMix(loanShare, returnShare, renewShare int) ([]ledger.OperationKind, error) {
	if loanShare < 0 || returnShare < 0 || renewShare < 0 || loanShare+returnShare+renewShare == 0 {
		return nil, fmt.Errorf("invalid operation mix %d/%d/%d", loanShare, returnShare, renewShare)
	}

	mix := make([]ledger.OperationKind, 0, loanShare+returnShare+renewShare)
	for i := 0; i < loanShare; i++ {
		mix = append(mix, ledger.OperationLoan)
	}
	for i := 0; i < returnShare; i++ {
		mix = append(mix, ledger.OperationReturn)
	}
	for i := 0; i < renewShare; i++ {
		mix = append(mix, ledger.OperationRenew)
	}

	return mix, nil
}

func run(ctx context.Context, cfg runConfig) error {
	frames := generateFrames(cfg)

	jobs := make(chan []byte)
	results := make(chan outcome, cfg.requestCount)
	client := &http.Client{Timeout: 30 * time.Second}

	var senders sync.WaitGroup
	for i := 0; i < cfg.workerCount; i++ {
		senders.Add(1)
		go func() {
			defer senders.Done()

			for frame := range jobs {
				results <- send(ctx, client, cfg.targetURL, frame)
			}
		}()
	}

	started := time.Now()
	for _, frame := range frames {
		jobs <- frame
	}
	close(jobs)

	senders.Wait()
	close(results)
	elapsed := time.Since(started)

	report(os.Stdout, results, cfg.requestCount, elapsed)

	return nil
}

func generateFrames(cfg runConfig) [][]byte {
	rng := rand.New(rand.NewSource(cfg.seed))
	frames := make([][]byte, 0, cfg.requestCount)

	for i := 0; i < cfg.requestCount; i++ {
		request := pipeline.ClientRequest{
			Operation:       string(cfg.mix[rng.Intn(len(cfg.mix))]),
			BookCode:        fmt.Sprintf("LIB%05d", rng.Intn(cfg.bookCount)+1),
			UserID:          fmt.Sprintf("USR%04d", rng.Intn(cfg.userCount)+1),
			ClientTimestamp: time.Now().UTC(),
		}

		frame, encodeErr := pipeline.EncodeClientRequest(request)
		if encodeErr != nil {
			panic(encodeErr)
		}

		frames = append(frames, frame)
	}

	return frames
}

func send(ctx context.Context, client *http.Client, targetURL string, frame []byte) outcome {
	started := time.Now()

	httpRequest, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(frame))
	if buildErr != nil {
		return outcome{failed: true, latency: time.Since(started)}
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, sendErr := client.Do(httpRequest)
	if sendErr != nil {
		return outcome{failed: true, latency: time.Since(started)}
	}
	defer func() { _ = httpResponse.Body.Close() }()

	var body bytes.Buffer
	if _, readErr := body.ReadFrom(httpResponse.Body); readErr != nil {
		return outcome{failed: true, latency: time.Since(started)}
	}

	envelope, decodeErr := pipeline.DecodeClientReply(body.Bytes())
	if decodeErr != nil {
		return outcome{failed: true, latency: time.Since(started)}
	}

	return outcome{status: envelope.Status, latency: time.Since(started)}
}

func report(out *os.File, results chan outcome, requestCount int, elapsed time.Duration) {
	tallies := map[ledger.Status]int{}
	transportFailures := 0
	latencies := make([]time.Duration, 0, requestCount)

	for result := range results {
		latencies = append(latencies, result.latency)

		if result.failed {
			transportFailures++
			continue
		}

		tallies[result.status]++
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	fmt.Fprintf(out, "requests:            %d in %s\n", requestCount, elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "  OK:                %d\n", tallies[ledger.StatusOK])
	fmt.Fprintf(out, "  RECHAZADO:         %d\n", tallies[ledger.StatusRejected])
	fmt.Fprintf(out, "  ERROR:             %d\n", tallies[ledger.StatusError])
	fmt.Fprintf(out, "  transport failures: %d\n", transportFailures)

	if len(latencies) > 0 {
		fmt.Fprintf(out, "latency p50:         %s\n", percentile(latencies, 50).Round(time.Microsecond))
		fmt.Fprintf(out, "latency p95:         %s\n", percentile(latencies, 95).Round(time.Microsecond))
		fmt.Fprintf(out, "latency max:         %s\n", latencies[len(latencies)-1].Round(time.Microsecond))
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := (len(sorted) - 1) * p / 100

	return sorted[index]
}
