package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type simulatePayload struct {
	Format             string  `json:"format,omitempty"`
	Source             string  `json:"source"`
	SuccessProbability float64 `json:"success_probability"`
	Instant            bool    `json:"instant"`
}

// simulateOutcome is the part of a /simulate response the report uses.
type simulateOutcome struct {
	Lifecycle string `json:"lifecycle"`
	TimedOut  bool   `json:"timed_out"`
	Metrics   struct {
		TotalReactions int `json:"total_reactions"`
	} `json:"metrics"`
}

const defaultScenario = `digraph engine_room_fire {
  id="engine_room_fire"
  detect [layer=system, kind=condition, title="Smoke detected", duration_ms=400, automated=true]
  alarm [layer=system, title="Sound general alarm", duration_ms=200, automated=true]
  assess [layer=ai, kind=decision, title="Assess fire spread", duration_ms=800, automated=true]
  muster [layer=crew, title="Muster fire team", duration_ms=3000, actor="Chief Officer"]
  co2 [layer=crew, kind=decision, title="Release CO2 system", duration_ms=1500, actor="Chief Engineer"]
  detect -> alarm
  detect -> assess
  alarm -> muster
  assess -> co2
}`

type result struct {
	latency time.Duration
	status  int
	err     error
	outcome simulateOutcome
}

// fire posts one simulation and decodes the outcome of a 2xx response.
func fire(client *http.Client, url string, body []byte) result {
	start := time.Now()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return result{latency: time.Since(start), err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return result{latency: time.Since(start), err: err}
	}
	defer resp.Body.Close()

	res := result{status: resp.StatusCode}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(&res.outcome); err != nil {
			res.err = fmt.Errorf("decode response: %w", err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	res.latency = time.Since(start)
	return res
}

type report struct {
	latencies  []time.Duration
	success2xx int
	non2xx     int
	errs       int
	timedOut   int
	reactions  int
	lifecycles map[string]int
}

func summarize(results []result) report {
	rep := report{
		latencies:  make([]time.Duration, 0, len(results)),
		lifecycles: map[string]int{},
	}
	for _, r := range results {
		rep.latencies = append(rep.latencies, r.latency)
		if r.err != nil {
			rep.errs++
			continue
		}
		if r.status < 200 || r.status >= 300 {
			rep.non2xx++
			continue
		}
		rep.success2xx++
		rep.lifecycles[r.outcome.Lifecycle]++
		rep.reactions += r.outcome.Metrics.TotalReactions
		if r.outcome.TimedOut {
			rep.timedOut++
		}
	}
	sort.Slice(rep.latencies, func(i, j int) bool { return rep.latencies[i] < rep.latencies[j] })
	return rep
}

// unfinished counts simulations that ended in any lifecycle but finished.
func (r report) unfinished() int {
	return r.success2xx - r.lifecycles["finished"]
}

func (r report) writeOutcomes(w io.Writer) {
	names := make([]string, 0, len(r.lifecycles))
	for name := range r.lifecycles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "- lifecycle_%s: %d\n", name, r.lifecycles[name])
	}
	fmt.Fprintf(w, "- timed_out: %d\n", r.timedOut)
	if r.success2xx > 0 {
		fmt.Fprintf(w, "- avg_reactions: %.2f\n", float64(r.reactions)/float64(r.success2xx))
	}
}

func main() {
	url := flag.String("url", "http://localhost:8080/simulate", "simulate endpoint URL")
	scenarioFile := flag.String("scenario", "", "scenario file to post (defaults to a built-in DOT scenario)")
	p90Target := flag.Duration("p90", 30*time.Millisecond, "P90 latency target")
	rps := flag.Int("rps", 50, "target requests per second")
	duration := flag.Duration("duration", 60*time.Second, "test duration")
	workers := flag.Int("workers", 50, "number of concurrent workers")
	timeout := flag.Duration("timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	if *rps <= 0 || *duration <= 0 || *workers <= 0 {
		fmt.Fprintln(os.Stderr, "rps, duration and workers must be > 0")
		os.Exit(2)
	}

	payload := simulatePayload{Source: defaultScenario, SuccessProbability: 0.9, Instant: true}
	if *scenarioFile != "" {
		raw, err := os.ReadFile(*scenarioFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read scenario: %v\n", err)
			os.Exit(1)
		}
		payload.Source = string(raw)
		payload.Format = strings.TrimPrefix(filepath.Ext(*scenarioFile), ".")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal payload: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: *timeout}
	jobs := make(chan struct{}, *workers)

	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make([]result, 0, *rps*int(duration.Seconds())+1)

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				res := fire(client, *url, body)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}()
	}

	ticker := time.NewTicker(time.Second / time.Duration(*rps))
	defer ticker.Stop()
	deadline := time.Now().Add(*duration)
	for now := range ticker.C {
		if now.After(deadline) {
			break
		}
		jobs <- struct{}{}
	}
	close(jobs)
	wg.Wait()

	rep := summarize(results)
	if len(rep.latencies) == 0 {
		fmt.Fprintln(os.Stderr, "no requests executed")
		os.Exit(1)
	}

	p90 := percentile(rep.latencies, 90)
	achievedRPS := float64(len(rep.latencies)) / duration.Seconds()

	fmt.Printf("Simulation load test finished\n")
	fmt.Printf("- target_rps: %d\n", *rps)
	fmt.Printf("- achieved_rps: %.2f\n", achievedRPS)
	fmt.Printf("- duration: %s\n", duration.String())
	fmt.Printf("- requests: %d\n", len(rep.latencies))
	fmt.Printf("- 2xx: %d\n", rep.success2xx)
	fmt.Printf("- non_2xx: %d\n", rep.non2xx)
	fmt.Printf("- errors: %d\n", rep.errs)
	rep.writeOutcomes(os.Stdout)
	fmt.Printf("- avg_ms: %.3f\n", ms(average(rep.latencies)))
	fmt.Printf("- p50_ms: %.3f\n", ms(percentile(rep.latencies, 50)))
	fmt.Printf("- p90_ms: %.3f\n", ms(p90))
	fmt.Printf("- p99_ms: %.3f\n", ms(percentile(rep.latencies, 99)))

	minRPS := float64(*rps) * 0.98
	if achievedRPS >= minRPS && p90 < *p90Target && rep.errs == 0 && rep.non2xx == 0 && rep.unfinished() == 0 {
		fmt.Printf("PASS: meets %d RPS and P90 < %s, every simulation finished\n", *rps, *p90Target)
		return
	}

	fmt.Println("FAIL: does not meet target (request errors or unfinished simulations)")
	os.Exit(1)
}

func percentile(items []time.Duration, p int) time.Duration {
	if len(items) == 0 {
		return 0
	}
	idx := (len(items) - 1) * p / 100
	return items[idx]
}

func average(items []time.Duration) time.Duration {
	if len(items) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range items {
		total += d
	}
	return total / time.Duration(len(items))
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
