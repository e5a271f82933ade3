// Command recover-loadtest drives concurrent password recoveries against an
// identity service and prints per-step latency percentiles.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"

	goRecover "github.com/MrEthical07/goRecover"
	"github.com/MrEthical07/goRecover/gateway"
	"github.com/MrEthical07/goRecover/identity"
	"github.com/MrEthical07/goRecover/identity/httpapi"
	"github.com/MrEthical07/goRecover/internal/startup"
)

type loadConfig struct {
	Recoveries  int    `env:"LOADTEST_RECOVERIES"  envDefault:"2000"`
	Concurrency int    `env:"LOADTEST_CONCURRENCY" envDefault:"64"`
	Transport   string `env:"LOADTEST_TRANSPORT"   envDefault:"inprocess"`
	RedisURL    string `env:"LOADTEST_REDIS_URL"`
	TargetURL   string `env:"LOADTEST_TARGET_URL"`
	RateLimits  bool   `env:"LOADTEST_RATE_LIMITS" envDefault:"false"`
}

const loadPassword = "load-test-password"

func main() {
	var cfg loadConfig
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse env: %v\n", err)
		os.Exit(2)
	}
	flag.IntVar(&cfg.Recoveries, "recoveries", cfg.Recoveries, "number of recoveries to run")
	flag.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "number of concurrent workers")
	flag.StringVar(&cfg.Transport, "transport", cfg.Transport, "inprocess or http")
	flag.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "redis url; miniredis when empty")
	flag.StringVar(&cfg.TargetURL, "target", cfg.TargetURL, "remote identity service; only request-reset is driven")
	flag.BoolVar(&cfg.RateLimits, "rate-limits", cfg.RateLimits, "keep the service rate limits on")
	flag.Parse()

	if cfg.Recoveries <= 0 || cfg.Concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "recoveries and concurrency must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()
	if cfg.TargetURL != "" {
		if err := runRemote(ctx, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := runLocal(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// runRemote can only observe request-reset because passcodes are delivered
// out of band.
func runRemote(ctx context.Context, cfg loadConfig) error {
	gw, err := gateway.NewHTTP(cfg.TargetURL, gateway.HTTPOptions{Client: pooledClient(cfg.Concurrency)})
	if err != nil {
		return err
	}
	fmt.Printf("driving request-reset against %s\n", cfg.TargetURL)
	stats := runPhase(cfg.Recoveries, cfg.Concurrency, func(i int) (time.Duration, error) {
		t0 := time.Now()
		err := gw.RequestReset(ctx, emailFor(i))
		return time.Since(t0), err
	})
	fmt.Println("---- results ----")
	printStats("request", stats)
	return nil
}

func runLocal(ctx context.Context, cfg loadConfig) error {
	client, cleanup, err := openRedis(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer cleanup()

	book := newCodeBook()
	dir := identity.NewMemoryDirectory()
	svc, err := newService(client, dir, book, cfg.RateLimits)
	if err != nil {
		return err
	}
	defer svc.Close()

	fmt.Printf("seeding %d accounts...\n", cfg.Recoveries)
	startSeed := time.Now()
	hash, err := svc.HashPassword(loadPassword)
	if err != nil {
		return err
	}
	for i := 0; i < cfg.Recoveries; i++ {
		if _, err := dir.Add(ctx, emailFor(i), hash); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	var gw goRecover.Gateway
	switch cfg.Transport {
	case "inprocess":
		gw = gateway.NewInProcess(svc)
	case "http":
		baseURL, stop, err := serveLocal(svc)
		if err != nil {
			return err
		}
		defer stop()
		httpGW, err := gateway.NewHTTP(baseURL, gateway.HTTPOptions{Client: pooledClient(cfg.Concurrency)})
		if err != nil {
			return err
		}
		gw = httpGW
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	rec := newRecorder(cfg.Recoveries)
	start := time.Now()
	total := runPhase(cfg.Recoveries, cfg.Concurrency, func(i int) (time.Duration, error) {
		t0 := time.Now()
		err := recoverAccount(ctx, gw, book, emailFor(i), rec)
		return time.Since(t0), err
	})

	fmt.Println("---- results ----")
	fmt.Printf("wall=%s\n", time.Since(start).Round(time.Millisecond))
	printStats("request", computeStats(total.total, rec.samples("request"), 0))
	printStats("verify", computeStats(total.total, rec.samples("verify"), 0))
	printStats("commit", computeStats(total.total, rec.samples("commit"), 0))
	printStats("recovery", total)

	st := svc.Stats()
	fmt.Printf("service: accepted=%d verified=%d committed=%d replays=%d limited=%d\n",
		st.RequestAccepted, st.VerifySuccess, st.CommitSuccess, st.CommitReplay,
		st.RequestLimited+st.VerifyLimited)
	return nil
}

// recoverAccount walks one client session from request to done.
func recoverAccount(ctx context.Context, gw goRecover.Gateway, book *codeBook, email string, rec *recorder) error {
	store, err := goRecover.New().WithGateway(gw).Build()
	if err != nil {
		return err
	}
	defer store.Close()

	step := func(name string, fn func() error) error {
		t0 := time.Now()
		err := fn()
		rec.add(name, time.Since(t0))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if e := store.Snapshot().Err; e != nil {
			return fmt.Errorf("%s: %s", name, e.Message)
		}
		return nil
	}

	if err := step("request", func() error { return store.RequestReset(ctx, email) }); err != nil {
		return err
	}
	code, ok := book.take(email)
	if !ok {
		return errors.New("no passcode delivered")
	}
	if err := step("verify", func() error { return store.SubmitCode(ctx, code) }); err != nil {
		return err
	}
	if err := step("commit", func() error { return store.SubmitNewPassword(ctx, loadPassword, loadPassword) }); err != nil {
		return err
	}
	if s := store.Snapshot(); s.Step != goRecover.StepDone {
		return fmt.Errorf("ended at step %s", s.Step)
	}
	return nil
}

func newService(client redis.UniversalClient, dir identity.Directory, notifier identity.Notifier, rateLimits bool) (*identity.Service, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	cfg := identity.DefaultConfig()
	cfg.Token.PrivateKey = priv
	cfg.Audit.Enabled = false
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	if !rateLimits {
		cfg.Limits.MaxRequestsPerEmail = 0
		cfg.Limits.MaxRequestsPerIP = 0
		cfg.Limits.MaxVerifiesPerEmail = 0
		cfg.Limits.MaxVerifiesPerIP = 0
		cfg.Limits.MaxCommitsPerIP = 0
	}
	return identity.NewService(cfg, identity.Backends{
		Redis:     client,
		Directory: dir,
		Notifier:  notifier,
	})
}

func openRedis(ctx context.Context, url string) (redis.UniversalClient, func(), error) {
	if url == "" {
		url = os.Getenv("REDIS_URL")
	}
	if url == "" {
		client, stop, err := startup.StartMiniredis()
		if err != nil {
			return nil, nil, err
		}
		fmt.Println("using miniredis")
		return client, stop, nil
	}
	client, err := startup.ConnectRedisWithRetry(ctx, url, 10*time.Second)
	if err != nil {
		return nil, nil, err
	}
	fmt.Printf("using redis at %s\n", url)
	return client, func() { _ = client.Close() }, nil
}

// serveLocal exposes svc through the HTTP API on a loopback port.
func serveLocal(svc *identity.Service) (string, func(), error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}
	srv := &http.Server{Handler: httpapi.NewRouter(svc, httpapi.Options{}), ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return "http://" + ln.Addr().String(), stop, nil
}

func pooledClient(concurrency int) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = concurrency * 2
	tr.MaxIdleConnsPerHost = concurrency * 2
	return &http.Client{Transport: tr, Timeout: 30 * time.Second}
}

func emailFor(i int) string {
	return fmt.Sprintf("load-%d@example.com", i)
}

// codeBook captures passcodes as the service delivers them.
type codeBook struct {
	mu    sync.Mutex
	codes map[string]string
}

func newCodeBook() *codeBook {
	return &codeBook{codes: make(map[string]string)}
}

func (b *codeBook) Deliver(_ context.Context, email, code string) error {
	b.mu.Lock()
	b.codes[strings.ToLower(email)] = code
	b.mu.Unlock()
	return nil
}

func (b *codeBook) take(email string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := strings.ToLower(email)
	code, ok := b.codes[key]
	delete(b.codes, key)
	return code, ok
}

type recorder struct {
	mu     sync.Mutex
	phases map[string][]time.Duration
	hint   int
}

func newRecorder(hint int) *recorder {
	return &recorder{phases: make(map[string][]time.Duration), hint: hint}
}

func (r *recorder) add(phase string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.phases[phase]
	if !ok {
		s = make([]time.Duration, 0, r.hint)
	}
	r.phases[phase] = append(s, d)
}

func (r *recorder) samples(phase string) []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.phases[phase]...)
}

// runPhase runs fn for 0..ops-1 on concurrency workers.
func runPhase(ops, concurrency int, fn func(i int) (time.Duration, error)) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
		firstErr  string
		errOnce   sync.Once
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				d, err := fn(i)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					errOnce.Do(func() { firstErr = err.Error() })
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	if firstErr != "" {
		fmt.Printf("first failure: %s\n", firstErr)
	}
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
