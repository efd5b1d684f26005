package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/imghost/abuseguard/internal/config"
	"github.com/imghost/abuseguard/internal/db"
	"github.com/imghost/abuseguard/internal/models"
	"github.com/imghost/abuseguard/internal/observability"
	"github.com/imghost/abuseguard/internal/token"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	server          string
	users           int
	tierCSV         string
	totalReq        int
	conc            int
	duration        time.Duration
	rate            float64
	failureRate     float64
	uploadRate      float64
	badFileRate     float64
	stats           bool
	flush           bool
	redisAddr       string
	debug           bool
	label           string
	surgeInterval   time.Duration
	surgeDuration   time.Duration
	surgeMultiplier float64
	jitter          float64
	serviceToken    string
)

var logger *zap.Logger

// HTTP client with proper resource limits
var httpClient *http.Client

var (
	tiers      = []string{"free", "premium"}
	endpoints  = []string{"/register", "/login", "/upload"}
	userAgents = []string{
		// Mobile
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 12; Pixel 6 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.5735.196 Mobile Safari/537.36",

		// Desktop
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_3_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
		"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:111.0) Gecko/20100101 Firefox/111.0",

		// Scripts
		"python-requests/2.31.0",
		"curl/8.4.0",
	}
	userIPs = []string{
		"192.0.2.1",
		"198.51.100.1",
		"203.0.113.1",
	}
)

// sample payloads for the upload path
var (
	pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}
	exeHeader = []byte{'M', 'Z', 0x90, 0x00, 0x03, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00}
)

const statsInterval = 5 * time.Second

var (
	countSent        uint64
	countAllowed     uint64
	countRateLimited uint64
	countSuspended   uint64
	countRejected    uint64
	countUnavailable uint64
	countErrors      uint64
)

type checkReq struct {
	UserID     string `json:"user_id,omitempty"`
	Tier       string `json:"tier,omitempty"`
	Endpoint   string `json:"endpoint"`
	Identifier string `json:"identifier,omitempty"`
	IP         string `json:"ip"`
	UserAgent  string `json:"user_agent"`
}

type authReq struct {
	Identifier  string `json:"identifier"`
	AttemptType string `json:"attempt_type"`
	IP          string `json:"ip"`
	UserAgent   string `json:"user_agent"`
}

func main() {
	flag.StringVar(&server, "server", "http://localhost:8790", "admission service base URL")
	flag.IntVar(&users, "users", 100, "number of unique users")
	flag.StringVar(&tierCSV, "tiers", "free,premium", "comma-separated user tiers")
	flag.IntVar(&totalReq, "requests", 1000, "total requests to send")
	flag.IntVar(&conc, "concurrency", 20, "concurrent requests")
	flag.DurationVar(&duration, "duration", 0, "how long to run traffic (0 to disable)")
	flag.Float64Var(&rate, "rate", 0, "requests per second (0 for unlimited)")
	flag.Float64Var(&failureRate, "failure-rate", 0.1, "probability of reporting a failed login instead of a check")
	flag.Float64Var(&uploadRate, "upload-rate", 0.2, "probability of screening an upload instead of a check")
	flag.Float64Var(&badFileRate, "bad-file-rate", 0.05, "probability an upload is an executable disguised as an image")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.BoolVar(&flush, "flush", false, "flush redis counters and lockouts before sending traffic")
	flag.StringVar(&redisAddr, "redis", "", "redis address (defaults to REDIS_ADDR)")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.DurationVar(&surgeInterval, "surge-interval", 0, "interval between traffic surges (0 to disable)")
	flag.DurationVar(&surgeDuration, "surge-duration", 0, "duration of each surge window")
	flag.Float64Var(&surgeMultiplier, "surge-multiplier", 2.0, "requests multiplier during surge period")
	flag.Float64Var(&jitter, "jitter", 0.0, "random jitter factor for request spacing")
	flag.StringVar(&serviceToken, "token", "", "service bearer token (minted from TOKEN_SECRET when empty)")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	var err error
	logger, err = observability.InitLoggerWithLevel(level, "traffic-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			MaxConnsPerHost:       50, // Limit connections per host
			IdleConnTimeout:       90 * time.Second,
		},
	}

	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}

	if serviceToken == "" {
		secret := config.Load().TokenSecret
		if secret == "" {
			logger.Fatal("service token required: pass -token or set TOKEN_SECRET")
		}
		serviceToken, err = token.Generate("traffic-simulator", token.RoleService, []byte(secret))
		if err != nil {
			logger.Fatal("mint service token", zap.Error(err))
		}
	}

	if flush {
		flushRedis()
	}

	if tierCSV != "" {
		tiers = strings.Split(tierCSV, ",")
		for i := range tiers {
			tiers[i] = strings.TrimSpace(tiers[i])
		}
	}

	var (
		rmu sync.Mutex
		r   = rand.New(rand.NewSource(time.Now().UnixNano()))
	)
	randFloat := func() float64 {
		rmu.Lock()
		defer rmu.Unlock()
		return r.Float64()
	}
	randIntn := func(n int) int {
		rmu.Lock()
		defer rmu.Unlock()
		return r.Intn(n)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, conc)
	done := make(chan struct{})

	var baseInterval time.Duration
	if rate > 0 {
		baseInterval = time.Duration(float64(time.Second) / rate)
	} else if duration > 0 && totalReq > 0 {
		baseInterval = duration / time.Duration(totalReq)
	}

	start := time.Now()
	next := start

	if stats {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					printStats()
				case <-done:
					printStats()
					return
				}
			}
		}()
	}
	for i := 0; ; i++ {
		if totalReq > 0 && i >= totalReq {
			break
		}
		if duration > 0 && time.Since(start) >= duration {
			break
		}
		if baseInterval > 0 {
			effective := baseInterval
			if surgeInterval > 0 && surgeDuration > 0 && surgeMultiplier > 0 {
				elapsed := time.Since(start)
				if elapsed%surgeInterval < surgeDuration {
					effective = time.Duration(float64(effective) / surgeMultiplier)
				}
			}
			if jitter > 0 {
				jf := 1 + (randFloat()*2-1)*jitter
				if jf < 0.1 {
					jf = 0.1
				}
				effective = time.Duration(float64(effective) * jf)
			}
			now := time.Now()
			if now.Before(next) {
				time.Sleep(next.Sub(now))
			}
			next = next.Add(effective)
		}
		wg.Add(1)
		sem <- struct{}{}

		userID := fmt.Sprintf("user%d", randIntn(users))
		tier := tiers[randIntn(len(tiers))]
		ua := userAgents[randIntn(len(userAgents))]
		ip := userIPs[randIntn(len(userIPs))]
		roll := randFloat()
		bad := randFloat() < badFileRate

		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			atomic.AddUint64(&countSent, 1)

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			var (
				req *http.Request
				err error
			)
			switch {
			case roll < failureRate:
				req, err = jsonRequest(ctx, "/v1/auth/failures", authReq{
					Identifier:  userID + "@example.com",
					AttemptType: models.AttemptLogin,
					IP:          ip,
					UserAgent:   ua,
				})
			case roll < failureRate+uploadRate:
				req, err = uploadRequest(ctx, userID, tier, bad)
			default:
				ep := endpoints[randIntn(len(endpoints))]
				body := checkReq{Endpoint: ep, IP: ip, UserAgent: ua}
				if ep == "/login" {
					body.Identifier = userID + "@example.com"
				}
				if ep == "/upload" {
					body.UserID, body.Tier = userID, tier
				}
				req, err = jsonRequest(ctx, "/v1/admission/check", body)
			}
			if err != nil {
				atomic.AddUint64(&countErrors, 1)
				logger.Error("request build error", zap.Error(err))
				return
			}
			req.Header.Set("User-Agent", ua)
			req.Header.Set("X-Forwarded-For", ip)
			req.Header.Set("Authorization", "Bearer "+serviceToken)

			resp, err := httpClient.Do(req)
			if err != nil {
				atomic.AddUint64(&countErrors, 1)
				logger.Error("request error", zap.String("path", req.URL.Path), zap.Error(err))
				return
			}
			bodyBytes, err := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if err != nil {
				atomic.AddUint64(&countErrors, 1)
				logger.Error("read body error", zap.Error(err))
				return
			}
			record(req.URL.Path, userID, resp.StatusCode, bodyBytes)
		}()
	}
	wg.Wait()
	close(done)
	if !stats {
		printStats()
	}
}

func jsonRequest(ctx context.Context, path string, v any) (*http.Request, error) {
	blob, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+path, bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// uploadRequest builds a multipart screening request. A bad upload carries a
// PE header under a .jpg name.
func uploadRequest(ctx context.Context, userID, tier string, bad bool) (*http.Request, error) {
	name, mime, content := "photo.png", "image/png", pngHeader
	if bad {
		name, mime, content = "photo.jpg", "image/jpeg", exeHeader
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, name))
	h.Set("Content-Type", mime)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+"/v1/uploads/screen", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", userID)
	req.Header.Set("X-User-Tier", tier)
	return req, nil
}

func record(path, userID string, status int, body []byte) {
	switch status {
	case http.StatusOK, http.StatusNoContent:
		atomic.AddUint64(&countAllowed, 1)
		logger.Debug("allowed", zap.String("path", path), zap.String("user", userID))
	case http.StatusTooManyRequests:
		atomic.AddUint64(&countRateLimited, 1)
		logger.Debug("rate limited", zap.String("path", path), zap.String("user", userID), zap.ByteString("body", body))
	case http.StatusForbidden:
		atomic.AddUint64(&countSuspended, 1)
	case http.StatusBadRequest:
		atomic.AddUint64(&countRejected, 1)
		logger.Debug("rejected", zap.String("path", path), zap.ByteString("body", body))
	case http.StatusServiceUnavailable:
		atomic.AddUint64(&countUnavailable, 1)
	default:
		atomic.AddUint64(&countErrors, 1)
		logger.Error("unexpected status", zap.String("path", path), zap.Int("status", status), zap.String("body", strings.TrimSpace(string(body))))
	}
}

// flushRedis removes counters and lockout records, leaving everything else.
func flushRedis() {
	cfg := config.Load()
	addr := redisAddr
	if addr == "" {
		addr = cfg.RedisAddr
	}
	store, err := db.InitRedis(addr)
	if err != nil {
		logger.Fatal("redis connect", zap.Error(err))
	}
	defer store.Close()

	patterns := []string{
		models.CounterKeyPrefix + "*",
		"lockout:*",
	}

	flushedCount := 0
	for _, pattern := range patterns {
		keys, err := store.Client.Keys(store.Ctx, pattern).Result()
		if err != nil {
			logger.Error("failed to get keys for pattern", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		if len(keys) > 0 {
			if err := store.Client.Del(store.Ctx, keys...).Err(); err != nil {
				logger.Error("failed to delete keys", zap.String("pattern", pattern), zap.Error(err))
				continue
			}
			flushedCount += len(keys)
		}
	}
	logger.Info("redis admission state flushed",
		zap.String("addr", addr),
		zap.Int("keys_deleted", flushedCount))
}

func printStats() {
	sent := atomic.LoadUint64(&countSent)
	allowed := atomic.LoadUint64(&countAllowed)
	limited := atomic.LoadUint64(&countRateLimited)
	var denyRate float64
	if sent > 0 {
		denyRate = float64(limited) / float64(sent)
	}
	logger.Info("stats",
		zap.String("run", label),
		zap.Uint64("sent", sent),
		zap.Uint64("allowed", allowed),
		zap.Uint64("rate_limited", limited),
		zap.Uint64("suspended", atomic.LoadUint64(&countSuspended)),
		zap.Uint64("rejected", atomic.LoadUint64(&countRejected)),
		zap.Uint64("unavailable", atomic.LoadUint64(&countUnavailable)),
		zap.Uint64("errors", atomic.LoadUint64(&countErrors)),
		zap.Float64("limited_ratio", denyRate))
}
