// Command loadtest registers a batch of users against a running relay, opens
// one websocket per user and measures how long each echo takes.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/johndosdos/relay/internal/logging"
	"github.com/johndosdos/relay/internal/model"
)

const maxAuthAttempts = 10

var errRateLimited = errors.New("rate limited")

type result struct {
	latencies []time.Duration
	err       error
}

func main() {
	addr := flag.String("addr", "http://localhost:3000", "base URL of the relay")
	clients := flag.Int("clients", 10, "number of concurrent users")
	messages := flag.Int("messages", 20, "messages sent per user")
	authLimit := flag.Int("auth-limit", 10, "auth requests allowed per window, match the server's AUTH_RATE_LIMIT (0 = unpaced)")
	authWindow := flag.Duration("auth-window", time.Minute, "auth rate window, match the server's AUTH_RATE_WINDOW")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall deadline")
	flag.Parse()

	slog.SetDefault(logging.New("loadtest", "info"))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	run := uuid.NewString()[:8]
	results := make([]result, *clients)

	// Every client shares one source address, so the server's per-IP auth
	// limit applies to the whole run.
	pacer := newAuthPacer(*authLimit, *authWindow)

	start := time.Now()
	var wg sync.WaitGroup
	for i := range *clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			username := fmt.Sprintf("load-%s-%d", run, i)
			lat, err := runClient(ctx, *addr, username, *messages, pacer)
			results[i] = result{latencies: lat, err: err}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	var all []time.Duration
	failed := 0
	for i, r := range results {
		if r.err != nil {
			failed++
			slog.Error("client failed", "client", i, "error", r.err)
		}
		all = append(all, r.latencies...)
	}

	if len(all) == 0 {
		slog.Error("no messages echoed")
		os.Exit(1)
	}

	slices.Sort(all)
	var sum time.Duration
	for _, d := range all {
		sum += d
	}

	slog.Info("load test finished",
		"clients", *clients,
		"failed_clients", failed,
		"echoes", len(all),
		"elapsed", elapsed.String(),
		"throughput_per_sec", float64(len(all))/elapsed.Seconds(),
		"avg", (sum / time.Duration(len(all))).String(),
		"p50", percentile(all, 50).String(),
		"p99", percentile(all, 99).String(),
		"max", all[len(all)-1].String())

	if failed > 0 {
		os.Exit(1)
	}
}

// newAuthPacer mirrors the server's token bucket for /register and /login.
func newAuthPacer(limit int, window time.Duration) *rate.Limiter {
	if limit <= 0 || window <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
}

func runClient(ctx context.Context, addr, username string, messages int, pacer *rate.Limiter) ([]time.Duration, error) {
	const password = "loadtest-password"

	creds := map[string]string{"username": username, "password": password}
	if _, err := authCall(ctx, pacer, addr+"/register", creds); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	body, err := authCall(ctx, pacer, addr+"/login", creds)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	token, _ := body["token"].(string)
	if token == "" {
		return nil, fmt.Errorf("login: no token in response")
	}

	wsURL := "ws" + strings.TrimPrefix(addr, "http") + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	latencies := make([]time.Duration, 0, messages)
	for n := range messages {
		content := fmt.Sprintf("%s message %d", username, n)
		p, err := json.Marshal(map[string]string{"content": content})
		if err != nil {
			return latencies, err
		}

		sent := time.Now()
		if err := conn.Write(ctx, websocket.MessageText, p); err != nil {
			return latencies, fmt.Errorf("write: %w", err)
		}

		_, reply, err := conn.Read(ctx)
		if err != nil {
			return latencies, fmt.Errorf("read: %w", err)
		}

		var frame model.OutboundFrame
		if err := json.Unmarshal(reply, &frame); err != nil {
			return latencies, fmt.Errorf("decode reply: %w", err)
		}
		if frame.Content != content {
			return latencies, fmt.Errorf("unexpected echo %q", frame.Content)
		}
		latencies = append(latencies, time.Since(sent))
	}

	conn.Close(websocket.StatusNormalClosure, "done")
	return latencies, nil
}

// authCall waits for the pacer and retries a 429 after one refill interval.
func authCall(ctx context.Context, pacer *rate.Limiter, url string, payload any) (map[string]any, error) {
	backoff := 500 * time.Millisecond
	if l := pacer.Limit(); l != rate.Inf && l > 0 {
		backoff = time.Duration(float64(time.Second) / float64(l))
	}

	var err error
	for range maxAuthAttempts {
		if err := pacer.Wait(ctx); err != nil {
			return nil, err
		}

		var body map[string]any
		body, err = postJSON(ctx, url, payload)
		if !errors.Is(err, errRateLimited) {
			return body, err
		}

		slog.DebugContext(ctx, "auth request throttled, retrying", "url", url, "backoff", backoff.String())
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, err
}

func postJSON(ctx context.Context, url string, payload any) (map[string]any, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(p))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return out, fmt.Errorf("status %d: %w", resp.StatusCode, errRateLimited)
	case resp.StatusCode != http.StatusOK:
		return out, fmt.Errorf("status %d: %v", resp.StatusCode, out["error"])
	}
	return out, nil
}

func percentile(sorted []time.Duration, p int) time.Duration {
	idx := (len(sorted)*p + 99) / 100
	if idx > 0 {
		idx--
	}
	return sorted[idx]
}
