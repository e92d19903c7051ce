package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"yuzu/voicegw/internal/config"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// Checker runs readiness probes against the gateway's collaborators.
// Redis is nil when neither memory nor the quota uses it.
type Checker struct {
	Redis  redis.UniversalClient
	Client *http.Client
}

func NewChecker(rdb redis.UniversalClient) *Checker {
	return &Checker{Redis: rdb, Client: &http.Client{Timeout: 3 * time.Second}}
}

// CheckAll runs all health checks and returns combined status
func (c *Checker) CheckAll(ctx context.Context, cfg config.Config) HealthStatus {
	checks := []CheckResult{
		c.checkLLM(ctx, cfg),
		c.checkTTS(ctx, cfg),
		checkASR(cfg),
	}
	if c.Redis != nil {
		checks = append(checks, c.checkRedis(ctx))
	}

	allOK := true
	for _, r := range checks {
		if !r.OK {
			allOK = false
		}
	}
	return HealthStatus{
		OK:        allOK,
		Checks:    checks,
		CheckedAt: time.Now().UTC(),
	}
}

func (c *Checker) checkRedis(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "redis"}
	err := c.Redis.Ping(ctx).Err()
	result.Latency = time.Since(start)
	if err != nil {
		result.Error = fmt.Sprintf("ping failed: %v", err)
		return result
	}
	result.OK = true
	return result
}

func (c *Checker) checkLLM(ctx context.Context, cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "llm"}

	if cfg.LLM.BaseURL == "" {
		result.Error = "llm.base_url not set"
		return result
	}
	if cfg.LLM.Model == "" {
		result.Error = "llm.model not set"
		return result
	}

	// /models is the cheapest authenticated call on OpenAI-compatible APIs
	url := strings.TrimSuffix(cfg.LLM.BaseURL, "/") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		return result
	}
	if cfg.LLM.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.LLM.APIKey)
	}
	return c.probe(req, result, start)
}

func (c *Checker) checkTTS(ctx context.Context, cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "tts"}

	if cfg.TTS.URL == "" {
		result.Error = "tts.url not set"
		return result
	}
	// A HEAD on the synthesis endpoint proves reachability without paying
	// for audio; any answer below 500 counts.
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, cfg.TTS.URL, nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		return result
	}
	if cfg.TTS.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.TTS.APIKey)
	}
	result = c.probe(req, result, start)
	if !result.OK && strings.HasPrefix(result.Error, "unexpected status 4") {
		result.OK, result.Error = true, ""
	}
	return result
}

func checkASR(cfg config.Config) CheckResult {
	result := CheckResult{Name: "asr"}
	if cfg.ASR.URL == "" {
		result.Error = "asr.url not set"
		return result
	}
	if cfg.ASR.Mode != "batch" && cfg.ASR.Mode != "stream" {
		result.Error = fmt.Sprintf("unknown asr.mode %q", cfg.ASR.Mode)
		return result
	}
	result.OK = true
	return result
}

func (c *Checker) probe(req *http.Request, result CheckResult, start time.Time) CheckResult {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	result.Latency = time.Since(start)

	if resp.StatusCode == http.StatusUnauthorized {
		result.Error = "invalid API key (401)"
		return result
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
		return result
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	result.OK = true
	return result
}
