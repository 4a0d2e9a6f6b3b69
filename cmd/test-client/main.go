// Package main provides a standalone CLI tool for submitting test messages
// through the mail-dispatch REST API. It mints a client token from the
// signing key, supports delayed sends, batch sending with rate limiting, and
// cancelling each message right after submission.
//
// Usage:
//
//	test-client --signing-key "$KEY" --from sender@example.com --to recipient@example.com
//	test-client --token "$JWT" --delay 10m --cancel --to recipient@example.com --from sender@example.com
//	test-client --count 10 --rate 5 --from sender@example.com --to recipient@example.com
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sungwon/mail-dispatch/internal/auth"
	"github.com/sungwon/mail-dispatch/internal/message"
)

type config struct {
	api        string
	token      string
	signingKey string
	client     string
	issuer     string
	audience   string
	from       string
	to         stringSlice
	subject    string
	body       string
	html       bool
	delay      time.Duration
	attempts   int
	cancel     bool
	count      int
	rate       float64
}

// stringSlice implements flag.Value for repeatable --to flags.
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

type sendRequest struct {
	Email    *message.Envelope `json:"email"`
	DelayMS  int64             `json:"delay_ms,omitempty"`
	Attempts int               `json:"attempts,omitempty"`
}

func main() {
	cfg := parseFlags()

	if cfg.from == "" {
		fmt.Fprintln(os.Stderr, "error: --from is required")
		flag.Usage()
		os.Exit(2)
	}
	if len(cfg.to) == 0 {
		fmt.Fprintln(os.Stderr, "error: at least one --to is required")
		flag.Usage()
		os.Exit(2)
	}

	token := cfg.token
	if token == "" {
		if cfg.signingKey == "" {
			fmt.Fprintln(os.Stderr, "error: one of --token or --signing-key is required")
			os.Exit(2)
		}
		var err error
		token, err = auth.NewJWTService(auth.JWTConfig{
			SigningKey:  cfg.signingKey,
			TokenExpiry: time.Hour,
			Issuer:      cfg.issuer,
			Audience:    cfg.audience,
		}).GenerateToken(cfg.client)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: mint token: %v\n", err)
			os.Exit(2)
		}
	}

	fmt.Printf("Dispatch Test Client\n")
	fmt.Printf("  API:      %s\n", cfg.api)
	fmt.Printf("  Client:   %s\n", cfg.client)
	fmt.Printf("  From:     %s\n", cfg.from)
	fmt.Printf("  To:       %s\n", strings.Join(cfg.to, ", "))
	fmt.Printf("  Delay:    %s\n", cfg.delay)
	fmt.Printf("  Count:    %d\n", cfg.count)
	if cfg.count > 1 {
		fmt.Printf("  Rate:     %.1f messages/sec\n", cfg.rate)
	}
	fmt.Println()

	c := &apiClient{base: strings.TrimRight(cfg.api, "/"), token: token, http: &http.Client{Timeout: 30 * time.Second}}

	var (
		successCount int
		failCount    int
		totalSend    time.Duration
	)

	interval := time.Duration(0)
	if cfg.count > 1 && cfg.rate > 0 {
		interval = time.Duration(float64(time.Second) / cfg.rate)
	}

	for i := 0; i < cfg.count; i++ {
		if i > 0 && interval > 0 {
			time.Sleep(interval)
		}

		seq := i + 1
		subject := cfg.subject
		body := cfg.body
		if cfg.count > 1 {
			subject = fmt.Sprintf("%s [%d/%d]", cfg.subject, seq, cfg.count)
			body = fmt.Sprintf("%s\n\n-- Message %d of %d --", cfg.body, seq, cfg.count)
		}

		env := &message.Envelope{From: cfg.from, To: cfg.to, Subject: subject}
		if cfg.html {
			env.HTML = body
		} else {
			env.Text = body
		}

		sendStart := time.Now()
		id, err := c.submit(sendRequest{Email: env, DelayMS: cfg.delay.Milliseconds(), Attempts: cfg.attempts})
		if err == nil && cfg.cancel {
			err = c.cancel(id)
		}
		sendDuration := time.Since(sendStart)
		totalSend += sendDuration

		if err != nil {
			failCount++
			fmt.Printf("  [%d/%d] FAIL (%s): %v\n", seq, cfg.count, sendDuration, err)
		} else {
			successCount++
			fmt.Printf("  [%d/%d] OK   (%s) %s\n", seq, cfg.count, sendDuration, id)
		}
	}

	fmt.Println()
	fmt.Printf("Results: %d accepted, %d failed, total time %s\n", successCount, failCount, totalSend)

	if failCount > 0 {
		os.Exit(1)
	}
}

func parseFlags() config {
	var cfg config

	flag.StringVar(&cfg.api, "api", "http://localhost:8080", "Dispatch API base URL")
	flag.StringVar(&cfg.token, "token", "", "Bearer token (overrides --signing-key)")
	flag.StringVar(&cfg.signingKey, "signing-key", os.Getenv("MAIL_DISPATCH_AUTH_SIGNING_KEY"), "HS256 key used to mint a client token")
	flag.StringVar(&cfg.client, "client", "test-client", "Client identifier for the minted token")
	flag.StringVar(&cfg.issuer, "issuer", "mail-dispatch", "Token issuer")
	flag.StringVar(&cfg.audience, "audience", "mail-dispatch-api", "Token audience")
	flag.StringVar(&cfg.from, "from", "", "Sender email address")
	flag.Var(&cfg.to, "to", "Recipient email address (can be specified multiple times)")
	flag.StringVar(&cfg.subject, "subject", "Test Email", "Email subject")
	flag.StringVar(&cfg.body, "body", "This is a test email sent by the mail-dispatch test-client.", "Email body")
	flag.BoolVar(&cfg.html, "html", false, "Send the body as HTML")
	flag.DurationVar(&cfg.delay, "delay", 0, "Delay before delivery (e.g. 10m)")
	flag.IntVar(&cfg.attempts, "attempts", 0, "Delivery attempts (0 uses the server default)")
	flag.BoolVar(&cfg.cancel, "cancel", false, "Cancel each message right after submitting it")
	flag.IntVar(&cfg.count, "count", 1, "Number of messages to send (for batch testing)")
	flag.Float64Var(&cfg.rate, "rate", 1, "Messages per second for batch sending")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: test-client [options]\n\n")
		fmt.Fprintf(os.Stderr, "A CLI tool for submitting test messages through the mail-dispatch API.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  test-client --signing-key $KEY --from test@example.com --to recipient@example.com\n")
		fmt.Fprintf(os.Stderr, "  test-client --delay 10m --cancel --from test@example.com --to recipient@example.com\n")
		fmt.Fprintf(os.Stderr, "  test-client --count 100 --rate 10 --from test@example.com --to recipient@example.com\n")
	}

	flag.Parse()
	return cfg
}

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func (c *apiClient) do(method, path string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}

func (c *apiClient) submit(req sendRequest) (string, error) {
	status, data, err := c.do(http.MethodPost, "/api/v1/messages", req)
	if err != nil {
		return "", err
	}
	if status != http.StatusAccepted {
		return "", fmt.Errorf("submit: %d %s", status, strings.TrimSpace(string(data)))
	}

	var resp struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return resp.MessageID, nil
}

func (c *apiClient) cancel(id string) error {
	status, data, err := c.do(http.MethodDelete, "/api/v1/messages/"+id, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("cancel %s: %d %s", id, status, strings.TrimSpace(string(data)))
	}
	return nil
}
