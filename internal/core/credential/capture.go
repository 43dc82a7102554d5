package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"harvester/internal/logger"

	"github.com/playwright-community/playwright-go"
)

// CaptureOptions configures SessionCaptureSource.
type CaptureOptions struct {
	// PageURL is the public search page that issues authorized API calls.
	PageURL string
	// Match selects the outgoing request whose Authorization header is captured.
	Match string
	// InputSelector, when set, is filled with SearchText and submitted to
	// force the page to issue a search request.
	InputSelector string
	SearchText    string
	UserAgent     string
	Timeout       time.Duration
}

// SessionCaptureSource drives a headless browser through the source's public
// search page and captures the authorization value the page itself sends.
type SessionCaptureSource struct {
	opts CaptureOptions
	log  *logger.Logger
}

func NewSessionCaptureSource(opts CaptureOptions) *SessionCaptureSource {
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	if opts.SearchText == "" {
		opts.SearchText = "smith"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	}
	return &SessionCaptureSource{opts: opts, log: logger.New("SessionCapture")}
}

func (s *SessionCaptureSource) Name() string { return "session-capture" }

func (s *SessionCaptureSource) Acquire(ctx context.Context) (string, error) {
	if s.opts.PageURL == "" {
		return "", errors.New("capture page URL not configured")
	}

	pw, err := playwright.Run()
	if err != nil {
		return "", fmt.Errorf("playwright initialization failed: %w", err)
	}
	defer pw.Stop()

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--no-sandbox",
			"--disable-dev-shm-usage",
			"--disable-gpu",
			"--disable-blink-features=AutomationControlled",
		},
	})
	if err != nil {
		return "", fmt.Errorf("browser launch failed: %w", err)
	}
	defer browser.Close()

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(s.opts.UserAgent),
		Viewport:  &playwright.Size{Width: 1366, Height: 900},
	})
	if err != nil {
		return "", fmt.Errorf("browser context creation failed: %w", err)
	}
	defer bctx.Close()

	page, err := bctx.NewPage()
	if err != nil {
		return "", fmt.Errorf("page creation failed: %w", err)
	}

	tokens := make(chan string, 1)
	page.OnRequest(func(req playwright.Request) {
		if s.opts.Match != "" && !strings.Contains(req.URL(), s.opts.Match) {
			return
		}
		value, err := req.HeaderValue("authorization")
		if err != nil || strings.TrimSpace(value) == "" {
			return
		}
		select {
		case tokens <- strings.TrimSpace(value):
		default:
		}
	})

	timeoutMs := float64(s.opts.Timeout.Milliseconds())
	if _, err := page.Goto(s.opts.PageURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(timeoutMs),
	}); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", s.opts.PageURL, err)
	}

	if s.opts.InputSelector != "" {
		input := page.Locator(s.opts.InputSelector)
		if err := input.WaitFor(playwright.LocatorWaitForOptions{Timeout: playwright.Float(timeoutMs)}); err != nil {
			return "", fmt.Errorf("wait for search input: %w", err)
		}
		if err := input.Fill(s.opts.SearchText); err != nil {
			return "", fmt.Errorf("fill search input: %w", err)
		}
		if err := page.Keyboard().Press("Enter"); err != nil {
			return "", fmt.Errorf("submit search: %w", err)
		}
	}

	timer := time.NewTimer(s.opts.Timeout)
	defer timer.Stop()
	select {
	case token := <-tokens:
		s.log.LogDebugf("captured authorization header (%d chars)", len(token))
		return token, nil
	case <-timer.C:
		return "", fmt.Errorf("token capture timed out after %s", s.opts.Timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
