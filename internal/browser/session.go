// Package browser owns the pool of headless browser contexts used to render
// pages that the probe fetcher cannot satisfy.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	cdpfetch "github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/fetch"
)

// Lifecycle errors.
var (
	ErrAlreadyLaunched = errors.New("browser session already launched")
	ErrNotLaunched     = errors.New("browser session not launched")
	ErrClosed          = errors.New("browser session closed")
)

// ProxyConfig attaches an upstream proxy, optionally with credentials
// answered per-page via the CDP fetch domain.
type ProxyConfig struct {
	URL      string
	Username string
	Password string
}

// Config controls the session manager.
type Config struct {
	ExecPath          string
	UserAgent         string
	AcceptLanguage    string
	MaxPages          int
	NavigationTimeout time.Duration
	Proxy             ProxyConfig
}

// fingerprintScript runs before any page script and hides the usual
// automation tells: the webdriver flag, the empty plugin list, and the
// missing language list.
const fingerprintScript = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
window.chrome = window.chrome || {runtime: {}};
`

// Session manages one browser process and hands out page contexts.
// State machine: uninitialized -> launched -> (page created)* -> closed.
type Session struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	launched bool
	closed   bool

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	slots chan struct{}
}

// NewSession builds an unlaunched session manager.
func NewSession(cfg Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = "en-US,en;q=0.9"
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 2
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	return &Session{
		cfg:    cfg,
		logger: logger,
		slots:  make(chan struct{}, cfg.MaxPages),
	}
}

// Launch starts the browser process. Calling Launch twice is an error; a
// launch failure is fatal to the whole run (retry policy belongs to the
// caller).
func (s *Session) Launch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.launched {
		return ErrAlreadyLaunched
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "en-US"),
		chromedp.UserAgent(s.cfg.UserAgent),
	)
	if s.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.cfg.ExecPath))
	}
	if s.cfg.Proxy.URL != "" {
		opts = append(opts, chromedp.ProxyServer(s.cfg.Proxy.URL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("launch browser: %w", err)
	}

	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.launched = true
	s.logger.Info("browser session launched", zap.Int("max_pages", s.cfg.MaxPages))
	return nil
}

// Close shuts down the browser. Safe to call multiple times.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	s.logger.Info("browser session closed")
}

// Fetch renders the URL in a fresh page context. Each page is an
// independent unit of work; closing one never affects its siblings.
func (s *Session) Fetch(ctx context.Context, url string) (fetch.Result, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return fetch.Result{}, ErrClosed
	case !s.launched:
		s.mu.Unlock()
		return fetch.Result{}, ErrNotLaunched
	}
	browserCtx := s.browserCtx
	s.mu.Unlock()

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return fetch.Result{}, fmt.Errorf("page slot wait: %w", ctx.Err())
	}
	defer func() { <-s.slots }()

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, s.cfg.NavigationTimeout)
	defer cancel()

	if s.cfg.Proxy.Username != "" {
		s.attachProxyAuth(tabCtx)
	}

	var title, html, finalURL string
	start := time.Now()
	actions := []chromedp.Action{
		s.pageSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Title(&title),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return fetch.Result{}, fmt.Errorf("render %s: %w", url, err)
	}

	return fetch.Result{
		URL:      finalURL,
		Title:    title,
		Body:     html,
		Duration: time.Since(start),
		Rendered: true,
	}, nil
}

// pageSetupAction applies the per-page anti-fingerprint overrides before
// any navigation happens.
func (s *Session) pageSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).
			WithAcceptLanguage(s.cfg.AcceptLanguage).
			Do(ctx); err != nil {
			return fmt.Errorf("set user-agent override: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(fingerprintScript).Do(ctx); err != nil {
			return fmt.Errorf("install fingerprint script: %w", err)
		}
		return nil
	})
}

// attachProxyAuth answers proxy authentication challenges for this page via
// the CDP fetch domain.
func (s *Session) attachProxyAuth(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *cdpfetch.EventAuthRequired:
			go func() {
				c := chromedp.FromContext(tabCtx)
				execCtx := cdp.WithExecutor(tabCtx, c.Target)
				resp := &cdpfetch.AuthChallengeResponse{
					Response: cdpfetch.AuthChallengeResponseResponseProvideCredentials,
					Username: s.cfg.Proxy.Username,
					Password: s.cfg.Proxy.Password,
				}
				if err := cdpfetch.ContinueWithAuth(e.RequestID, resp).Do(execCtx); err != nil {
					s.logger.Warn("proxy auth continue failed", zap.Error(err))
				}
			}()
		case *cdpfetch.EventRequestPaused:
			go func() {
				c := chromedp.FromContext(tabCtx)
				execCtx := cdp.WithExecutor(tabCtx, c.Target)
				if err := cdpfetch.ContinueRequest(e.RequestID).Do(execCtx); err != nil {
					s.logger.Debug("continue paused request failed", zap.Error(err))
				}
			}()
		}
	})
	if err := chromedp.Run(tabCtx, cdpfetch.Enable().WithHandleAuthRequests(true)); err != nil {
		s.logger.Warn("enable fetch domain for proxy auth failed", zap.Error(err))
	}
}
