package scrape

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Browser wraps a headless Chrome session for pages whose content only
// exists after scripts run. Launching is deferred to the first fetch so
// a configured-but-unused browser costs nothing.
type Browser struct {
	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	logger   *zap.Logger
}

func NewBrowser(logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{logger: logger}
}

func (b *Browser) ensureStarted() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return nil
	}

	l := launcher.New().Headless(true)
	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return fmt.Errorf("connect browser: %w", err)
	}

	b.logger.Debug("headless browser started")
	b.launcher = l
	b.browser = browser
	return nil
}

// Fetch navigates to url and returns the rendered HTML once the load
// event fires.
func (b *Browser) Fetch(ctx context.Context, url string) (string, error) {
	if err := b.ensureStarted(); err != nil {
		return "", err
	}

	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	defer page.Close()

	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("page html: %w", err)
	}
	return html, nil
}

// Close shuts the browser down and cleans up the launcher.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			b.logger.Debug("browser close", zap.Error(err))
		}
		b.browser = nil
	}
	if b.launcher != nil {
		b.launcher.Cleanup()
		b.launcher = nil
	}
}
