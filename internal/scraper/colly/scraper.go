// Package colly implements the page scraper on top of the Colly collector.
package colly

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/sjkd23/PagePersona-sub002/internal/transform"
)

// Config controls scraper behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	IgnoreRobots bool
}

// Scraper fetches pages with a shared base collector. Each Fetch runs on a
// clone so per-request callbacks never leak between jobs.
type Scraper struct {
	base   *colly.Collector
	logger *zap.Logger
}

// New constructs a Scraper.
func New(cfg Config, logger *zap.Logger) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "persona-scraper/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	base := colly.NewCollector(colly.UserAgent(cfg.UserAgent))
	base.AllowURLRevisit = true
	base.IgnoreRobotsTxt = cfg.IgnoreRobots
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.Timeout)

	return &Scraper{base: base, logger: logger}
}

type fetchResult struct {
	raw transform.RawContent
	err error
}

// Fetch retrieves a single page and returns its raw body.
func (s *Scraper) Fetch(ctx context.Context, rawURL string) (transform.RawContent, error) {
	collector := s.base.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() { resultCh <- res })
	}

	start := time.Now()
	collector.OnResponse(func(r *colly.Response) {
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		send(fetchResult{raw: transform.RawContent{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: contentType,
			HTML:        append([]byte{}, r.Body...),
			Duration:    time.Since(start),
		}})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(fetchResult{err: err})
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := collector.Visit(rawURL); err != nil {
			send(fetchResult{err: err})
			return
		}
		collector.Wait()
	}()

	select {
	case <-ctx.Done():
		// The collector finishes on its own timeout; the job gives up now.
		return transform.RawContent{}, ctx.Err()
	case <-done:
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			s.logger.Debug("fetch failed", zap.String("url", rawURL), zap.Error(res.err))
			return transform.RawContent{}, res.err
		}
		return res.raw, nil
	default:
		return transform.RawContent{}, errors.New("fetch produced no response")
	}
}
