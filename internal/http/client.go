package http

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// DefaultUserAgent is sent when Options.UserAgent is empty.
const DefaultUserAgent = "mediadl"

// Proxy modes accepted in Options.ProxyType.
const (
	ProxyNone   = "none"
	ProxySystem = "system"
	ProxyManual = "manual"
)

// Options configures a Client.
type Options struct {
	// UserAgent is sent with every request that does not set its own.
	UserAgent string

	// Timeout bounds small requests and the wait for response headers of
	// streamed ones. Bodies of streamed downloads are not bounded.
	Timeout time.Duration

	// RateLimit caps the combined body throughput in bytes per second, 0 for none.
	RateLimit int64

	// ProxyType is one of ProxyNone, ProxySystem (environment) or ProxyManual.
	ProxyType    string
	ProxyAddress string
	ProxyPort    int
}

// Client wraps HTTP operations shared by the resolvers and the transport.
//
// Client provides:
//   - A configured User-Agent header
//   - Timeout handling that does not cut long downloads short
//   - Proxy selection
//   - A bandwidth limiter shared by every body written through LimitWriter
//
// Example usage:
//
//	client := NewClient(Options{UserAgent: "mediadl", Timeout: time.Minute})
//
//	// Fetch HTML content
//	html, err := client.GetString(ctx, "https://artist.bandcamp.com/album/name")
//
//	// Stream a range of a media file
//	resp, err := client.Fetch(ctx, mediaURL, http.Header{"Range": {"bytes=0-9999999"}})
type Client struct {
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
	limiter    *rate.Limiter
}

// NewClient creates a new HTTP client from opts.
func NewClient(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = opts.Timeout
	transport.Proxy = proxyFunc(opts)
	transport.DialContext = (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext

	c := &Client{
		httpClient: &http.Client{Transport: transport},
		userAgent:  opts.UserAgent,
		timeout:    opts.Timeout,
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < limitedChunk {
			burst = limitedChunk
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

func proxyFunc(opts Options) func(*http.Request) (*url.URL, error) {
	switch opts.ProxyType {
	case ProxyNone:
		return nil
	case ProxyManual:
		if opts.ProxyAddress == "" {
			return nil
		}
		host := opts.ProxyAddress
		if opts.ProxyPort > 0 {
			host = net.JoinHostPort(opts.ProxyAddress, strconv.Itoa(opts.ProxyPort))
		}
		return http.ProxyURL(&url.URL{Scheme: "http", Host: host})
	default:
		return http.ProxyFromEnvironment
	}
}

// ProgressWriter wraps a writer to track download progress.
//
// Use this to monitor large downloads by providing an OnUpdate callback
// that receives the current bytes written and total expected bytes.
//
// Example:
//
//	pw := &ProgressWriter{
//	    Writer: file,
//	    Total:  contentLength,
//	    OnUpdate: func(written, total int64) {
//	        fmt.Printf("%d / %d bytes\n", written, total)
//	    },
//	}
//	io.Copy(pw, response.Body)
type ProgressWriter struct {
	// Writer is the underlying writer to write data to.
	Writer io.Writer

	// Total is the expected total bytes (from Content-Length header).
	Total int64

	// Written is the current number of bytes written.
	Written int64

	// OnUpdate is called after each Write with current progress.
	// Parameters are (bytesWritten, totalExpected).
	OnUpdate func(written, total int64)
}

// Write implements io.Writer, tracking progress and calling OnUpdate.
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.Written += int64(n)
	if pw.OnUpdate != nil {
		pw.OnUpdate(pw.Written, pw.Total)
	}
	return n, err
}

// limitedChunk is the largest write that waits on the limiter at once.
const limitedChunk = 16 * 1024

// rateLimitedWriter delays writes so the shared limiter's rate holds.
type rateLimitedWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

func (rl *rateLimitedWriter) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n := min(limitedChunk, len(p)-written)
		if err := rl.limiter.WaitN(rl.ctx, n); err != nil {
			return written, err
		}
		m, err := rl.w.Write(p[written : written+n])
		written += m
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// LimitWriter returns w wrapped by the client's bandwidth limiter, or w
// itself when no limit is configured.
func (c *Client) LimitWriter(ctx context.Context, w io.Writer) io.Writer {
	if c.limiter == nil {
		return w
	}
	return &rateLimitedWriter{w: w, limiter: c.limiter, ctx: ctx}
}

// Fetch performs a GET request with extra headers and returns the response
// with its body unread. Any status is returned; the caller must close the body.
func (c *Client) Fetch(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.httpClient.Do(req)
}

// Get performs a GET request and returns the response body as bytes.
//
// Returns an error if:
//   - The request fails or exceeds the client timeout
//   - The response status is not 200 OK
//   - Reading the body fails
//
// Example:
//
//	data, err := client.Get(ctx, "https://example.com/image.jpg")
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.Fetch(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	return io.ReadAll(resp.Body)
}

// GetString performs a GET request and returns the response body as a string.
//
// This is a convenience wrapper around Get for fetching text content like HTML.
func (c *Client) GetString(ctx context.Context, url string) (string, error) {
	body, err := c.Get(ctx, url)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// GetFileSize returns the size of a file at the given URL via HEAD request.
//
// Returns an error if:
//   - The request fails
//   - The server doesn't return a Content-Length header
func (c *Client) GetFileSize(ctx context.Context, url string, header http.Header) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("no Content-Length header for %s", url)
	}

	return resp.ContentLength, nil
}

// DownloadFile downloads a whole file to destPath with an optional progress
// callback. The body is streamed through the bandwidth limiter.
//
// Example:
//
//	err := client.DownloadFile(ctx, artURL, "/tmp/cover.jpg", nil)
func (c *Client) DownloadFile(ctx context.Context, url, destPath string, onProgress func(written, total int64)) error {
	resp, err := c.Fetch(ctx, url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer file.Close()

	var writer io.Writer = file
	if onProgress != nil {
		writer = &ProgressWriter{
			Writer:   file,
			Total:    resp.ContentLength,
			OnUpdate: onProgress,
		}
	}

	_, err = io.Copy(c.LimitWriter(ctx, writer), resp.Body)
	return err
}

// DownloadBytes downloads a file and returns the bytes in memory.
//
// Use this for small files like cover art images.
func (c *Client) DownloadBytes(ctx context.Context, url string) ([]byte, error) {
	return c.Get(ctx, url)
}
