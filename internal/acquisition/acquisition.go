// Package acquisition turns a task's reference URLs and local files into
// plain text for the research stage. Failures never propagate: each source
// that cannot be read is replaced by a bracketed note so the run continues
// with whatever material is available.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/blogflow/internal/pipeline"
)

// Config bounds what the service will fetch and read.
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	MaxURLBytes  int64
	MaxFileBytes int64
	MaxChars     int
	Concurrency  int
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		UserAgent:    "BlogAgent/1.0 (Content Fetcher)",
		MaxURLBytes:  5 << 20,
		MaxFileBytes: 50 << 20,
		MaxChars:     50000,
		Concurrency:  4,
	}
}

// TruncationNote is appended to text cut at MaxChars.
const TruncationNote = "\n\n[Content too long, truncated...]"

// Service fetches URLs and reads files.
type Service struct {
	cfg    Config
	client *http.Client
}

var _ pipeline.Acquirer = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// New creates a Service. Zero limits in cfg fall back to the defaults.
func New(cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MaxURLBytes <= 0 {
		cfg.MaxURLBytes = def.MaxURLBytes
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = def.MaxFileBytes
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	s := &Service{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// allowedContentTypes are the media types FetchURL will read.
var allowedContentTypes = map[string]bool{
	"text/html":             true,
	"application/xhtml+xml": true,
	"text/plain":            true,
	"text/markdown":         true,
	"text/csv":              true,
	"text/xml":              true,
	"application/xml":       true,
	"application/json":      true,
}

// FetchURL downloads url and returns its text. HTML is reduced to readable
// text. Any failure is returned as a bracketed note instead of an error.
func (s *Service) FetchURL(ctx context.Context, url string) string {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Printf("WARNING: invalid reference URL %s: %v", url, err)
		return fmt.Sprintf("[Invalid URL: %s]", url)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			log.Printf("WARNING: fetching %s timed out", url)
			return fmt.Sprintf("[URL timed out: %s]", url)
		}
		log.Printf("WARNING: fetching %s failed: %v", url, err)
		return fmt.Sprintf("[Could not access URL: %s]\nError: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("WARNING: fetching %s returned %s", url, resp.Status)
		return fmt.Sprintf("[Could not access URL: %s]\nError: HTTP %s", url, resp.Status)
	}

	mediaType := "text/plain"
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			mediaType = mt
		}
	}
	if !allowedContentTypes[mediaType] {
		log.Printf("WARNING: skipping %s with content type %s", url, mediaType)
		return fmt.Sprintf("[Unsupported content type %s: %s]", mediaType, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxURLBytes+1))
	if err != nil {
		log.Printf("WARNING: reading %s failed: %v", url, err)
		return fmt.Sprintf("[Failed to fetch URL: %s]\nError: %v", url, err)
	}
	if int64(len(body)) > s.cfg.MaxURLBytes {
		body = body[:s.cfg.MaxURLBytes]
	}

	text := string(body)
	if mediaType == "text/html" || mediaType == "application/xhtml+xml" {
		if extracted, err := htmlToText(text); err == nil {
			text = extracted
		} else {
			log.Printf("WARNING: extracting text from %s failed: %v", url, err)
		}
	}
	log.Printf("Fetched %s (%d chars)", url, utf8.RuneCountInString(text))
	return capChars(text, s.cfg.MaxChars)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// textExtensions are the file types ReadFile accepts.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".json": true, ".xml": true, ".csv": true,
	".go": true, ".cs": true, ".java": true, ".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".html": true, ".htm": true, ".css": true, ".scss": true, ".less": true,
	".yaml": true, ".yml": true, ".toml": true, ".ini": true, ".conf": true,
	".sql": true, ".sh": true, ".bat": true, ".ps1": true,
	".log": true, ".config": true, ".properties": true,
}

// documentExtensions are binary formats ReadFile converts to text.
var documentExtensions = map[string]bool{".pdf": true, ".docx": true, ".doc": true}

// ReadFile returns the text of a local file. PDF and .docx files are
// converted to text. Unknown extensions, missing or oversized files are
// reported as bracketed notes.
func (s *Service) ReadFile(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("WARNING: reference file not found: %s", path)
			return fmt.Sprintf("[File not found: %s]", path)
		}
		if errors.Is(err, os.ErrPermission) {
			log.Printf("WARNING: no permission to read %s", path)
			return fmt.Sprintf("[Permission denied: %s]", path)
		}
		return fmt.Sprintf("[Failed to read file: %s]\nError: %v", path, err)
	}
	if info.IsDir() {
		return fmt.Sprintf("[Not a file: %s]", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !textExtensions[ext] && !documentExtensions[ext] {
		log.Printf("WARNING: unsupported reference file type %q: %s", ext, path)
		return fmt.Sprintf("[Unsupported file type: %s]\nFile: %s", ext, path)
	}
	if info.Size() > s.cfg.MaxFileBytes {
		log.Printf("WARNING: reference file too large (%d bytes): %s", info.Size(), path)
		return fmt.Sprintf("[File too large: %dMB, maximum %dMB]\nFile: %s",
			info.Size()>>20, s.cfg.MaxFileBytes>>20, path)
	}

	switch ext {
	case ".pdf":
		return capChars(readPDF(path), s.cfg.MaxChars)
	case ".docx":
		return capChars(readDocx(path), s.cfg.MaxChars)
	case ".doc":
		return DocNote
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return fmt.Sprintf("[Permission denied: %s]", path)
		}
		return fmt.Sprintf("[Failed to read file: %s]\nError: %v", path, err)
	}
	return capChars(string(data), s.cfg.MaxChars)
}

// SplitSources splits user-entered sources on newlines, commas and
// semicolons, dropping blanks.
func SplitSources(sources []string) []string {
	var out []string
	for _, s := range sources {
		for _, part := range strings.FieldsFunc(s, func(r rune) bool {
			return r == '\n' || r == '\r' || r == ',' || r == ';'
		}) {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func isURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

const rule = "================================================================================"

// PrepareReference assembles the research input: the user's own content,
// then every URL (fetched concurrently, kept in input order), then every
// local file, each under its own header. The result is capped at MaxChars.
func (s *Service) PrepareReference(ctx context.Context, content string, sources []string) string {
	var urls, files []string
	for _, src := range SplitSources(sources) {
		if isURL(src) {
			urls = append(urls, src)
		} else {
			files = append(files, src)
		}
	}

	fetched := make([]string, len(urls))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, u := range urls {
		g.Go(func() error {
			fetched[i] = s.FetchURL(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	var sections []string
	if c := strings.TrimSpace(content); c != "" {
		sections = append(sections, section("Reference content", c))
	}
	for i, u := range urls {
		sections = append(sections, section("Source: "+u, fetched[i]))
	}
	for _, f := range files {
		sections = append(sections, section(fmt.Sprintf("File: %s\nPath: %s", filepath.Base(f), f), s.ReadFile(f)))
	}

	if len(sections) == 0 {
		return pipeline.NoReferenceMaterial
	}
	return capChars(strings.Join(sections, "\n"), s.cfg.MaxChars)
}

func section(header, body string) string {
	return fmt.Sprintf("%s\n%s\n%s\n%s\n", rule, header, rule, body)
}

// capChars cuts s to max runes and marks the cut.
func capChars(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + TruncationNote
}
