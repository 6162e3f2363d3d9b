package acquisition

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/blogflow/internal/pipeline"
)

const page = `<html><head><title>Go Channels</title><style>body{}</style></head>
<body>
<nav>Home | Blog</nav>
<h1>Channels</h1>
<p>Channels   connect
goroutines. Use <code>make(chan int)</code> to create one.</p>
<pre>func main() {
    ch := make(chan int)
}</pre>
<ul><li>buffered</li><li>unbuffered</li></ul>
<script>alert("x")</script>
<footer>copyright</footer>
</body></html>`

func TestHTMLToText(t *testing.T) {
	text, err := htmlToText(page)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(text, "# Go Channels\n"))
	assert.Contains(t, text, "# Channels")
	assert.Contains(t, text, "Channels connect goroutines. Use `make(chan int)` to create one.")
	assert.Contains(t, text, "```\nfunc main() {\n    ch := make(chan int)\n}\n```")
	assert.Contains(t, text, "- buffered\n")
	assert.Contains(t, text, "- unbuffered")
	for _, gone := range []string{"alert", "copyright", "Home | Blog", "body{}"} {
		assert.NotContains(t, text, gone)
	}
	assert.NotContains(t, text, "\n\n\n")
}

func TestFetchURL(t *testing.T) {
	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.UserAgent())
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, page)
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "  raw <b>text</b>  ")
		case "/image":
			w.Header().Set("Content-Type", "image/png")
			fmt.Fprint(w, "PNG")
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			fmt.Fprint(w, "late")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	svc := New(Config{Timeout: 50 * time.Millisecond})
	ctx := context.Background()

	tests := []struct {
		name string
		path string
		want string
	}{
		{"html is converted", "/page", "# Go Channels"},
		{"plain text is returned raw", "/plain", "  raw <b>text</b>  "},
		{"unsupported content type", "/image", "[Unsupported content type image/png"},
		{"http error", "/missing", "[Could not access URL: " + srv.URL + "/missing]"},
		{"timeout", "/slow", "[URL timed out: " + srv.URL + "/slow]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := svc.FetchURL(ctx, srv.URL+tt.path)
			assert.Contains(t, got, tt.want)
		})
	}
	assert.Equal(t, DefaultConfig().UserAgent, agent.Load())

	assert.Equal(t, "[Invalid URL: http://bad host]", svc.FetchURL(ctx, "http://bad host"))
}

func TestFetchURLTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, strings.Repeat("é", 100))
	}))
	defer srv.Close()

	svc := New(Config{MaxChars: 10})
	got := svc.FetchURL(context.Background(), srv.URL)
	assert.Equal(t, strings.Repeat("é", 10)+TruncationNote, got)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}
	notes := write("notes.md", "# Notes\nchannels")
	slides := write("talk.pptx", "PK")
	big := write("big.txt", strings.Repeat("x", 2048))

	svc := New(Config{MaxFileBytes: 1024})

	assert.Equal(t, "# Notes\nchannels", svc.ReadFile(notes))
	assert.Equal(t, "[File not found: "+filepath.Join(dir, "none.md")+"]", svc.ReadFile(filepath.Join(dir, "none.md")))
	assert.Contains(t, svc.ReadFile(slides), "[Unsupported file type: .pptx]")
	assert.Contains(t, svc.ReadFile(big), "[File too large")
	assert.Equal(t, "[Not a file: "+dir+"]", svc.ReadFile(dir))
}

func TestSplitSources(t *testing.T) {
	got := SplitSources([]string{"https://a.dev, https://b.dev;notes.md\n\n  ", " c.txt "})
	assert.Equal(t, []string{"https://a.dev", "https://b.dev", "notes.md", "c.txt"}, got)
	assert.Empty(t, SplitSources([]string{" ; ,\n"}))
}

func TestPrepareReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Later paths answer first so ordering depends on reassembly.
		if r.URL.Path == "/one" {
			time.Sleep(30 * time.Millisecond)
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "body of "+r.URL.Path)
	}))
	defer srv.Close()

	dir := t.TempDir()
	file := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("local notes"), 0o644))

	svc := New(Config{})
	got := svc.PrepareReference(context.Background(), "  user content  ",
		[]string{srv.URL + "/one, " + srv.URL + "/two", file})

	order := []string{
		"Reference content\n" + rule + "\nuser content",
		"Source: " + srv.URL + "/one\n" + rule + "\nbody of /one",
		"Source: " + srv.URL + "/two\n" + rule + "\nbody of /two",
		"File: notes.txt\nPath: " + file + "\n" + rule + "\nlocal notes",
	}
	last := -1
	for _, part := range order {
		idx := strings.Index(got, part)
		require.GreaterOrEqual(t, idx, 0, "missing section %q in:\n%s", part, got)
		assert.Greater(t, idx, last, "section %q out of order", part)
		last = idx
	}
}

func TestPrepareReferenceEmpty(t *testing.T) {
	svc := New(Config{})
	assert.Equal(t, pipeline.NoReferenceMaterial, svc.PrepareReference(context.Background(), " ", nil))
}

func TestPrepareReferenceCapsTotal(t *testing.T) {
	svc := New(Config{MaxChars: 100})
	got := svc.PrepareReference(context.Background(), strings.Repeat("a", 500), nil)
	assert.True(t, strings.HasSuffix(got, TruncationNote))
	assert.Equal(t, 100+len([]rune(TruncationNote)), len([]rune(got)))
}
