package acquisition

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePDF writes a one-page PDF that shows text in Helvetica.
func writePDF(t *testing.T, path, text string) {
	t.Helper()
	content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, obj := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)

	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))
}

// writeDocx writes a minimal .docx package around body.
func writeDocx(t *testing.T, path, body string) {
	t.Helper()
	var b bytes.Buffer
	zw := zip.NewWriter(&b)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>%s</w:body></w:document>`, body)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))
}

func TestReadFileDocuments(t *testing.T) {
	dir := t.TempDir()
	svc := New(Config{})

	t.Run("pdf", func(t *testing.T) {
		path := filepath.Join(dir, "paper.pdf")
		writePDF(t, path, "Channels coordinate goroutines")

		got := svc.ReadFile(path)
		assert.Contains(t, got, "[Page 1]")
		assert.Contains(t, got, "Channels coordinate goroutines")
	})

	t.Run("corrupt pdf", func(t *testing.T) {
		path := filepath.Join(dir, "broken.pdf")
		require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))
		assert.Contains(t, svc.ReadFile(path), "[Failed to read PDF document")
	})

	t.Run("docx paragraphs and tables", func(t *testing.T) {
		path := filepath.Join(dir, "notes.docx")
		writeDocx(t, path, `<w:p><w:r><w:t>Select waits on</w:t></w:r><w:r><w:t xml:space="preserve"> many channels.</w:t></w:r></w:p>`+
			`<w:p></w:p>`+
			`<w:tbl><w:tr><w:tc><w:p><w:r><w:t>op</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>blocks</w:t></w:r></w:p></w:tc></w:tr>`+
			`<w:tr><w:tc><w:p><w:r><w:t>send</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>yes</w:t></w:r></w:p></w:tc></w:tr></w:tbl>`+
			`<w:p><w:r><w:t>Close signals done.</w:t></w:r></w:p>`)

		assert.Equal(t, "Select waits on many channels.\n\n[Table]\nop | blocks\nsend | yes\n\nClose signals done.", svc.ReadFile(path))
	})

	t.Run("empty docx", func(t *testing.T) {
		path := filepath.Join(dir, "empty.docx")
		writeDocx(t, path, `<w:p></w:p>`)
		assert.Equal(t, "[Word document has no readable text]", svc.ReadFile(path))
	})

	t.Run("docx without document part", func(t *testing.T) {
		path := filepath.Join(dir, "bare.docx")
		var b bytes.Buffer
		zw := zip.NewWriter(&b)
		_, err := zw.Create("docProps/app.xml")
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))
		assert.Equal(t, "[Word document is empty]", svc.ReadFile(path))
	})

	t.Run("legacy doc", func(t *testing.T) {
		path := filepath.Join(dir, "old.doc")
		require.NoError(t, os.WriteFile(path, []byte{0xd0, 0xcf}, 0o644))
		assert.Equal(t, DocNote, svc.ReadFile(path))
	})
}
