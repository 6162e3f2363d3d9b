package acquisition

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DocNote replaces the text of legacy binary Word files.
const DocNote = "[.doc format is not supported, please convert to .docx]"

// readPDF extracts the text of every page under a page marker.
func readPDF(path string) string {
	f, r, err := pdf.Open(path)
	if err != nil {
		log.Printf("WARNING: opening PDF %s failed: %v", path, err)
		return fmt.Sprintf("[Failed to read PDF document: %v]", err)
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		fonts := make(map[string]*pdf.Font)
		for _, name := range p.Fonts() {
			font := p.Font(name)
			fonts[name] = &font
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			log.Printf("WARNING: reading page %d of %s failed: %v", i, path, err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		fmt.Fprintf(&b, "[Page %d]\n%s\n\n", i, strings.TrimSpace(text))
	}

	if content := strings.TrimSpace(b.String()); content != "" {
		return content
	}
	return "[PDF document has no readable text]"
}

// readDocx extracts paragraphs and table rows from a .docx package.
func readDocx(path string) string {
	zr, err := zip.OpenReader(path)
	if err != nil {
		log.Printf("WARNING: opening Word document %s failed: %v", path, err)
		return fmt.Sprintf("[Failed to read Word document: %v]", err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Sprintf("[Failed to read Word document: %v]", err)
		}
		defer func() { _ = rc.Close() }()

		text, err := docxText(rc)
		if err != nil {
			log.Printf("WARNING: parsing Word document %s failed: %v", path, err)
			return fmt.Sprintf("[Failed to read Word document: %v]", err)
		}
		if text == "" {
			return "[Word document has no readable text]"
		}
		return text
	}
	return "[Word document is empty]"
}

// docxText walks WordprocessingML. Paragraphs become lines; table rows
// become cells joined by " | ".
func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		out    strings.Builder
		para   strings.Builder
		cell   []string
		row    []string
		inText bool
		tables int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br":
				para.WriteByte('\n')
			case "tbl":
				if tables == 0 {
					out.WriteString("\n[Table]\n")
				}
				tables++
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text := strings.TrimSpace(para.String())
				para.Reset()
				switch {
				case text == "":
				case tables > 0:
					cell = append(cell, text)
				default:
					out.WriteString(text)
					out.WriteByte('\n')
				}
			case "tc":
				row = append(row, strings.Join(cell, " "))
				cell = nil
			case "tr":
				if line := strings.Join(row, " | "); strings.Trim(line, " |") != "" {
					out.WriteString(line)
					out.WriteByte('\n')
				}
				row = nil
			case "tbl":
				tables--
				if tables == 0 {
					out.WriteByte('\n')
				}
			}
		}
	}
	return strings.TrimSpace(out.String()), nil
}
