package acquisition

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// noise is removed before extraction.
const noise = "script, style, noscript, nav, footer, header, aside, iframe, svg, form"

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"ul": true, "ol": true, "table": true, "tr": true, "blockquote": true,
	"figure": true, "dl": true, "dt": true, "dd": true, "hr": true,
}

// htmlToText reduces an HTML page to markdown-ish text: the title as a
// heading, headings as #-prefixed lines, list items as bullets, <pre> as
// fenced code and inline <code> in backticks.
func htmlToText(page string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", err
	}
	doc.Find(noise).Remove()

	var b strings.Builder
	if title := collapse(doc.Find("title").First().Text()); title != "" {
		b.WriteString("# " + title + "\n\n")
	}

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	walk(root, &b)
	return tidy(b.String()), nil
}

func walk(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		name := goquery.NodeName(c)
		switch {
		case name == "#text":
			b.WriteString(collapseKeepEdges(c.Text()))
		case name == "#comment":
		case name == "pre":
			b.WriteString("\n\n```\n" + strings.Trim(c.Text(), "\n") + "\n```\n\n")
		case name == "code":
			if t := collapse(c.Text()); t != "" {
				b.WriteString("`" + t + "`")
			}
		case name == "br":
			b.WriteString("\n")
		case len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6':
			if t := collapse(c.Text()); t != "" {
				b.WriteString("\n\n" + strings.Repeat("#", int(name[1]-'0')) + " " + t + "\n\n")
			}
		case name == "li":
			b.WriteString("\n- ")
			walk(c, b)
			b.WriteString("\n")
		case blockTags[name]:
			b.WriteString("\n\n")
			walk(c, b)
			b.WriteString("\n\n")
		case name == "td" || name == "th":
			walk(c, b)
			b.WriteString(" ")
		default:
			walk(c, b)
		}
	})
}

// collapse folds every whitespace run into one space and trims the ends.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// collapseKeepEdges folds whitespace runs but keeps one leading or trailing
// space so adjacent inline nodes do not run together.
func collapseKeepEdges(s string) string {
	if strings.TrimSpace(s) == "" {
		if s == "" {
			return ""
		}
		return " "
	}
	out := collapse(s)
	if isSpace(s[0]) {
		out = " " + out
	}
	if isSpace(s[len(s)-1]) {
		out += " "
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// tidy trims each line outside fenced code and squeezes blank runs to a
// single empty line.
func tidy(s string) string {
	var (
		out    []string
		fenced bool
		blank  = true
	)
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "```" {
			fenced = !fenced
			out = append(out, "```")
			blank = false
			continue
		}
		if !fenced {
			line = strings.TrimSpace(line)
			if line == "" {
				if blank {
					continue
				}
				blank = true
				out = append(out, "")
				continue
			}
		}
		blank = false
		out = append(out, strings.TrimRight(line, " \t\r"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
