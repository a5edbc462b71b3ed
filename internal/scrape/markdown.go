package scrape

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Pre-compile cleanup patterns to avoid recompilation overhead
var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

const (
	maxWalkDepth = 50
	maxCellRunes = 200
)

// ConvertOptions controls how parsed HTML is rendered.
type ConvertOptions struct {
	// PlainText drops markdown markers and emits bare text.
	PlainText bool
	// PreserveTables renders <table> elements as pipe tables instead of
	// flattening their cells into running text.
	PreserveTables bool
}

// ConvertResult is a rendered document. Title comes from the <title>
// element and is not repeated in the body.
type ConvertResult struct {
	Title           string
	Body            string
	TablesFound     int
	TablesConverted int
}

// Convert parses HTML and renders it as markdown, or as plain text when
// opts.PlainText is set.
func Convert(htmlContent string, opts ConvertOptions) (*ConvertResult, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, err
	}

	c := &converter{opts: opts}
	c.walk(doc, 0)

	return &ConvertResult{
		Title:           strings.TrimSpace(c.title.String()),
		Body:            cleanMarkdown(c.sb.String()),
		TablesFound:     c.tablesFound,
		TablesConverted: c.tablesConverted,
	}, nil
}

// converter accumulates output while walking the parse tree. Text nodes
// do not write their separating space directly; it stays pending so
// closing markers can attach to the text they wrap.
type converter struct {
	sb    strings.Builder
	title strings.Builder
	opts  ConvertOptions

	pendingSpace    bool
	inTitle         bool
	tablesFound     int
	tablesConverted int
}

// text writes a run of document text separated from the previous run.
func (c *converter) text(s string) {
	if c.pendingSpace {
		c.sb.WriteString(" ")
	}
	c.sb.WriteString(s)
	c.pendingSpace = true
}

// block writes structural whitespace and absorbs any pending separator.
func (c *converter) block(s string) {
	c.sb.WriteString(s)
	c.pendingSpace = false
}

// openMark writes an inline opening marker after any pending separator.
func (c *converter) openMark(s string) {
	if c.opts.PlainText {
		return
	}
	if c.pendingSpace {
		c.sb.WriteString(" ")
	}
	c.sb.WriteString(s)
	c.pendingSpace = false
}

// closeMark writes an inline closing marker directly against the text
// it wraps, dropping the pending separator.
func (c *converter) closeMark(s string) {
	if c.opts.PlainText {
		return
	}
	c.sb.WriteString(s)
	c.pendingSpace = true
}

func (c *converter) walk(n *html.Node, depth int) {
	if depth > maxWalkDepth {
		return // Prevent excessive recursion
	}

	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			if c.inTitle {
				c.title.WriteString(text)
				c.title.WriteString(" ")
			} else {
				c.text(text)
			}
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header":
			return // Skip these elements
		case "title":
			c.inTitle = true
			for child := n.FirstChild; child != nil; child = child.NextSibling {
				c.walk(child, depth+1)
			}
			c.inTitle = false
			return
		case "table":
			c.tablesFound++
			if c.opts.PreserveTables && !c.opts.PlainText && c.renderTable(n) {
				c.tablesConverted++
				return
			}
			// Not converted: cells read as running text below
		case "h1":
			c.block("\n\n")
			c.openMark("# ")
		case "h2":
			c.block("\n\n")
			c.openMark("## ")
		case "h3":
			c.block("\n\n")
			c.openMark("### ")
		case "h4":
			c.block("\n\n")
			c.openMark("#### ")
		case "h5":
			c.block("\n\n")
			c.openMark("##### ")
		case "h6":
			c.block("\n\n")
			c.openMark("###### ")
		case "p", "div":
			c.block("\n\n")
		case "br":
			c.block("\n")
		case "li":
			c.block("\n- ")
		case "code":
			c.openMark("`")
		case "pre":
			c.block("\n\n")
			c.openMark("```\n")
		case "strong", "b":
			c.openMark("**")
		case "em", "i":
			c.openMark("*")
		case "a":
			if c.linkable(n) {
				c.openMark("[")
			}
		case "img":
			if alt := getAttr(n, "alt"); alt != "" {
				c.text(fmt.Sprintf("[Image: %s]", alt))
			}
			return
		}
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(child, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			c.block("\n\n")
		case "code":
			c.closeMark("`")
		case "pre":
			c.closeMark("\n```")
			c.block("\n\n")
		case "strong", "b":
			c.closeMark("**")
		case "em", "i":
			c.closeMark("*")
		case "a":
			if c.linkable(n) {
				c.closeMark(fmt.Sprintf("](%s)", getAttr(n, "href")))
			}
		}
	}
}

// linkable reports whether an anchor should render as a markdown link.
// Fragment-only anchors carry no target worth keeping.
func (c *converter) linkable(n *html.Node) bool {
	if c.opts.PlainText {
		return false
	}
	href := getAttr(n, "href")
	return href != "" && !strings.HasPrefix(href, "#")
}

// renderTable writes a <table> subtree as a pipe table. The header row
// comes from <thead> cells when present, otherwise the first row is
// promoted. Returns false when the table holds no rows at all.
func (c *converter) renderTable(n *html.Node) bool {
	header, rows := c.parseTable(n)
	if len(header) == 0 {
		if len(rows) == 0 {
			return false
		}
		header, rows = rows[0], rows[1:]
	}

	cols := len(header)
	if cols < 1 {
		cols = 1
	}
	header = normalizeRow(header, cols)

	c.block("\n\n")
	c.writeRow(header)
	sep := make([]string, cols)
	for i := range sep {
		sep[i] = "---"
	}
	c.writeRow(sep)
	for _, row := range rows {
		c.writeRow(normalizeRow(row, cols))
	}
	c.block("\n")
	return true
}

func (c *converter) writeRow(cells []string) {
	c.sb.WriteString("| ")
	c.sb.WriteString(strings.Join(cells, " | "))
	c.sb.WriteString(" |\n")
}

// parseTable collects the rows of a table element. Rows under <thead>
// feed the header; everything else is body. Nested tables are left to
// cell extraction, which flattens them to text.
func (c *converter) parseTable(n *html.Node) (header []string, rows [][]string) {
	var collect func(node *html.Node, inHead bool)
	collect = func(node *html.Node, inHead bool) {
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type != html.ElementNode {
				continue
			}
			switch child.Data {
			case "thead":
				collect(child, true)
			case "tbody", "tfoot":
				collect(child, false)
			case "tr":
				cells := c.rowCells(child)
				if inHead && header == nil {
					header = cells
				} else {
					rows = append(rows, cells)
				}
			}
		}
	}
	collect(n, false)
	return header, rows
}

func (c *converter) rowCells(tr *html.Node) []string {
	var cells []string
	for child := tr.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.ElementNode {
			continue
		}
		if child.Data == "th" || child.Data == "td" {
			cells = append(cells, c.cellText(child))
		}
	}
	return cells
}

// cellText flattens a cell to a single line. Inline markup and links
// survive; whitespace collapses, oversized cells are cut at
// maxCellRunes, and pipes are escaped so the row stays parseable.
func (c *converter) cellText(cell *html.Node) string {
	nested := &converter{opts: ConvertOptions{PlainText: c.opts.PlainText}}
	for child := cell.FirstChild; child != nil; child = child.NextSibling {
		nested.walk(child, 0)
	}

	text := strings.Join(strings.Fields(nested.sb.String()), " ")
	if runes := []rune(text); len(runes) > maxCellRunes {
		text = string(runes[:maxCellRunes]) + "…"
	}
	return strings.ReplaceAll(text, "|", `\|`)
}

func normalizeRow(cells []string, cols int) []string {
	if len(cells) > cols {
		return cells[:cols]
	}
	for len(cells) < cols {
		cells = append(cells, "")
	}
	return cells
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// cleanMarkdown removes excessive whitespace from the rendered body.
func cleanMarkdown(s string) string {
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	s = multiSpacePattern.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")

	return strings.TrimSpace(s)
}
