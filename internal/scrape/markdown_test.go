package scrape

import (
	"strings"
	"testing"
)

func TestConvert_Document(t *testing.T) {
	input := `<html><head><title>Go Memory Model</title><style>body{color:red}</style></head><body>
<nav>Skip to content</nav>
<h1>Introduction</h1>
<p>The Go memory model specifies conditions.</p>
<h2>Advice</h2>
<p>Programs should <strong>serialize</strong> access with <a href="https://go.dev/ref/mem">channel operations</a> or other primitives.</p>
<ul><li>first item</li><li>second item</li></ul>
<pre>x := 1</pre>
<p>Use <code>sync.Mutex</code> to guard writes.</p>
<script>alert(1)</script>
</body></html>`

	res, err := Convert(input, ConvertOptions{PreserveTables: true})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	if res.Title != "Go Memory Model" {
		t.Errorf("Title = %q, want %q", res.Title, "Go Memory Model")
	}
	for _, want := range []string{
		"# Introduction",
		"## Advice",
		"**serialize**",
		"[channel operations](https://go.dev/ref/mem)",
		"\n- first item",
		"\n- second item",
		"```\nx := 1\n```",
		"`sync.Mutex`",
	} {
		if !strings.Contains(res.Body, want) {
			t.Errorf("body missing %q\nbody:\n%s", want, res.Body)
		}
	}
	for _, reject := range []string{"alert(1)", "Skip to content", "color:red", "Go Memory Model"} {
		if strings.Contains(res.Body, reject) {
			t.Errorf("body should not contain %q\nbody:\n%s", reject, res.Body)
		}
	}
}

func TestConvert_FragmentAnchorsStayPlain(t *testing.T) {
	res, err := Convert(`<p>See <a href="#details">the details</a> below.</p>`, ConvertOptions{})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if strings.Contains(res.Body, "[") {
		t.Errorf("fragment anchor rendered as link: %q", res.Body)
	}
	if !strings.Contains(res.Body, "the details") {
		t.Errorf("anchor text lost: %q", res.Body)
	}
}

func TestConvert_ImageAlt(t *testing.T) {
	res, err := Convert(`<p>Before <img src="x.png" alt="architecture diagram"> after.</p>`, ConvertOptions{})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !strings.Contains(res.Body, "[Image: architecture diagram]") {
		t.Errorf("alt text missing: %q", res.Body)
	}
}

func TestConvert_TableWithHead(t *testing.T) {
	input := `<table>
<thead><tr><th>Name</th><th>Value</th></tr></thead>
<tbody>
<tr><td>alpha</td><td>1</td></tr>
<tr><td>beta</td><td>2</td></tr>
</tbody>
</table>`

	res, err := Convert(input, ConvertOptions{PreserveTables: true})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want := "| Name | Value |\n| --- | --- |\n| alpha | 1 |\n| beta | 2 |"
	if !strings.Contains(res.Body, want) {
		t.Errorf("table not rendered\nwant:\n%s\ngot:\n%s", want, res.Body)
	}
	if res.TablesFound != 1 || res.TablesConverted != 1 {
		t.Errorf("stats = %d found / %d converted, want 1/1", res.TablesFound, res.TablesConverted)
	}
}

func TestConvert_TableFirstRowHeader(t *testing.T) {
	input := `<table>
<tr><td>City</td><td>Population</td></tr>
<tr><td>Oslo</td><td>709037</td></tr>
</table>`

	res, err := Convert(input, ConvertOptions{PreserveTables: true})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want := "| City | Population |\n| --- | --- |\n| Oslo | 709037 |"
	if !strings.Contains(res.Body, want) {
		t.Errorf("first row not promoted to header\nwant:\n%s\ngot:\n%s", want, res.Body)
	}
}

func TestConvert_TableEscapesPipes(t *testing.T) {
	input := `<table><tr><th>Expr</th></tr><tr><td>a|b</td></tr></table>`

	res, err := Convert(input, ConvertOptions{PreserveTables: true})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !strings.Contains(res.Body, `| a\|b |`) {
		t.Errorf("pipe not escaped: %q", res.Body)
	}
}

func TestConvert_TableCellTruncation(t *testing.T) {
	long := strings.Repeat("x", 250)
	input := `<table><tr><th>Text</th></tr><tr><td>` + long + `</td></tr></table>`

	res, err := Convert(input, ConvertOptions{PreserveTables: true})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want := "| " + strings.Repeat("x", maxCellRunes) + "… |"
	if !strings.Contains(res.Body, want) {
		t.Errorf("cell not truncated at %d runes: %q", maxCellRunes, res.Body)
	}
	if strings.Contains(res.Body, strings.Repeat("x", maxCellRunes+1)) {
		t.Errorf("cell kept more than %d runes", maxCellRunes)
	}
}

func TestConvert_TableNormalizesRaggedRows(t *testing.T) {
	input := `<table>
<tr><th>A</th><th>B</th><th>C</th></tr>
<tr><td>only</td></tr>
<tr><td>w</td><td>x</td><td>y</td><td>z</td></tr>
</table>`

	res, err := Convert(input, ConvertOptions{PreserveTables: true})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !strings.Contains(res.Body, "| only | | |") {
		t.Errorf("short row not padded: %q", res.Body)
	}
	if !strings.Contains(res.Body, "| w | x | y |") || strings.Contains(res.Body, "z") {
		t.Errorf("long row not truncated to header width: %q", res.Body)
	}
}

func TestConvert_TableKeepsCellLinks(t *testing.T) {
	input := `<table>
<tr><th>Project</th></tr>
<tr><td><a href="https://go.dev">the Go site</a></td></tr>
</table>`

	res, err := Convert(input, ConvertOptions{PreserveTables: true})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !strings.Contains(res.Body, "| [the Go site](https://go.dev) |") {
		t.Errorf("cell link lost: %q", res.Body)
	}
}

func TestConvert_NestedTableFlattens(t *testing.T) {
	input := `<table>
<tr><th>Outer</th></tr>
<tr><td><table><tr><td>inner1</td></tr><tr><td>inner2</td></tr></table></td></tr>
</table>`

	res, err := Convert(input, ConvertOptions{PreserveTables: true})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.TablesConverted != 1 {
		t.Errorf("TablesConverted = %d, want 1", res.TablesConverted)
	}
	if !strings.Contains(res.Body, "inner1 inner2") {
		t.Errorf("nested cells not flattened to text: %q", res.Body)
	}
	if got := strings.Count(res.Body, "--- |"); got != 1 {
		t.Errorf("want exactly one separator row, got %d\n%s", got, res.Body)
	}
}

func TestConvert_TablesDisabled(t *testing.T) {
	input := `<table><tr><th>Name</th></tr><tr><td>alpha</td></tr></table>`

	res, err := Convert(input, ConvertOptions{PreserveTables: false})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if strings.Contains(res.Body, "|") {
		t.Errorf("pipes rendered with tables disabled: %q", res.Body)
	}
	if !strings.Contains(res.Body, "alpha") {
		t.Errorf("cell text lost: %q", res.Body)
	}
	if res.TablesFound != 1 || res.TablesConverted != 0 {
		t.Errorf("stats = %d found / %d converted, want 1/0", res.TablesFound, res.TablesConverted)
	}
}

func TestConvert_EmptyTable(t *testing.T) {
	res, err := Convert(`<p>before</p><table></table><p>after</p>`, ConvertOptions{PreserveTables: true})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.TablesFound != 1 || res.TablesConverted != 0 {
		t.Errorf("stats = %d found / %d converted, want 1/0", res.TablesFound, res.TablesConverted)
	}
	if strings.Contains(res.Body, "|") {
		t.Errorf("empty table produced pipes: %q", res.Body)
	}
}

func TestConvert_PlainText(t *testing.T) {
	input := `<h1>Heading</h1>
<p>Some <strong>bold</strong> text with <a href="https://example.com">a link</a> and <code>code</code>.</p>`

	res, err := Convert(input, ConvertOptions{PlainText: true, PreserveTables: true})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	for _, reject := range []string{"# ", "**", "](", "`"} {
		if strings.Contains(res.Body, reject) {
			t.Errorf("plain text contains marker %q: %q", reject, res.Body)
		}
	}
	for _, want := range []string{"Heading", "bold", "a link", "code"} {
		if !strings.Contains(res.Body, want) {
			t.Errorf("plain text missing %q: %q", want, res.Body)
		}
	}
}

func TestConvert_DepthGuard(t *testing.T) {
	deep := strings.Repeat("<div>", 60) + "unreachable" + strings.Repeat("</div>", 60)
	res, err := Convert("<p>shallow</p>"+deep, ConvertOptions{})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !strings.Contains(res.Body, "shallow") {
		t.Errorf("shallow content lost: %q", res.Body)
	}
	if strings.Contains(res.Body, "unreachable") {
		t.Errorf("depth guard did not stop the walk")
	}
}

func TestCleanMarkdown(t *testing.T) {
	in := "a\n\n\n\n\nb   c\t\td\n   e   \n"
	got := cleanMarkdown(in)
	want := "a\n\nb c d\ne"
	if got != want {
		t.Errorf("cleanMarkdown = %q, want %q", got, want)
	}
}
