package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle defines table border characters
type BorderStyle struct {
	TopLeft, TopRight, BottomLeft, BottomRight string
	Horizontal, Vertical                       string
	Cross, TopTee, BottomTee, LeftTee, RightTee string
}

// TableStyle defines the visual style of a table
type TableStyle struct {
	Name            string
	Border          BorderStyle
	HeaderSeparator bool
	Padding         int
}

var (
	asciiBorder = BorderStyle{
		TopLeft: "+", TopRight: "+", BottomLeft: "+", BottomRight: "+",
		Horizontal: "-", Vertical: "|",
		Cross: "+", TopTee: "+", BottomTee: "+", LeftTee: "+", RightTee: "+",
	}
	roundedBorder = BorderStyle{
		TopLeft: "╭", TopRight: "╮", BottomLeft: "╰", BottomRight: "╯",
		Horizontal: "─", Vertical: "│",
		Cross: "┼", TopTee: "┬", BottomTee: "┴", LeftTee: "├", RightTee: "┤",
	}

	DefaultTableStyle = TableStyle{Name: "default", Border: asciiBorder, HeaderSeparator: true, Padding: 1}
	RoundedTableStyle = TableStyle{Name: "rounded", Border: roundedBorder, HeaderSeparator: true, Padding: 1}
	CompactTableStyle = TableStyle{Name: "compact", Padding: 1}
)

// TableStyleByName returns a style by name, default when unknown
func TableStyleByName(name string) TableStyle {
	switch name {
	case "rounded":
		return RoundedTableStyle
	case "compact":
		return CompactTableStyle
	default:
		return DefaultTableStyle
	}
}

// Table renders rows with aligned columns. Cell colors are applied after width calculation.
type Table struct {
	headers    []string
	rows       [][]string
	colors     map[[2]int]Color
	alignments map[int]Alignment
	style      TableStyle
	maxWidth   int
	cs         ColorSystem
}

// NewTable creates a table. maxWidth 0 uses the terminal width.
func NewTable(cs ColorSystem, style TableStyle, maxWidth int) *Table {
	if maxWidth == 0 {
		maxWidth = terminalWidth()
	}
	return &Table{
		colors:     make(map[[2]int]Color),
		alignments: make(map[int]Alignment),
		style:      style,
		maxWidth:   maxWidth,
		cs:         cs,
	}
}

func (t *Table) SetHeaders(headers ...string) *Table {
	t.headers = headers
	return t
}

func (t *Table) AddRow(cells ...string) *Table {
	t.rows = append(t.rows, cells)
	return t
}

// ColorCell colors one cell of the most recently added row
func (t *Table) ColorCell(column int, clr Color) *Table {
	if len(t.rows) > 0 {
		t.colors[[2]int{len(t.rows) - 1, column}] = clr
	}
	return t
}

func (t *Table) SetAlignment(column int, a Alignment) *Table {
	t.alignments[column] = a
	return t
}

// Rows returns the number of data rows
func (t *Table) Rows() int {
	return len(t.rows)
}

// Render returns the table text
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}
	widths := t.fit(t.columnWidths())
	b := t.style.Border

	var out strings.Builder
	if b.Horizontal != "" {
		out.WriteString(t.rule(widths, b.TopLeft, b.TopTee, b.TopRight))
	}
	if len(t.headers) > 0 {
		out.WriteString(t.renderRow(-1, t.headers, widths))
		if t.style.HeaderSeparator && b.Horizontal != "" {
			out.WriteString(t.rule(widths, b.LeftTee, b.Cross, b.RightTee))
		}
	}
	for i, row := range t.rows {
		out.WriteString(t.renderRow(i, row, widths))
	}
	if b.Horizontal != "" {
		out.WriteString(t.rule(widths, b.BottomLeft, b.BottomTee, b.BottomRight))
	}
	return out.String()
}

// RenderTo writes the table to w
func (t *Table) RenderTo(w io.Writer) {
	fmt.Fprint(w, t.Render())
}

func (t *Table) columnWidths() []int {
	n := len(t.headers)
	for _, row := range t.rows {
		if len(row) > n {
			n = len(row)
		}
	}
	widths := make([]int, n)
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	return widths
}

// fit shrinks the widest columns until the table fits maxWidth
func (t *Table) fit(widths []int) []int {
	if t.maxWidth <= 0 {
		return widths
	}
	for t.totalWidth(widths) > t.maxWidth {
		widest := 0
		for i := range widths {
			if widths[i] > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= 6 {
			break
		}
		widths[widest]--
	}
	return widths
}

func (t *Table) totalWidth(widths []int) int {
	total := 0
	for _, w := range widths {
		total += w + 2*t.style.Padding
	}
	if t.style.Border.Vertical != "" {
		total += len(widths) + 1
	} else if len(widths) > 1 {
		total += len(widths) - 1
	}
	return total
}

func (t *Table) rule(widths []int, left, mid, right string) string {
	var out strings.Builder
	out.WriteString(left)
	for i, w := range widths {
		out.WriteString(strings.Repeat(t.style.Border.Horizontal, w+2*t.style.Padding))
		if i < len(widths)-1 {
			out.WriteString(mid)
		}
	}
	out.WriteString(right)
	out.WriteString("\n")
	return out.String()
}

func (t *Table) renderRow(index int, cells []string, widths []int) string {
	sep := t.style.Border.Vertical
	if sep == "" {
		sep = " "
	}

	var out strings.Builder
	if t.style.Border.Vertical != "" {
		out.WriteString(sep)
	}
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		out.WriteString(t.formatCell(index, i, cell, w))
		if t.style.Border.Vertical != "" || i < len(widths)-1 {
			out.WriteString(sep)
		}
	}
	if t.style.Border.Vertical == "" {
		return strings.TrimRight(out.String(), " ") + "\n"
	}
	out.WriteString("\n")
	return out.String()
}

func (t *Table) formatCell(row, column int, content string, width int) string {
	if utf8.RuneCountInString(content) > width {
		runes := []rune(content)
		if width > 3 {
			content = string(runes[:width-3]) + "..."
		} else {
			content = string(runes[:width])
		}
	}
	pad := width - utf8.RuneCountInString(content)

	if t.cs != nil {
		if row < 0 {
			content = t.cs.Colorize(content, t.cs.Theme().Primary)
		} else if clr, ok := t.colors[[2]int{row, column}]; ok {
			content = t.cs.Colorize(content, clr)
		}
	}

	padding := strings.Repeat(" ", t.style.Padding)
	if t.alignments[column] == AlignRight {
		return padding + strings.Repeat(" ", pad) + content + padding
	}
	return padding + content + strings.Repeat(" ", pad) + padding
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 0
	}
	return width
}
