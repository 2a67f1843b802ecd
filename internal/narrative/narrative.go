package narrative

import (
	"fmt"
	"strings"
)

// Paginate splits a description into display lines, dropping blank ones. When
// nothing is left the original text is returned as the only line.
func Paginate(description string) []string {
	raw := strings.Split(strings.ReplaceAll(description, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
	}
	if len(lines) == 0 {
		return []string{description}
	}
	return lines
}

// Cursor walks a paginated narrative one line at a time. It never wraps.
type Cursor struct {
	lines []string
	index int
}

// NewCursor paginates description and positions the cursor on the first line.
func NewCursor(description string) *Cursor {
	return &Cursor{lines: Paginate(description)}
}

// Reset replaces the narrative and rewinds to the first line.
func (c *Cursor) Reset(description string) {
	c.lines = Paginate(description)
	c.index = 0
}

// Next advances one line. It reports false at the last line.
func (c *Cursor) Next() bool {
	if c.index >= len(c.lines)-1 {
		return false
	}
	c.index++
	return true
}

// Previous steps back one line. It reports false at the first line.
func (c *Cursor) Previous() bool {
	if c.index <= 0 {
		return false
	}
	c.index--
	return true
}

func (c *Cursor) Current() string {
	if len(c.lines) == 0 {
		return ""
	}
	return c.lines[c.index]
}

func (c *Cursor) Index() int { return c.index }

func (c *Cursor) Len() int { return len(c.lines) }

// Lines returns a copy of the paginated lines.
func (c *Cursor) Lines() []string {
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

// Label renders the position as "2 / 5".
func (c *Cursor) Label() string {
	return fmt.Sprintf("%d / %d", c.index+1, len(c.lines))
}
