package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/GriffinCanCode/omnicall/internal/events"
)

// console prints engine events for a human.
type console struct {
	w io.Writer

	stamp   *color.Color
	status  *color.Color
	match   *color.Color
	missed  *color.Color
	warning *color.Color
}

func newConsole(w io.Writer, colored bool) *console {
	c := &console{
		w:       w,
		stamp:   color.New(color.Faint),
		status:  color.New(color.FgCyan),
		match:   color.New(color.FgGreen, color.Bold),
		missed:  color.New(color.FgYellow),
		warning: color.New(color.FgRed),
	}
	for _, col := range []*color.Color{c.stamp, c.status, c.match, c.missed, c.warning} {
		if colored {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

func (c *console) print(ev events.Event) {
	c.stamp.Fprintf(c.w, "%s ", ev.At.Local().Format("15:04:05"))

	switch ev.Kind {
	case events.KindMatch:
		m := ev.Match
		if m == nil {
			return
		}
		col := c.match
		if m.Succeeded == 0 {
			col = c.missed
		}
		col.Fprintf(c.w, "match  score %.3f sent %d/%d", m.Score, m.Succeeded, m.Total)
		fmt.Fprintf(c.w, " total %d", m.TotalMatches)
		if m.New {
			fmt.Fprint(c.w, " new")
		}
		fmt.Fprintln(c.w)
	default:
		col := c.status
		if isProblem(ev.Status) {
			col = c.warning
		}
		col.Fprintln(c.w, ev.Status)
	}
}

// run prints events from src until it closes.
func (c *console) run(src <-chan events.Event) {
	for ev := range src {
		c.print(ev)
	}
}

func isProblem(status string) bool {
	for _, prefix := range []string{"capture error", "template error", "no devices reached"} {
		if strings.HasPrefix(status, prefix) {
			return true
		}
	}
	return false
}
