package commands

import (
	"collab-lab/domain"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

// console serializes output: remote events are printed from the dispatch
// goroutine while the prompt loop prints command results.
type console struct {
	mu   sync.Mutex
	out  io.Writer
	self string
}

func newConsole(out io.Writer, self string) *console {
	return &console{out: out, self: self}
}

func (c *console) println(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.out, line)
}

func (c *console) message(m domain.DecryptedMessage) {
	at := m.Timestamp.Local().Format("15:04:05")
	switch {
	case m.MessageType == domain.MessageTypeSystem:
		c.println(color.New(color.FgGray).Sprintf("%s * %s", at, m.Text()))
	case m.SenderID == c.self:
		// typed locally, already on screen
	case m.Undecryptable:
		c.println(color.New(color.FgRed).Sprintf("%s %s: %s", at, m.SenderName, m.Text()))
	default:
		c.println(fmt.Sprintf("%s %s: %s", at, color.New(color.FgGreen, color.OpBold).Sprint(m.SenderName), m.Text()))
	}
}

func (c *console) status(status domain.ChannelStatus) {
	if status.IsSubscribed() {
		return
	}
	c.println(color.New(color.FgYellow).Sprintf("Channel %s", status))
}

func (c *console) participants(users []domain.PresenceUser) {
	c.println(color.New(color.FgCyan).Sprintf("%d participant(s) online", len(users)))
}

func (c *console) info(text string) {
	c.println(color.New(color.FgCyan).Sprint(text))
}

func (c *console) fail(err error) {
	c.println(color.New(color.FgRed).Sprintf("Error: %v", err))
}

func (c *console) who(users []domain.PresenceUser) {
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		rows = append(rows, []string{u.ID, u.Name, u.JoinedAt.Local().Format("15:04:05")})
	}
	c.table([]string{"User", "Name", "Joined"}, rows)
}

func (c *console) board(ops []domain.WhiteboardOperation) {
	rows := make([][]string, 0, len(ops))
	for _, op := range ops {
		meta := op.Meta()
		rows = append(rows, []string{meta.ID, string(op.Kind()), meta.UserID, describe(op)})
	}
	c.table([]string{"Id", "Kind", "User", "Detail"}, rows)
}

func (c *console) table(header []string, rows [][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	table := tablewriter.NewWriter(c.out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.AppendBulk(rows)
	table.Render()
}

func describe(op domain.WhiteboardOperation) string {
	switch o := op.(type) {
	case domain.DrawOperation:
		points := make([]string, 0, len(o.Points))
		for _, p := range o.Points {
			points = append(points, fmt.Sprintf("%g,%g", p.X, p.Y))
		}
		return fmt.Sprintf("%s w%g %s", o.Color, o.Width, strings.Join(points, " "))
	case domain.TextOperation:
		return fmt.Sprintf("%q at %g,%g", o.Text, o.Position.X, o.Position.Y)
	case domain.EraseOperation:
		return strings.Join(o.TargetIDs, " ")
	default:
		return ""
	}
}
