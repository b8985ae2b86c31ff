package commands

import (
	"bufio"
	"collab-lab/domain"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type commandKind int

const (
	cmdSay commandKind = iota
	cmdWho
	cmdBoard
	cmdDraw
	cmdText
	cmdErase
	cmdClear
	cmdFingerprint
	cmdQuit
)

const (
	defaultColor    = "#000000"
	defaultWidth    = 2.0
	defaultFontSize = 16.0
)

type command struct {
	kind   commandKind
	text   string
	points []domain.Point
	color  string
	width  float64
	ids    []string
}

// parseCommand reads one input line. Anything not starting with '/' is a
// chat message.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdSay, text: line}, nil
	}
	fields := strings.Fields(line)
	args := fields[1:]
	switch fields[0] {
	case "/who":
		return command{kind: cmdWho}, nil
	case "/board":
		return command{kind: cmdBoard}, nil
	case "/clear":
		return command{kind: cmdClear}, nil
	case "/fingerprint":
		return command{kind: cmdFingerprint}, nil
	case "/quit", "/exit":
		return command{kind: cmdQuit}, nil
	case "/erase":
		if len(args) == 0 {
			return command{}, fmt.Errorf("usage: /erase id...")
		}
		return command{kind: cmdErase, ids: args}, nil
	case "/text":
		if len(args) < 2 {
			return command{}, fmt.Errorf("usage: /text x,y words...")
		}
		p, err := parsePoint(args[0])
		if err != nil {
			return command{}, err
		}
		return command{kind: cmdText, points: []domain.Point{p}, text: strings.Join(args[1:], " "), color: defaultColor, width: defaultFontSize}, nil
	case "/draw":
		return parseDraw(args)
	default:
		return command{}, fmt.Errorf("unknown command %s", fields[0])
	}
}

func parseDraw(args []string) (command, error) {
	c := command{kind: cmdDraw, color: defaultColor, width: defaultWidth}
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "#"):
			c.color = arg
		case strings.Contains(arg, ","):
			p, err := parsePoint(arg)
			if err != nil {
				return command{}, err
			}
			c.points = append(c.points, p)
		default:
			w, err := strconv.ParseFloat(arg, 64)
			if err != nil || w <= 0 {
				return command{}, fmt.Errorf("invalid width %q", arg)
			}
			c.width = w
		}
	}
	if len(c.points) == 0 {
		return command{}, fmt.Errorf("usage: /draw x,y x,y... [#rgb] [width]")
	}
	return c, nil
}

func parsePoint(s string) (domain.Point, error) {
	x, y, ok := strings.Cut(s, ",")
	if !ok {
		return domain.Point{}, fmt.Errorf("invalid point %q", s)
	}
	px, err := strconv.ParseFloat(x, 64)
	if err != nil {
		return domain.Point{}, fmt.Errorf("invalid point %q", s)
	}
	py, err := strconv.ParseFloat(y, 64)
	if err != nil {
		return domain.Point{}, fmt.Errorf("invalid point %q", s)
	}
	return domain.Point{X: px, Y: py}, nil
}

type fingerprinter interface {
	Fingerprint(sessionID domain.SessionID) (string, error)
}

type session interface {
	SendMessage(ctx context.Context, text string) (domain.ChatMessage, error)
	DrawLine(ctx context.Context, points []domain.Point, color string, width float64) (domain.DrawOperation, error)
	AddText(ctx context.Context, at domain.Point, text, color string, fontSize float64) (domain.TextOperation, error)
	Erase(ctx context.Context, targetIDs ...string) (domain.EraseOperation, error)
	Clear(ctx context.Context) (domain.ClearOperation, error)
	VisibleWhiteboard() []domain.WhiteboardOperation
	Participants() []domain.PresenceUser
	SessionID() domain.SessionID
}

// repl runs until /quit, end of input or ctx cancellation.
func repl(ctx context.Context, in io.Reader, c *console, s session, keys fingerprinter) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		cmd, err := parseCommand(line)
		if err != nil {
			c.fail(err)
			continue
		}
		if cmd.kind == cmdQuit {
			return nil
		}
		if err = execute(ctx, cmd, c, s, keys); err != nil {
			c.fail(err)
		}
	}
}

func execute(ctx context.Context, cmd command, c *console, s session, keys fingerprinter) error {
	switch cmd.kind {
	case cmdSay:
		_, err := s.SendMessage(ctx, cmd.text)
		return err
	case cmdWho:
		c.who(s.Participants())
	case cmdBoard:
		c.board(s.VisibleWhiteboard())
	case cmdDraw:
		op, err := s.DrawLine(ctx, cmd.points, cmd.color, cmd.width)
		if err != nil {
			return err
		}
		c.info("Stroke " + op.ID)
	case cmdText:
		op, err := s.AddText(ctx, cmd.points[0], cmd.text, cmd.color, cmd.width)
		if err != nil {
			return err
		}
		c.info("Text " + op.ID)
	case cmdErase:
		_, err := s.Erase(ctx, cmd.ids...)
		return err
	case cmdClear:
		_, err := s.Clear(ctx)
		return err
	case cmdFingerprint:
		fingerprint, err := keys.Fingerprint(s.SessionID())
		if err != nil {
			return err
		}
		c.info("Fingerprint " + fingerprint)
	}
	return nil
}
