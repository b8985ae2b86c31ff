package commands

import (
	"bytes"
	"collab-lab/domain"
	"collab-lab/infrastructure/relay/memory"
	"collab-lab/keys"
	"collab-lab/runtime"
	"collab-lab/services"
	"context"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		line string
		want command
	}{
		{"chat line", "  hello there ", command{kind: cmdSay, text: "hello there"}},
		{"who", "/who", command{kind: cmdWho}},
		{"board", "/board", command{kind: cmdBoard}},
		{"clear", "/clear", command{kind: cmdClear}},
		{"quit", "/quit", command{kind: cmdQuit}},
		{"erase", "/erase a b", command{kind: cmdErase, ids: []string{"a", "b"}}},
		{"draw defaults", "/draw 0,0 10,5.5", command{
			kind:   cmdDraw,
			points: []domain.Point{{X: 0, Y: 0}, {X: 10, Y: 5.5}},
			color:  defaultColor,
			width:  defaultWidth,
		}},
		{"draw styled", "/draw 1,1 #ff0000 4", command{
			kind:   cmdDraw,
			points: []domain.Point{{X: 1, Y: 1}},
			color:  "#ff0000",
			width:  4,
		}},
		{"text", "/text 3,4 x squared", command{
			kind:   cmdText,
			points: []domain.Point{{X: 3, Y: 4}},
			text:   "x squared",
			color:  defaultColor,
			width:  defaultFontSize,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			got, err := parseCommand(tt.line)
			req.NoError(err)
			req.Equal(tt.want, got)
		})
	}
}

func TestParseCommand_Errors(t *testing.T) {
	for _, line := range []string{"/draw", "/draw 1;1", "/draw 1,1 -3", "/text 1,1", "/erase", "/dance"} {
		t.Run(line, func(t *testing.T) {
			_, err := parseCommand(line)
			require.Error(t, err)
		})
	}
}

func TestRepl_DrivesTheSession(t *testing.T) {
	req := require.New(t)
	color.Enable = false
	ctx := context.Background()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	hub := memory.NewHub(log, 0)
	sessionID := domain.SessionID("study-cli")
	key, err := keys.GenerateKey()
	req.NoError(err)

	join := func(userID string) (*services.Session, *keys.KeyStore) {
		store := keys.NewKeyStore()
		req.NoError(store.ImportKey(sessionID, key))
		transport := runtime.NewTransport(ctx, log, hub).WithPresenceKey(userID + "-cli")
		t.Cleanup(transport.Shutdown)
		s, err := services.NewSession(log, services.Config{SessionID: sessionID, UserID: userID, UserName: userID}, store, transport, nil)
		req.NoError(err)
		req.NoError(s.Start(ctx))
		req.Eventually(func() bool { return s.Status().IsSubscribed() }, time.Second, 5*time.Millisecond)
		s.TrackPresence(ctx)
		return s, store
	}
	alice, aliceKeys := join("alice")
	bob, _ := join("bob")
	req.Eventually(func() bool { return len(alice.Participants()) == 2 }, time.Second, 5*time.Millisecond)

	// Given Alice typing a few lines
	input := strings.NewReader(strings.Join([]string{
		"hello bob",
		"/draw 0,0 1,1 #00ff00",
		"/nope",
		"/who",
		"/board",
		"/quit",
		"never sent",
	}, "\n"))
	var out bytes.Buffer
	c := newConsole(&out, "alice")

	// When the prompt loop runs
	req.NoError(repl(ctx, input, c, alice, aliceKeys))

	// Then Bob got the message and the stroke, nothing after /quit
	req.Eventually(func() bool { return len(bob.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	req.Equal("hello bob", bob.Messages()[0].Plaintext)
	req.Eventually(func() bool { return len(bob.Whiteboard()) == 1 }, time.Second, 5*time.Millisecond)
	req.Equal("#00ff00", bob.Whiteboard()[0].(domain.DrawOperation).Color)
	time.Sleep(50 * time.Millisecond)
	req.Len(bob.Messages(), 1)

	// And Alice saw the error, the roster and the board
	printed := out.String()
	req.Contains(printed, "unknown command /nope")
	req.Contains(printed, "bob")
	req.Contains(printed, "#00ff00")
	req.Contains(printed, "Stroke ")
}

func TestKeygenCmd_PrintsKeyAndFingerprint(t *testing.T) {
	req := require.New(t)
	var out bytes.Buffer
	cmd := keygenCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})

	req.NoError(cmd.Execute())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	req.Len(lines, 2)
	req.True(strings.HasPrefix(lines[0], "Key: "))

	store := keys.NewKeyStore()
	req.NoError(store.ImportKey("any", strings.TrimPrefix(lines[0], "Key: ")))
	fingerprint, err := store.Fingerprint("any")
	req.NoError(err)
	req.Equal("Fingerprint: "+fingerprint, lines[1])
}

func TestRootCmd_RejectsMalformedEnvironment(t *testing.T) {
	req := require.New(t)
	t.Setenv("COLLAB_COLOURS", "maybe")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"keygen"})

	err := root.Execute()
	req.Error(err)
	req.Contains(err.Error(), "COLLAB_")
	req.NotContains(out.String(), "Fingerprint:")
}
