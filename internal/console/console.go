// Package console runs a line-oriented recording session on top of a flow.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/dgnsrekt/voicebooth/internal/flow"
	"github.com/dgnsrekt/voicebooth/internal/notify"
	"github.com/dgnsrekt/voicebooth/internal/session"
	"github.com/dgnsrekt/voicebooth/internal/takes"
)

// ErrUnknownCommand is returned for input the console does not understand.
var ErrUnknownCommand = errors.New("unknown command")

const helpText = `Commands:
  <enter>, r       start or stop recording the current take
  p <n|clip>       play or pause take n or a catalog clip
  s                stop playback
  redo <n>         record take n again
  preview          play every captured take in order
  l                list takes
  c                list catalog clips
  q                quit
`

// Console drives a flow from text commands.
type Console struct {
	flow *flow.Flow
	tty  bool

	mu  sync.Mutex
	out io.Writer
	// true while an elapsed line is drawn without a trailing newline
	ticking bool
}

// New creates a console writing to out. When tty is set, elapsed time is
// redrawn in place while recording.
func New(f *flow.Flow, out io.Writer, tty bool) *Console {
	return &Console{flow: f, out: out, tty: tty}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticking {
		fmt.Fprintln(c.out)
		c.ticking = false
	}
	fmt.Fprintf(c.out, format, args...)
}

// Watch prints session events until events is closed.
func (c *Console) Watch(events <-chan notify.Event) {
	for ev := range events {
		switch ev.Kind {
		case notify.KindElapsed:
			if !c.tty {
				continue
			}
			c.mu.Lock()
			fmt.Fprintf(c.out, "\r%s %s ", recStyle.Render("● REC"), flow.FormatElapsed(ev.Elapsed))
			c.ticking = true
			c.mu.Unlock()
		case notify.KindPlaybackCompleted:
			c.printf("%s\n", faintStyle.Render(ev.ClipID+" finished"))
		}
	}
}

// Run reads commands from in until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	c.printf("%s\n", faintStyle.Render("Type h for help."))
	c.showCurrent()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			quit, err := c.Exec(ctx, line)
			if err != nil {
				log.Debug("Console command failed", "line", line, "error", err)
				c.printf("%s\n", errorStyle.Render(describe(err)))
			}
			if quit {
				return nil
			}
		}
	}
}

// Exec runs a single command. It reports whether the console should quit.
func (c *Console) Exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		fields = []string{"r"}
	}

	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "r", "rec", "record":
		return false, c.toggleRecording(ctx)
	case "p", "play":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: play needs a take number or clip", ErrUnknownCommand)
		}
		return false, c.flow.Toggle(ctx, clipArg(args[0]))
	case "s", "stop":
		c.flow.StopAudition()
		return false, nil
	case "redo":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: redo needs a take number", ErrUnknownCommand)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("%w: %q is not a take number", ErrUnknownCommand, args[0])
		}
		if err := c.flow.Redo(n - 1); err != nil {
			return false, err
		}
		c.showCurrent()
		return false, nil
	case "preview":
		_, err := c.flow.Preview(ctx)
		return false, err
	case "l", "ls", "list", "takes":
		c.listTakes()
		return false, nil
	case "c", "catalog":
		c.listCatalog()
		return false, nil
	case "h", "help", "?":
		c.printf("%s", helpText)
		return false, nil
	case "q", "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
}

func (c *Console) toggleRecording(ctx context.Context) error {
	if c.flow.Current().Status == takes.StatusRecording {
		take, err := c.flow.EndTake(ctx)
		if err != nil {
			return err
		}
		c.printf("%s %s\n",
			capturedStyle.Render(fmt.Sprintf("✓ Captured take %d", take.Index+1)),
			faintStyle.Render(flow.FormatElapsed(take.Clip.Duration)))

		if c.flow.Complete() {
			c.printf("All takes captured. Type %s to listen.\n", playingStyle.Render("preview"))
			return nil
		}
		c.showCurrent()
		return nil
	}

	take, err := c.flow.BeginTake(ctx)
	if err != nil {
		return err
	}
	c.printf("%s %s\n", recStyle.Render("● Recording"), take.Prompt)
	return nil
}

func (c *Console) showCurrent() {
	take := c.flow.Current()
	if take.Status != takes.StatusPending {
		return
	}
	c.printf("%s take: %s\n", humanize.Ordinal(take.Index+1), take.Prompt)
}

func (c *Console) listTakes() {
	playing := c.flow.Playing()
	for _, t := range c.flow.Takes() {
		status := faintStyle.Render(t.Status.String())
		switch t.Status {
		case takes.StatusRecording:
			status = recStyle.Render(t.Status.String())
		case takes.StatusCaptured:
			status = capturedStyle.Render(fmt.Sprintf("%s %s", t.Status, flow.FormatElapsed(t.Clip.Duration)))
		}
		if playing == t.ClipID() {
			status += " " + playingStyle.Render("▶")
		}
		c.printf("%d. %-60s %s\n", t.Index+1, t.Prompt, status)
	}
}

func (c *Console) listCatalog() {
	for _, e := range c.flow.Catalog().Entries() {
		size := "built-in"
		if !e.Builtin {
			size = humanize.Bytes(uint64(e.Size))
		}
		c.printf("%-20s %-30s %s\n", e.ID, e.Title, faintStyle.Render(size))
	}
}

func clipArg(s string) string {
	if n, err := strconv.Atoi(s); err == nil {
		return takes.ClipID(n - 1)
	}
	return s
}

func describe(err error) string {
	switch {
	case errors.Is(err, session.ErrPermissionDenied):
		return "Microphone access was denied."
	case errors.Is(err, session.ErrInvalidState):
		return "That take is already captured; use redo to record it again."
	case errors.Is(err, session.ErrClipNotFound):
		return "No such take or clip."
	case errors.Is(err, session.ErrIndexOutOfRange):
		return "No such take."
	default:
		return err.Error()
	}
}
