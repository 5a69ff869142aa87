package bot

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/isqad/livelook-meet/internal/client"
	"github.com/isqad/livelook-meet/internal/rtc"
)

var errLeave = errors.New("leave")

// participant is the part of client.Client driven by the console
type participant interface {
	Media() *rtc.MediaSync
	SendChat(text string) error
	RequestParticipants() error
	Roster() []rtc.RosterEntry
	Reconnect()
}

var _ participant = (*client.Client)(nil)

type console struct {
	p   participant
	out io.Writer
}

func newConsole(p participant, out io.Writer) *console {
	return &console{p: p, out: out}
}

const usage = `commands:
  mute | unmute
  video on | video off
  screen on | screen off
  chat <text>
  users
  reconnect
  leave`

// serve executes one command per line, nil means the input ended or `leave` was typed
func (c *console) serve(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		err := c.execute(scanner.Text())
		if errors.Is(err, errLeave) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (c *console) execute(line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return nil
	case "mute":
		c.p.Media().SetMuted(true)
	case "unmute":
		c.p.Media().SetMuted(false)
	case "video":
		on, err := onOff(arg)
		if err != nil {
			return err
		}
		c.p.Media().SetVideoOff(!on)
	case "screen":
		on, err := onOff(arg)
		if err != nil {
			return err
		}
		if !on {
			c.p.Media().StopScreenShare()
			return nil
		}
		return c.p.Media().StartScreenShare(nil)
	case "chat":
		if arg == "" {
			return errors.New("chat needs a text")
		}
		return c.p.SendChat(arg)
	case "users":
		c.printRoster()
		return c.p.RequestParticipants()
	case "reconnect":
		c.p.Reconnect()
	case "leave", "quit", "exit":
		return errLeave
	case "help":
		fmt.Fprintln(c.out, usage)
	default:
		return fmt.Errorf("unknown command %q, type help", cmd)
	}
	return nil
}

func (c *console) printRoster() {
	for _, e := range c.p.Roster() {
		flags := make([]string, 0, 4)
		if e.IsSelf {
			flags = append(flags, "you")
		}
		if e.IsMuted {
			flags = append(flags, "muted")
		}
		if e.IsVideoOff {
			flags = append(flags, "video off")
		}
		if e.IsScreenSharing {
			flags = append(flags, "sharing screen")
		}
		fmt.Fprintf(c.out, "%s\t%s\t%s\n", e.ConnectionID, e.DisplayName, strings.Join(flags, ", "))
	}
}

func onOff(arg string) (bool, error) {
	switch arg {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", arg)
}
