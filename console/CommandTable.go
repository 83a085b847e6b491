package console

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"home-control/server"

	"github.com/c-bata/go-prompt"
	"golang.org/x/exp/slices"
)

// errQuit ends the console loop
var errQuit = errors.New("quit")

// toggler is implemented by bindings with lights that can be switched
type toggler interface {
	Toggle(ctx context.Context, id string) error
}

// dimmer is implemented by bindings with lights that can be dimmed
type dimmer interface {
	SetBrightness(ctx context.Context, id string, brightness int) error
}

// CommandDefinition describes one console command
type CommandDefinition struct {
	Name              string                                               // command name
	Aliases           []string                                             // other names
	Summary           string                                               // one line description
	Syntax            string                                               // usage
	RunFunc           func(s *Session, args []string) error                // runs the command
	GetCandidatesFunc func(s *Session, d prompt.Document) []prompt.Suggest // completion of the arguments
}

// CommandTable lists the console commands
var CommandTable = []CommandDefinition{
	{
		Name:    "show",
		Aliases: []string{"ls"},
		Summary: "show the services of the room",
		Syntax:  "show",
		RunFunc: func(s *Session, args []string) error {
			if room := s.controller.Room(); room != "" {
				s.printf("Room: %s\n", room)
			}
			s.surface.Render()
			return nil
		},
	},
	{
		Name:    "room",
		Summary: "select the room of this panel",
		Syntax:  "room",
		RunFunc: func(s *Session, args []string) error {
			s.controller.RequestConfiguration()
			return nil
		},
	},
	{
		Name:    "toggle",
		Summary: "switch a light on or off",
		Syntax:  "toggle <service label> <light id>",
		RunFunc: func(s *Session, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: toggle <service label> <light id>")
			}
			t, err := bindingAs[toggler](s, args[0])
			if err != nil {
				return err
			}
			return t.Toggle(s.ctx, args[1])
		},
		GetCandidatesFunc: labelCandidates,
	},
	{
		Name:    "brightness",
		Aliases: []string{"dim"},
		Summary: "change the brightness of a light",
		Syntax:  "brightness <service label> <light id> <1-254>",
		RunFunc: func(s *Session, args []string) error {
			if len(args) != 3 {
				return fmt.Errorf("usage: brightness <service label> <light id> <1-254>")
			}
			value, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid brightness %q", args[2])
			}
			d, err := bindingAs[dimmer](s, args[0])
			if err != nil {
				return err
			}
			return d.SetBrightness(s.ctx, args[1], value)
		},
		GetCandidatesFunc: labelCandidates,
	},
	{
		Name:    "reload",
		Summary: "reload the environment on the server",
		Syntax:  "reload",
		RunFunc: func(s *Session, args []string) error {
			var result server.ReloadResult
			if err := s.sender.Send(s.ctx, server.CommandReloadEnvironment, nil, &result); err != nil {
				return err
			}
			if !result.Reloaded {
				return fmt.Errorf("reload rejected: %s", result.Reason)
			}
			s.printf("Environment reloaded\n")
			return nil
		},
	},
	{
		Name:    "debug",
		Summary: "show the debug values of the server",
		Syntax:  "debug",
		RunFunc: func(s *Session, args []string) error {
			for _, value := range s.sender.DebugValues() {
				s.printf("%s\n", value)
			}
			return nil
		},
	},
	{
		Name:    "quit",
		Aliases: []string{"exit"},
		Summary: "exit the panel",
		Syntax:  "quit",
		RunFunc: func(s *Session, args []string) error {
			return errQuit
		},
	},
}

// printHelp lists the commands. help is not part of CommandTable since it reads it.
func printHelp(s *Session) {
	s.printf("  %-48s %s\n", "help", "show this help")
	for _, def := range CommandTable {
		s.printf("  %-48s %s\n", def.Syntax, def.Summary)
	}
}

func findCommand(name string) (CommandDefinition, bool) {
	i := slices.IndexFunc(CommandTable, func(def CommandDefinition) bool {
		return def.Name == name || slices.Contains(def.Aliases, name)
	})
	if i < 0 {
		return CommandDefinition{}, false
	}
	return CommandTable[i], true
}

func bindingAs[T any](s *Session, label string) (T, error) {
	var zero T
	binding, ok := s.surface.Binding(label)
	if !ok {
		return zero, fmt.Errorf("no service labelled %q in this room", label)
	}
	t, ok := binding.(T)
	if !ok {
		return zero, fmt.Errorf("service %q does not support this command", label)
	}
	return t, nil
}

func labelCandidates(s *Session, d prompt.Document) []prompt.Suggest {
	words := strings.Fields(d.TextBeforeCursor())
	if len(words) > 2 || (len(words) == 2 && strings.HasSuffix(d.TextBeforeCursor(), " ")) {
		return nil
	}
	suggests := make([]prompt.Suggest, 0)
	for _, label := range s.surface.Labels() {
		suggests = append(suggests, prompt.Suggest{Text: label})
	}
	return suggests
}
