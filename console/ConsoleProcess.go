package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"home-control/panel"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"
)

// Controller is the part of panel.Controller the console uses
type Controller interface {
	RequestConfiguration()
	Room() string
}

// Session is the state of one console
type Session struct {
	ctx        context.Context
	surface    *Surface
	controller Controller
	sender     panel.Sender
	out        io.Writer
}

func NewSession(ctx context.Context, surface *Surface, controller Controller, sender panel.Sender, out io.Writer) *Session {
	return &Session{
		ctx:        ctx,
		surface:    surface,
		controller: controller,
		sender:     sender,
		out:        out,
	}
}

func (s *Session) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}

// lineReader returns the next line entered by the user, io.EOF at the end of input
type lineReader func() (string, error)

// ConsoleProcess reads commands until quit, the end of the input or ctx is done.
// When stdin is a terminal, input goes through go-prompt with completion.
func ConsoleProcess(ctx context.Context, s *Session) {
	s.printf("help for usage, quit to exit\n")

	if term.IsTerminal(int(os.Stdin.Fd())) {
		historyFile := getHistoryFilePath()
		history := loadHistory(historyFile)
		read := func() (string, error) {
			line := prompt.Input("> ", s.complete,
				prompt.OptionHistory(history),
				prompt.OptionPrefixTextColor(prompt.Cyan),
			)
			if line = strings.TrimSpace(line); line != "" && s.surface.Selecting() == nil {
				history = append(history, line)
			}
			return line, nil
		}
		s.Loop(ctx, read)
		saveHistory(historyFile, history)
		return
	}

	scanner := bufio.NewScanner(os.Stdin)
	s.Loop(ctx, func() (string, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return scanner.Text(), nil
	})
}

// Loop runs the lines returned by read. While a room selection is open, a
// line answers it instead of running a command.
func (s *Session) Loop(ctx context.Context, read lineReader) {
	for ctx.Err() == nil {
		line, err := read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.printf("Error reading input: %v\n", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		if s.surface.Answer(line) {
			continue
		}
		if err := s.Execute(line); err != nil {
			if errors.Is(err, errQuit) {
				return
			}
			s.printf("Error: %v\n", err)
		}
	}
}

// Execute runs one command line
func (s *Session) Execute(line string) error {
	words := splitWords(line)
	if len(words) == 0 {
		return nil
	}
	if message := s.surface.Fatal(); message != "" && words[0] != "quit" && words[0] != "exit" {
		return fmt.Errorf("the panel stopped after a fatal error: %s", message)
	}

	if words[0] == "help" {
		printHelp(s)
		return nil
	}

	def, ok := findCommand(words[0])
	if !ok {
		return fmt.Errorf("unknown command %q, type help for usage", words[0])
	}
	return def.RunFunc(s, words[1:])
}

// complete is the go-prompt completer
func (s *Session) complete(d prompt.Document) []prompt.Suggest {
	if rooms := s.surface.Selecting(); rooms != nil {
		suggests := make([]prompt.Suggest, 0, len(rooms))
		for _, room := range rooms {
			suggests = append(suggests, prompt.Suggest{Text: room})
		}
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}

	text := d.TextBeforeCursor()
	words := strings.Fields(text)
	if len(words) == 0 || (len(words) == 1 && !strings.HasSuffix(text, " ")) {
		suggests := make([]prompt.Suggest, 0, len(CommandTable)+1)
		suggests = append(suggests, prompt.Suggest{Text: "help", Description: "show this help"})
		for _, def := range CommandTable {
			suggests = append(suggests, prompt.Suggest{Text: def.Name, Description: def.Summary})
		}
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}

	def, ok := findCommand(words[0])
	if !ok || def.GetCandidatesFunc == nil {
		return nil
	}
	return prompt.FilterHasPrefix(def.GetCandidatesFunc(s, d), d.GetWordBeforeCursor(), true)
}

// splitWords splits line on spaces. Double quotes group words: toggle "Desk lamps" 1
func splitWords(line string) []string {
	var words []string
	var current strings.Builder
	inQuotes := false
	hasWord := false

	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			hasWord = true
		case (r == ' ' || r == '\t') && !inQuotes:
			if hasWord {
				words = append(words, current.String())
				current.Reset()
				hasWord = false
			}
		default:
			current.WriteRune(r)
			hasWord = true
		}
	}
	if hasWord {
		words = append(words, current.String())
	}
	return words
}
