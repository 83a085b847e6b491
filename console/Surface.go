package console

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"home-control/panel"

	"golang.org/x/exp/slices"
)

// selectionRequest is an open room selection prompt
type selectionRequest struct {
	rooms []string
	reply chan string
}

// Surface renders a panel on a terminal. Room selection is answered by the
// next line the user enters, see Answer.
type Surface struct {
	out io.Writer

	mu           sync.Mutex
	enabled      bool
	notConnected bool
	fatal        string
	bindings     []panel.Binding
	selection    *selectionRequest
}

func NewSurface(out io.Writer) *Surface {
	return &Surface{out: out}
}

func (s *Surface) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}

func (s *Surface) SetInterfaceEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

func (s *Surface) ShowNotConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != "" || s.notConnected {
		return
	}
	s.notConnected = true
	s.printf("*** Not connected to the server, reconnecting...\n")
}

func (s *Surface) HideNotConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notConnected {
		s.notConnected = false
		s.printf("*** Connected\n")
	}
}

// SelectRoom prints the rooms and waits until Answer receives a valid choice
func (s *Surface) SelectRoom(ctx context.Context, rooms []string, current string, debugValues []string) (string, error) {
	request := &selectionRequest{rooms: rooms, reply: make(chan string, 1)}

	s.mu.Lock()
	if s.selection != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("a room selection is already open")
	}
	s.selection = request
	s.printf("Select the room of this panel:\n")
	for i, room := range rooms {
		marker := " "
		if room == current {
			marker = "*"
		}
		s.printf(" %s %d) %s\n", marker, i+1, room)
	}
	for _, value := range debugValues {
		s.printf("   %s\n", value)
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.selection == request {
			s.selection = nil
		}
		s.mu.Unlock()
	}()

	select {
	case room := <-request.reply:
		return room, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Selecting returns the rooms of the open selection prompt, nil when none is open
func (s *Surface) Selecting() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selection == nil {
		return nil
	}
	return slices.Clone(s.selection.rooms)
}

// Answer resolves the open selection prompt with line, a room name or its
// number. It returns false when no prompt is open.
func (s *Surface) Answer(line string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selection == nil {
		return false
	}

	line = strings.TrimSpace(line)
	room := ""
	if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(s.selection.rooms) {
		room = s.selection.rooms[n-1]
	} else if slices.Contains(s.selection.rooms, line) {
		room = line
	}
	if room == "" {
		s.printf("Unknown room %q, enter a number between 1 and %d\n", line, len(s.selection.rooms))
		return true
	}

	s.selection.reply <- room
	s.selection = nil
	return true
}

func (s *Surface) ShowFatalError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	s.fatal = message
	s.printf("*** Fatal error: %s\n*** Restart the panel to recover.\n", message)
}

// Fatal returns the fatal error message, "" while the panel is usable
func (s *Surface) Fatal() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = nil
}

func (s *Surface) Attach(binding panel.Binding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = append(s.bindings, binding)
}

// Binding returns the attached binding labelled label
func (s *Surface) Binding(label string) (panel.Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.bindings, func(b panel.Binding) bool { return b.Label() == label })
	if i < 0 {
		return nil, false
	}
	return s.bindings[i], true
}

// Labels returns the labels of the attached bindings
func (s *Surface) Labels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	labels := make([]string, 0, len(s.bindings))
	for _, b := range s.bindings {
		labels = append(labels, b.Label())
	}
	return labels
}

// Render prints every binding, one per line
func (s *Surface) Render() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.fatal != "":
		s.printf("*** Fatal error: %s\n", s.fatal)
		return
	case !s.enabled:
		s.printf("(interface disabled)\n")
		return
	case len(s.bindings) == 0:
		s.printf("(no services in this room)\n")
		return
	}
	for _, b := range s.bindings {
		if stringer, ok := b.(fmt.Stringer); ok {
			s.printf("%s\n", stringer.String())
		} else {
			s.printf("%s\n", b.Label())
		}
	}
}
