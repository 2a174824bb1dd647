package batch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const PromptMessage = "Enter number of deployments: "

// CountSource yields how many deployments a run should perform.
type CountSource interface {
	Count() (int, error)
}

// ParseCount accepts a positive base-10 integer surrounded by optional
// whitespace. Anything else wraps ErrInvalidCount.
func ParseCount(s string) (int, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidCount, s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d, please enter a positive number", ErrInvalidCount, n)
	}
	return n, nil
}

// Fixed is a count supplied up front, e.g. from a flag.
type Fixed int

func (f Fixed) Count() (int, error) {
	if f <= 0 {
		return 0, fmt.Errorf("%w: %d, please enter a positive number", ErrInvalidCount, int(f))
	}
	return int(f), nil
}

// Prompt asks for the count on Out and reads one line from In.
type Prompt struct {
	In      io.Reader
	Out     io.Writer
	Message string
}

func (p Prompt) Count() (int, error) {
	msg := p.Message
	if msg == "" {
		msg = PromptMessage
	}
	if p.Out != nil {
		fmt.Fprint(p.Out, msg)
	}

	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("read number of deployments: %w", err)
	}
	return ParseCount(line)
}
