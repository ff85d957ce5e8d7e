package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter 终端确认。非交互输入时直接返回默认值
type Prompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	assumeYes   bool
}

func NewPrompter(in io.Reader, out io.Writer, assumeYes bool) *Prompter {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &Prompter{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: interactive,
		assumeYes:   assumeYes,
	}
}

// Confirm 询问是否继续。assumeYes 只通过默认为是的问题
func (p *Prompter) Confirm(msg string, def bool) bool {
	suffix := "[Y/n]"
	if !def {
		suffix = "[y/N]"
	}

	if p.assumeYes && def {
		fmt.Fprintf(p.out, "%s %s: y\n", msg, suffix)
		return true
	}
	if !p.interactive {
		fmt.Fprintf(p.out, "%s %s: %s\n", msg, suffix, answer(def))
		return def
	}

	fmt.Fprintf(p.out, "%s %s: ", msg, suffix)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return def
	}
	line = strings.ToLower(strings.TrimSpace(line))
	if line == "" {
		return def
	}
	return strings.HasPrefix(line, "y")
}

func answer(yes bool) string {
	if yes {
		return "y"
	}
	return "n"
}
