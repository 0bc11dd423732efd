package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/telekom/oidc-cli/pkg/oidcctl/output"
)

// maxTokenSize bounds a single line read from stdin.
const maxTokenSize = 1 << 20

func NewInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [TOKEN...]",
		Short: "Decode tokens without verifying them",
		Long: "Decode and print every part of the given tokens. Without arguments the " +
			"tokens are read from stdin, one per line. The output is informational only, " +
			"signatures are not verified.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			tokens := args
			if len(tokens) == 0 {
				tokens, err = readTokens(rt.Input())
				if err != nil {
					return err
				}
			}
			now := rt.Clock().Now()
			for n, token := range tokens {
				rt.Logger().Debugw("Inspecting token", "index", n)
				if err := output.WriteInspection(rt.Writer(), n, token, now); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// readTokens reads one token per non-empty line. An interactive terminal is
// refused instead of silently waiting for input.
func readTokens(in io.Reader) ([]string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return nil, errors.New("no tokens given and stdin is a terminal, pass tokens as arguments or pipe them in")
	}
	var tokens []string
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxTokenSize)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			tokens = append(tokens, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tokens from stdin: %w", err)
	}
	return tokens, nil
}
