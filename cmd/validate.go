package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/list91/SocketClicker/api/schemas"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file.json ...]",
		Short: "Check command files without executing them",
		Long:  `Decodes each file (a command object or an array of them, "-" for stdin) and reports envelope and action problems.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, name := range args {
				cmds, err := readCommands(cmd.InOrStdin(), name)
				if err != nil {
					fmt.Fprintf(out, "%s: %v\n", name, err)
					failed++
					continue
				}
				for _, c := range cmds {
					problems := validateCommand(c)
					if len(problems) == 0 {
						fmt.Fprintf(out, "%s: command %s ok\n", name, c.ID)
						continue
					}
					failed++
					for _, p := range problems {
						fmt.Fprintf(out, "%s: command %s: %s\n", name, c.ID, p)
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d invalid command(s)", failed)
			}
			return nil
		},
	}
}

// readCommands decodes a single command or an array of commands.
func readCommands(stdin io.Reader, name string) ([]schemas.Command, error) {
	var (
		data []byte
		err  error
	)
	if name == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var cmds []schemas.Command
		if err := json.UnmarshalFromString(trimmed, &cmds); err != nil {
			return nil, fmt.Errorf("decoding commands: %w", err)
		}
		return cmds, nil
	}
	var c schemas.Command
	if err := json.UnmarshalFromString(trimmed, &c); err != nil {
		return nil, fmt.Errorf("decoding command: %w", err)
	}
	return []schemas.Command{c}, nil
}

func validateCommand(c schemas.Command) []string {
	var problems []string
	if err := c.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	actions, err := c.ActionList()
	if err != nil {
		return append(problems, err.Error())
	}
	if len(actions) == 0 {
		problems = append(problems, "no actions")
	}
	for i, act := range actions {
		switch {
		case !act.Kind.Known():
			problems = append(problems, fmt.Sprintf("action %d: unknown action %q", i, act.Kind))
		case act.Kind.TargetsElement() && act.Locator.IsZero():
			problems = append(problems, fmt.Sprintf("action %d: %s needs an element locator", i, act.Kind))
		}
	}
	return problems
}
