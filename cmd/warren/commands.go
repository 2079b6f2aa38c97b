package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/warrenlabs/warren/pkg/probe"
	"github.com/warrenlabs/warren/pkg/registry"
	"github.com/warrenlabs/warren/pkg/sandbox"
)

func newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <session-id>",
		Short: "Provision a sandbox for a session and wait until it is ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			mgr := registry.NewManager(e.runtime, e.cfg.Sandbox, registry.WithStore(e.store))
			sb, err := mgr.Acquire(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s ready at %s\n", sb.Name, sb.Address)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show the run-state of the sandbox's internal services",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			sb, err := e.loadHandle(cmd, args[0])
			if err != nil {
				return err
			}

			// Single observation, no retries: this is a status report,
			// not a readiness wait.
			check := probe.Supervisor(sb)
			outcome, checkErr := check(cmd.Context())
			switch outcome {
			case probe.Ready:
				fmt.Println("all services running")
			case probe.Broken:
				fmt.Printf("broken: %v\n", checkErr)
			default:
				fmt.Println("not ready")
			}
			return nil
		},
	}
}

func newExecCmd() *cobra.Command {
	var shellID, dir string
	var wait int
	cmd := &cobra.Command{
		Use:   "exec <session-id> <command>",
		Short: "Run a shell command in the sandbox and print its output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			sb, err := e.loadHandle(cmd, args[0])
			if err != nil {
				return err
			}

			if tr := sb.ShellExec(cmd.Context(), shellID, dir, args[1]); !tr.Success {
				return fmt.Errorf("exec failed: %s", tr.Error)
			}
			if tr := sb.ShellWait(cmd.Context(), shellID, &wait); !tr.Success {
				return fmt.Errorf("wait failed: %s", tr.Error)
			}
			return printResult(sb.ShellView(cmd.Context(), shellID, false))
		},
	}
	cmd.Flags().StringVar(&shellID, "shell", "default", "shell session id")
	cmd.Flags().StringVar(&dir, "dir", "/tmp", "working directory")
	cmd.Flags().IntVar(&wait, "wait", 30, "seconds to wait for completion")
	return cmd
}

func newViewCmd() *cobra.Command {
	var shellID string
	var console bool
	cmd := &cobra.Command{
		Use:   "view <session-id>",
		Short: "Show a shell session's output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			sb, err := e.loadHandle(cmd, args[0])
			if err != nil {
				return err
			}
			return printResult(sb.ShellView(cmd.Context(), shellID, console))
		},
	}
	cmd.Flags().StringVar(&shellID, "shell", "default", "shell session id")
	cmd.Flags().BoolVar(&console, "console", false, "include full console history")
	return cmd
}

func newKillCmd() *cobra.Command {
	var shellID string
	cmd := &cobra.Command{
		Use:   "kill <session-id>",
		Short: "Terminate a shell session's running process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			sb, err := e.loadHandle(cmd, args[0])
			if err != nil {
				return err
			}
			return printResult(sb.ShellKill(cmd.Context(), shellID))
		},
	}
	cmd.Flags().StringVar(&shellID, "shell", "default", "shell session id")
	return cmd
}

func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <session-id> <path>",
		Short: "Read a file from the sandbox",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			sb, err := e.loadHandle(cmd, args[0])
			if err != nil {
				return err
			}
			return printResult(sb.ReadFile(cmd.Context(), args[1], nil, nil, false))
		},
	}
}

func newWriteCmd() *cobra.Command {
	var content string
	var appendFlag bool
	cmd := &cobra.Command{
		Use:   "write <session-id> <path>",
		Short: "Write a file inside the sandbox",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			sb, err := e.loadHandle(cmd, args[0])
			if err != nil {
				return err
			}
			return printResult(sb.WriteFile(cmd.Context(), args[1], content, appendFlag, false))
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "file content")
	cmd.Flags().BoolVar(&appendFlag, "append", false, "append instead of overwrite")
	return cmd
}

func newBrowseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse <session-id> <url>",
		Short: "Navigate the sandbox browser to a URL and print the page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			sb, err := e.loadHandle(cmd, args[0])
			if err != nil {
				return err
			}
			return printResult(sb.BrowserNavigate(cmd.Context(), args[1]))
		},
	}
}

func newDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <session-id>",
		Short: "Destroy the session's sandbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			rec, err := e.store.Get(cmd.Context(), args[0])
			if err != nil {
				// Nothing recorded means nothing to destroy.
				fmt.Println("no sandbox for session", args[0])
				return nil
			}

			sb := sandbox.New(rec.Name, rec.ContainerID, rec.Address, e.cfg.Sandbox)
			if !e.runtime.Destroy(cmd.Context(), sb) {
				return fmt.Errorf("failed to destroy sandbox %s", rec.Name)
			}

			rec.State = sandbox.StateDestroyed.String()
			rec.UpdatedAt = time.Now().UTC()
			if err := e.store.Put(cmd.Context(), rec); err != nil {
				return fmt.Errorf("updating record: %w", err)
			}
			fmt.Println("destroyed", rec.Name)
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded sandbox lifecycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			recs, err := e.store.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, rec := range recs {
				fmt.Printf("%-20s %-24s %-15s %s\n", rec.SessionID, rec.Name, rec.Address, rec.State)
			}
			return nil
		},
	}
}

func newPsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List managed sandbox containers known to Docker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			containers, err := e.runtime.ListManaged(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range containers {
				name := ""
				if len(c.Names) > 0 {
					name = c.Names[0]
				}
				fmt.Printf("%-24s %-12s %-10s session=%s\n", name, c.ID[:12], c.State, c.Labels["warren.session"])
			}
			return nil
		},
	}
}

// printResult renders a ToolResult for the terminal: data or message on
// success, the error on failure (as a command error so the exit code is
// non-zero).
func printResult(tr *sandbox.ToolResult) error {
	if !tr.Success {
		return fmt.Errorf("%s", tr.Error)
	}
	if len(tr.Data) > 0 {
		var pretty map[string]any
		if err := json.Unmarshal(tr.Data, &pretty); err == nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(pretty)
		}
		fmt.Println(string(tr.Data))
		return nil
	}
	fmt.Println(tr.Message)
	return nil
}
