package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/KaramelBytes/agentviz-cli/internal/report"
	"github.com/KaramelBytes/agentviz-cli/internal/session"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const shellPrompt = "agentviz> "

var shellFormat string

var shellCmd = &cobra.Command{
	Use:   "shell [file]",
	Short: "Interactive session: load a file once, then ask questions",
	Long: `Start an interactive session. Lines starting with a dot are commands
(.help lists them); any other line is submitted as a query against the
processed file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := report.ParseFormat(shellFormat)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		sh := newShell(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), format)
		if len(args) == 1 {
			sh.handleLine(".file " + args[0])
			if sh.ctrl.State() == session.FileSelected {
				sh.handleLine(".process")
			}
		}

		rl, err := readline.NewEx(&readline.Config{
			Prompt:          shellPrompt,
			HistoryFile:     effectiveConfig().HistoryFile,
			AutoComplete:    shellCompleter(),
			InterruptPrompt: "^C",
			EOFPrompt:       ".quit",
		})
		if err != nil {
			return fmt.Errorf("failed to initialize shell: %w", err)
		}
		defer func() { _ = rl.Close() }()

		_, _ = fmt.Fprintf(sh.out, "AgentViz shell (backend: %s)\n", effectiveConfig().BackendURL)
		_, _ = fmt.Fprintln(sh.out, "Type .help for commands, .quit to exit")
		for {
			line, err := rl.Readline()
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if sh.handleLine(line) {
				return nil
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
	shellCmd.Flags().StringVarP(&shellFormat, "format", "f", "text", "output format: text | markdown | json | yaml")
}

// shell is the line handler behind the interactive session.
type shell struct {
	ctx    context.Context
	ctrl   *session.Controller
	out    io.Writer
	errOut io.Writer
	format report.Format
	last   session.State
}

func newShell(ctx context.Context, out, errOut io.Writer, format report.Format) *shell {
	sh := &shell{ctx: ctx, out: out, errOut: errOut, format: format}
	sh.ctrl = newController(session.WithObserver(sh.progress))
	return sh
}

// progress prints in-flight states so slow backend calls show activity.
func (sh *shell) progress(v session.View) {
	if v.State == sh.last {
		return
	}
	sh.last = v.State
	switch v.State {
	case session.Uploading:
		_, _ = fmt.Fprintf(sh.errOut, "… uploading %s\n", v.File)
	case session.Querying:
		_, _ = fmt.Fprintln(sh.errOut, "… running query")
	}
}

// handleLine runs one input line and reports whether the shell should exit.
func (sh *shell) handleLine(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, ".") {
		sh.query(line)
		return false
	}

	parts := strings.Fields(line)
	arg := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))
	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit":
		return true
	case ".help":
		printShellHelp(sh.out)
	case ".file":
		if arg == "" {
			_, _ = fmt.Fprintln(sh.errOut, "Usage: .file <path>")
			return false
		}
		src, err := session.LoadSourceFile(arg)
		if err != nil {
			sh.fail(err)
			return false
		}
		sh.ctrl.SelectFile(src)
		_, _ = fmt.Fprintf(sh.out, "Selected %s (%d bytes). Run .process to upload it.\n", src.Name, len(src.Content))
	case ".process":
		if err := sh.ctrl.ProcessData(sh.ctx); err != nil {
			sh.failRun(err)
			if sh.ctrl.Snapshot().Session == nil {
				return false
			}
		}
		sh.render()
	case ".state":
		sh.render()
	case ".charts":
		if arg == "" {
			_, _ = fmt.Fprintln(sh.errOut, "Usage: .charts <dir>")
			return false
		}
		paths, err := report.ExportCharts(arg, sh.ctrl.Snapshot().Charts)
		if err != nil {
			sh.fail(err)
			return false
		}
		_, _ = fmt.Fprintf(sh.out, "Wrote %d chart(s) to %s\n", len(paths), arg)
	case ".format":
		f, err := report.ParseFormat(arg)
		if err != nil {
			sh.fail(err)
			return false
		}
		sh.format = f
	case ".reset":
		sh.ctrl.Reset()
		_, _ = fmt.Fprintln(sh.out, "Session cleared")
	default:
		_, _ = fmt.Fprintf(sh.errOut, "Unknown command: %s (type .help for commands)\n", parts[0])
	}
	return false
}

// query submits text against the live session. Without one, the text is kept
// and runs as part of the next .process.
func (sh *shell) query(text string) {
	if st := sh.ctrl.State(); !st.CanQuery() && !sh.ctrl.Busy() {
		sh.ctrl.SetQuery(text)
		_, _ = fmt.Fprintln(sh.out, "Query saved; it runs after .process")
		return
	}
	if err := sh.ctrl.SubmitQuery(sh.ctx, text); err != nil {
		sh.failRun(err)
		if sh.ctrl.State() != session.QueryReady {
			return
		}
	}
	sh.render()
}

func (sh *shell) render() {
	if err := report.Render(sh.out, sh.ctrl.Snapshot(), sh.format); err != nil {
		sh.fail(err)
	}
	_, _ = fmt.Fprintln(sh.out)
}

func (sh *shell) fail(err error) {
	_, _ = fmt.Fprintf(sh.errOut, "Error: %s\n", explain(err).Error())
}

// failRun reports a rejected ProcessData or SubmitQuery. Rejections that never
// reach the backend print the controller's own message.
func (sh *shell) failRun(err error) {
	var verr *session.ValidationError
	if errors.Is(err, session.ErrNoSession) || errors.Is(err, session.ErrBusy) || errors.As(err, &verr) {
		if msg := sh.ctrl.Err(); msg != "" {
			_, _ = fmt.Fprintf(sh.errOut, "Error: %s\n", msg)
			return
		}
	}
	sh.fail(err)
}

func printShellHelp(w io.Writer) {
	help := `
Commands:
  .file <path>     Select a CSV, XLSX or SQL file
  .process         Upload the selected file and fetch dataset charts;
                   the last submitted query runs again on the new session
  .state           Show the current session
  .charts <dir>    Export the current charts to a directory
  .format <name>   Switch output format (text, markdown, json, yaml)
  .reset           Forget the file and session
  .help            Show this help message
  .quit / .exit    Exit the shell

Any other line is submitted as a query.
`
	_, _ = fmt.Fprintln(w, help)
}

func shellCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem(".file"),
		readline.PcItem(".process"),
		readline.PcItem(".state"),
		readline.PcItem(".charts"),
		readline.PcItem(".format",
			readline.PcItem("text"),
			readline.PcItem("markdown"),
			readline.PcItem("json"),
			readline.PcItem("yaml"),
		),
		readline.PcItem(".reset"),
		readline.PcItem(".help"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}
