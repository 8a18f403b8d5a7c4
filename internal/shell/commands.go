package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/seqctl/internal/command"
	"github.com/pitabwire/seqctl/internal/observability"
	"github.com/pitabwire/seqctl/internal/transport"
	"github.com/pitabwire/seqctl/model"
)

// errFailed is returned by commands whose failure has already been
// rendered.
var errFailed = errors.New("invocation failed")

type shell struct {
	app     *App
	io      IO
	printer printer

	promptMu sync.Mutex
	prompt   *bufio.Reader
}

func newRootCommand(app *App, g *globalFlags, streams IO) *cobra.Command {
	s := &shell{
		app:     app,
		io:      streams,
		printer: newPrinter(app.Config.Shell.Output, streams.Out),
	}

	root := &cobra.Command{
		Use:   "seqctl",
		Short: "Invoke sequence-store, workflow and sharing operations",
		Long: `seqctl invokes the operations of the omics data-management service.

Every operation in the operation table is a subcommand with one flag per
parameter. Results are written to standard output as JSON or YAML; warnings
and errors go to standard error.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(streams.In)
	root.SetOut(streams.Out)
	root.SetErr(streams.Err)
	g.register(root.PersistentFlags())

	root.AddGroup(&cobra.Group{ID: "operations", Title: "Operations:"})
	for _, op := range app.Registry.AllOperations() {
		root.AddCommand(s.operationCommand(op))
	}
	root.AddCommand(
		s.operationsCommand(),
		s.describeCommand(),
		s.batchCommand(),
		s.serveCommand(),
		versionCommand(),
	)
	return root
}

func (s *shell) operationCommand(op model.OperationDefinition) *cobra.Command {
	var (
		selectExpr string
		passThru   bool
		force      bool
	)

	cmd := &cobra.Command{
		Use:     op.Name,
		Aliases: []string{strings.ToLower(op.Name)},
		Short:   op.Description,
		GroupID: "operations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inputs, err := flagInputs(op, cmd.Flags())
			if err != nil {
				return err
			}
			in := model.InvocationInput{
				Operation: op.Name,
				Inputs:    inputs,
				Select:    selectExpr,
				PassThru:  passThru,
				Confirm:   force,
			}
			res := s.app.Adapter.Run(cmd.Context(), in, s.gate(force))
			return s.report(res)
		},
	}

	fs := cmd.Flags()
	for _, p := range op.Parameters {
		usage := p.Description
		if p.Mandatory {
			usage = strings.TrimSpace(usage + " (mandatory)")
		}
		name := p.FlagName()
		switch p.ParamType() {
		case model.ParamStringList:
			fs.StringSlice(name, nil, usage)
		case model.ParamInt:
			fs.Int(name, 0, usage)
		case model.ParamBool:
			fs.Bool(name, false, usage)
		case model.ParamMap:
			fs.StringToString(name, nil, usage)
		default:
			fs.String(name, "", usage)
		}
	}
	fs.StringVar(&selectExpr, "select", "", `output selector: "*", a response field, or ^Parameter`)
	fs.BoolVar(&passThru, "pass-thru", false, "print the primary parameter instead of the response")
	if op.Mutating {
		fs.BoolVarP(&force, "force", "f", false, "do not ask for confirmation")
	}
	return cmd
}

// flagInputs collects the parameters whose flags were set. Flags left at
// their zero value are not supplied, so they never reach the request.
func flagInputs(op model.OperationDefinition, fs *pflag.FlagSet) (map[string]any, error) {
	inputs := make(map[string]any)
	for _, p := range op.Parameters {
		name := p.FlagName()
		if !fs.Changed(name) {
			continue
		}
		var (
			v   any
			err error
		)
		switch p.ParamType() {
		case model.ParamStringList:
			v, err = fs.GetStringSlice(name)
		case model.ParamInt:
			v, err = fs.GetInt(name)
		case model.ParamBool:
			v, err = fs.GetBool(name)
		case model.ParamMap:
			v, err = fs.GetStringToString(name)
		default:
			v, err = fs.GetString(name)
		}
		if err != nil {
			return nil, err
		}
		inputs[p.Name] = v
	}
	return inputs, nil
}

// gate asks on the terminal before a mutating operation runs, unless force
// is set.
func (s *shell) gate(force bool) command.Gate {
	if force {
		return command.AlwaysConfirm
	}
	return func(_ context.Context, op model.OperationDefinition, _ model.InvocationInput) error {
		s.promptMu.Lock()
		defer s.promptMu.Unlock()

		if s.prompt == nil {
			s.prompt = bufio.NewReader(s.io.In)
		}
		fmt.Fprintf(s.io.Err, "%s changes remote state. Continue? [y/N] ", op.Name)
		line, _ := s.prompt.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return nil
		}
		return model.NewNotConfirmedError(op.Name)
	}
}

// report prints one result: output to stdout, warnings and errors to
// stderr.
func (s *shell) report(res command.Result) error {
	for _, w := range res.Warnings {
		fmt.Fprintf(s.io.Err, "warning: %s\n", w)
	}
	if res.Err != nil {
		s.printError(res.Invocation, res.Err)
		return errFailed
	}
	return s.printer.print(res.Output)
}

func (s *shell) printError(inv *model.Invocation, err error) {
	ee := model.EnvelopeFor(err)
	fmt.Fprintf(s.io.Err, "error: %s: %s\n", ee.Code, ee.Message)
	for _, d := range ee.Details {
		fmt.Fprintf(s.io.Err, "  %s: %s (%s)\n", d.Field, d.Message, d.Code)
	}
	if inv != nil {
		fmt.Fprintf(s.io.Err, "  invocation: %s %s\n", inv.Operation, inv.ID)
	}
}

type operationRow struct {
	Name        string `json:"name"                  yaml:"name"`
	Service     string `json:"service"               yaml:"service"`
	Mutating    bool   `json:"mutating"              yaml:"mutating"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

func (s *shell) operationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "operations",
		Short: "List the operations in the operation table",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ops := s.app.Registry.AllOperations()
			rows := make([]operationRow, 0, len(ops))
			for _, op := range ops {
				rows = append(rows, operationRow{
					Name:        op.Name,
					Service:     op.Binding.ServiceID,
					Mutating:    op.Mutating,
					Description: op.Description,
				})
			}
			return s.printer.print(rows)
		},
	}
}

func (s *shell) describeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "describe OPERATION",
		Short: "Show the parameters and response fields of an operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			op, ok := s.app.Registry.GetOperation(args[0])
			if !ok {
				return model.NewNotFoundError(fmt.Sprintf("operation %q is not defined", args[0]))
			}
			return s.printer.print(op)
		},
	}
}

// batchItem is one line of batch output.
type batchItem struct {
	Index        int                  `json:"index"                   yaml:"index"`
	Operation    string               `json:"operation"               yaml:"operation"`
	InvocationID string               `json:"invocation_id,omitempty" yaml:"invocation_id,omitempty"`
	Outcome      string               `json:"outcome"                 yaml:"outcome"`
	Output       any                  `json:"output,omitempty"        yaml:"output,omitempty"`
	Warnings     []string             `json:"warnings,omitempty"      yaml:"warnings,omitempty"`
	Error        *model.ErrorEnvelope `json:"error,omitempty"         yaml:"error,omitempty"`
}

func (s *shell) batchCommand() *cobra.Command {
	var (
		parallel int
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Run a list of invocations from a YAML or JSON file (- for stdin)",
		Long: `Run a list of invocations from a YAML or JSON file.

Each item names an operation and its inputs:

  - operation: GetWorkflow
    inputs: {Id: wf-123}
  - operation: DeleteShare
    inputs: {ShareId: share-1}
    confirm: true

Every item runs even when earlier ones fail. Mutating items run only when
they set confirm or --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := s.readBatch(args[0])
			if err != nil {
				return err
			}
			if parallel < 1 {
				parallel = s.app.Config.Shell.BatchParallel
			}

			gate := command.RequireConfirmFlag
			if force {
				gate = command.AlwaysConfirm
			}
			results, _ := s.app.Adapter.RunBatch(cmd.Context(), items, command.BatchOptions{
				Parallelism: parallel,
				Confirm:     gate,
				OnItem: func(res command.Result) {
					s.app.Metrics.RecordBatchItem(res.Outcome())
				},
			})

			out := make([]batchItem, 0, len(results))
			failed := 0
			for _, res := range results {
				item := batchItem{
					Index:     res.Index,
					Operation: res.Operation,
					Outcome:   res.Outcome(),
					Output:    res.Output,
					Warnings:  res.Warnings,
					Error:     model.EnvelopeFor(res.Err),
				}
				if res.Invocation != nil {
					item.InvocationID = res.Invocation.ID
				}
				for _, w := range res.Warnings {
					fmt.Fprintf(s.io.Err, "warning: item %d: %s\n", res.Index, w)
				}
				if res.Err != nil {
					failed++
					fmt.Fprintf(s.io.Err, "item %d (%s) ", res.Index, res.Operation)
					s.printError(res.Invocation, res.Err)
				}
				out = append(out, item)
			}
			if err := s.printer.print(out); err != nil {
				return err
			}
			if failed > 0 {
				fmt.Fprintf(s.io.Err, "%d of %d invocations failed\n", failed, len(results))
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "number of invocations to run at once (default shell.batch_parallel)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "run mutating items without confirm")
	return cmd
}

// readBatch decodes a batch file: either a list of items or a mapping with
// an items key.
func (s *shell) readBatch(path string) ([]model.InvocationInput, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(s.io.In)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, model.NewConfigurationError("batch: %v", err)
	}

	var items []model.InvocationInput
	if err := yaml.Unmarshal(data, &items); err != nil {
		var wrapped struct {
			Items []model.InvocationInput `yaml:"items"`
		}
		if werr := yaml.Unmarshal(data, &wrapped); werr != nil {
			return nil, model.NewConfigurationError("batch: %v", err)
		}
		items = wrapped.Items
	}
	if len(items) == 0 {
		return nil, model.NewConfigurationError("batch: %s has no items", path)
	}
	for i, item := range items {
		if item.Operation == "" {
			return nil, model.NewConfigurationError("batch: item %d has no operation", i)
		}
	}
	return items, nil
}

func (s *shell) serveCommand() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the operation table over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := s.app.Config.Server
			if port > 0 {
				cfg.Port = port
			}
			handler, err := s.app.Router()
			if err != nil {
				return err
			}
			srv := transport.NewServer(cfg, handler)
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return transport.Serve(cmd.Context(), srv, ln, cfg.ShutdownTimeout, s.app.Logger)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "port to listen on (default server.port)")
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the seqctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "seqctl %s (%s)\n", observability.Version, observability.Commit)
		},
	}
}
