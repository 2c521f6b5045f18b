package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/view"
)

// Ledger is what the commands need. *ledger.Service implements it.
type Ledger interface {
	view.Ledger
	ComputeBreakdown(ctx context.Context, p core.Period) (core.CategoryBreakdown, error)
}

type app struct {
	ledger Ledger
	logger *log.Logger
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// errUsage marks errors already reported through a flag set.
var errUsage = errors.New("usage")

func (a *app) run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(a.errOut, "missing command")
		return exitUsage
	}

	var err error
	switch cmd, rest := args[0], args[1:]; cmd {
	case "list":
		err = a.list(ctx, rest)
	case "summary":
		err = a.summary(ctx, rest)
	case "breakdown":
		err = a.breakdown(ctx, rest)
	case "add":
		err = a.add(ctx, rest)
	case "update":
		err = a.update(ctx, rest)
	case "delete":
		err = a.delete(ctx, rest)
	case "shell":
		err = a.shell(ctx, rest)
	default:
		fmt.Fprintf(a.errOut, "unknown command %q\n", cmd)
		return exitUsage
	}

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage):
		return exitUsage
	default:
		fmt.Fprintln(a.errOut, describe(err))
		return exitError
	}
}

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

func (a *app) periodArgs(name string, args []string) (core.Period, error) {
	fs := a.flagSet(name)
	month := fs.String("month", "", "period as YYYY-MM, empty for all time")
	if err := parse(fs, args); err != nil {
		return core.Period{}, err
	}
	return core.ParsePeriod(*month)
}

func (a *app) list(ctx context.Context, args []string) error {
	p, err := a.periodArgs("list", args)
	if err != nil {
		return err
	}
	txs, err := a.ledger.ListTransactions(ctx, p)
	if err != nil {
		return err
	}
	writeTransactions(a.out, txs)
	return nil
}

func (a *app) summary(ctx context.Context, args []string) error {
	p, err := a.periodArgs("summary", args)
	if err != nil {
		return err
	}
	s, err := a.ledger.ComputeSummary(ctx, p)
	if err != nil {
		return err
	}
	writeSummary(a.out, s)
	return nil
}

func (a *app) breakdown(ctx context.Context, args []string) error {
	p, err := a.periodArgs("breakdown", args)
	if err != nil {
		return err
	}
	b, err := a.ledger.ComputeBreakdown(ctx, p)
	if err != nil {
		return err
	}
	writeBreakdown(a.out, b)
	return nil
}

type inputFlags struct {
	title, amount, typ, category, date *string
}

func bindInput(fs *flag.FlagSet) inputFlags {
	return inputFlags{
		title:    fs.String("title", "", "transaction title"),
		amount:   fs.String("amount", "", "positive amount, for example 12.50"),
		typ:      fs.String("type", "", "income or expense"),
		category: fs.String("category", "", "category label"),
		date:     fs.String("date", "", "date as YYYY-MM-DD"),
	}
}

func (f inputFlags) input() (core.Input, error) {
	in := core.Input{Title: *f.title, Amount: *f.amount, Type: *f.typ, Category: *f.category}
	if *f.date != "" {
		d, err := time.Parse(time.DateOnly, *f.date)
		if err != nil {
			return core.Input{}, &core.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
		}
		in.Date = d
	}
	return in, nil
}

func (a *app) add(ctx context.Context, args []string) error {
	fs := a.flagSet("add")
	f := bindInput(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	in, err := f.input()
	if err != nil {
		return err
	}
	t, err := a.ledger.AddTransaction(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Added %s\n", t.ID)
	return nil
}

func (a *app) update(ctx context.Context, args []string) error {
	fs := a.flagSet("update")
	f := bindInput(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(a.errOut, "usage: ledger update [flags] <id>")
		return errUsage
	}
	in, err := f.input()
	if err != nil {
		return err
	}
	t, err := a.ledger.UpdateTransaction(ctx, fs.Arg(0), in)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Updated %s\n", t.ID)
	return nil
}

func (a *app) delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(a.errOut, "usage: ledger delete <id>")
		return errUsage
	}
	if err := a.ledger.DeleteTransaction(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Transaction deleted")
	return nil
}

const shellHelp = `commands:
  month YYYY-MM|all
  add income|expense <amount> <category> <title...>
  update <id> income|expense <amount> <category> <title...>
  del <id>
  refresh
  show
  quit`

// shell keeps a synchronized view of one period on screen and redraws it
// after every command.
func (a *app) shell(ctx context.Context, args []string) error {
	p, err := a.periodArgs("shell", args)
	if err != nil {
		return err
	}
	if p.IsAllTime() {
		p = core.PeriodOf(time.Now())
	}

	synced := view.New(a.ledger, a.logger)
	_ = synced.SelectPeriod(ctx, p)
	writeState(a.out, synced.State())

	scanner := bufio.NewScanner(a.in)
	for {
		fmt.Fprint(a.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(a.out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		quit, err := a.shellCommand(ctx, synced, strings.Fields(scanner.Text()))
		if quit {
			return nil
		}
		if err != nil && errors.Is(err, errUsage) {
			continue
		}
		writeState(a.out, synced.State())
	}
}

func (a *app) shellCommand(ctx context.Context, synced *view.Synchronizer, fields []string) (bool, error) {
	if len(fields) == 0 {
		return false, errUsage
	}
	switch cmd, rest := fields[0], fields[1:]; cmd {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(a.out, shellHelp)
		return false, errUsage
	case "show":
		return false, nil
	case "refresh":
		return false, synced.Refresh(ctx)
	case "month":
		if len(rest) != 1 {
			fmt.Fprintln(a.out, "usage: month YYYY-MM|all")
			return false, errUsage
		}
		arg := rest[0]
		if arg == "all" {
			arg = ""
		}
		p, err := core.ParsePeriod(arg)
		if err != nil {
			fmt.Fprintln(a.out, describe(err))
			return false, errUsage
		}
		return false, synced.SelectPeriod(ctx, p)
	case "add":
		in, ok := shellInput(rest)
		if !ok {
			fmt.Fprintln(a.out, "usage: add income|expense <amount> <category> <title...>")
			return false, errUsage
		}
		_, err := synced.Add(ctx, in)
		return false, err
	case "update":
		if len(rest) < 1 {
			fmt.Fprintln(a.out, "usage: update <id> income|expense <amount> <category> <title...>")
			return false, errUsage
		}
		in, ok := shellInput(rest[1:])
		if !ok {
			fmt.Fprintln(a.out, "usage: update <id> income|expense <amount> <category> <title...>")
			return false, errUsage
		}
		_, err := synced.Update(ctx, rest[0], in)
		return false, err
	case "del", "delete":
		if len(rest) != 1 {
			fmt.Fprintln(a.out, "usage: del <id>")
			return false, errUsage
		}
		return false, synced.Delete(ctx, rest[0])
	default:
		fmt.Fprintf(a.out, "unknown command %q, try help\n", cmd)
		return false, errUsage
	}
}

func shellInput(fields []string) (core.Input, bool) {
	if len(fields) < 4 {
		return core.Input{}, false
	}
	return core.Input{
		Type:     fields[0],
		Amount:   fields[1],
		Category: fields[2],
		Title:    strings.Join(fields[3:], " "),
	}, true
}

func describe(err error) string {
	if ve, ok := core.AsValidationError(err); ok {
		return fmt.Sprintf("invalid %s: %s", ve.Field, ve.Reason)
	}
	if core.IsNotFound(err) {
		return "transaction not found"
	}
	if core.IsStoreError(err) {
		return "ledger unavailable: " + err.Error()
	}
	return err.Error()
}

func writeTransactions(w io.Writer, txs []core.Transaction) {
	if len(txs) == 0 {
		fmt.Fprintln(w, "No transactions")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tTYPE\tCATEGORY\tAMOUNT\tTITLE")
	for _, t := range txs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Date.UTC().Format(time.DateOnly), t.Type, t.Category, core.FormatAmount(t.Amount), t.Title)
	}
	_ = tw.Flush()
}

func writeSummary(w io.Writer, s core.Summary) {
	fmt.Fprintf(w, "Income:  %s\nExpense: %s\nBalance: %s\n",
		core.FormatAmount(s.Income), core.FormatAmount(s.Expense), core.FormatAmount(s.Balance))
}

func writeBreakdown(w io.Writer, b core.CategoryBreakdown) {
	if len(b) == 0 {
		fmt.Fprintln(w, "No expenses")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range b.Sorted() {
		fmt.Fprintf(tw, "%s\t%s\n", c.Name, core.FormatAmount(c.Amount))
	}
	_ = tw.Flush()
}

func writeState(w io.Writer, s view.State) {
	label := s.Period.String()
	if label == "" {
		label = "all time"
	}
	fmt.Fprintf(w, "== %s ==\n", label)
	if s.Notice != "" {
		fmt.Fprintf(w, "! %s\n", s.Notice)
	}
	if !s.Loaded {
		return
	}
	writeTransactions(w, s.Transactions)
	writeSummary(w, s.Summary)
	writeBreakdown(w, s.Breakdown)
}
