package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"fintrack/internal/cli"
	"fintrack/internal/core"
	"fintrack/internal/export/sheets"
	"fintrack/internal/log"
)

var errUsage = errors.New("usage error")

const usage = `Usage: fintrack <command> [flags]

Commands:
  login -u USER [-p PASS]         sign in (password read from stdin when -p is omitted)
  logout                          forget the stored session
  refresh                         renew the access token now
  categories                      list categories
  tx list [-category ID] [-from DATE] [-to DATE] [-page N] [-all]
  tx add -amount N -category ID -date DATE [-desc TEXT]
  tx update -id ID -amount N -category ID -date DATE [-desc TEXT]
  tx delete -id ID
  budget list [-page N]
  budget add -month YYYY-MM -amount N
  budget update -id ID -month YYYY-MM -amount N
  budget delete -id ID
  summary [-category ID] [-from DATE] [-to DATE]
  export [-category ID] [-from DATE] [-to DATE]   append transactions to Google Sheets
`

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// run dispatches one command line against a bootstrapped app.
func run(ctx context.Context, app *cli.App, args []string, stdout io.Writer, stdin io.Reader) error {
	if len(args) == 0 {
		return usageErr("missing command")
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "logout", "refresh", "categories":
		if len(rest) > 0 {
			return usageErr("%s: unexpected argument %q", cmd, rest[0])
		}
	}

	switch cmd {
	case "login":
		return runLogin(ctx, app, rest, stdout, stdin)
	case "logout":
		if err := app.API.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "Signed out")
		return nil
	case "refresh":
		access, err := app.API.RefreshToken(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Access token refreshed (%s)\n", log.Redact(access))
		return nil
	case "categories":
		return runCategories(ctx, app, stdout)
	case "tx":
		return runTransactions(ctx, app, rest, stdout)
	case "budget":
		return runBudgets(ctx, app, rest, stdout)
	case "summary":
		return runSummary(ctx, app, rest, stdout)
	case "export":
		return runExport(ctx, app, rest, stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return usageErr("unknown command %q", cmd)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usageErr("%s: %v", fs.Name(), err)
	}
	if fs.NArg() > 0 {
		return usageErr("%s: unexpected argument %q", fs.Name(), fs.Arg(0))
	}
	return nil
}

func runLogin(ctx context.Context, app *cli.App, args []string, stdout io.Writer, stdin io.Reader) error {
	fs := newFlagSet("login")
	username := fs.String("u", "", "username")
	password := fs.String("p", "", "password")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	if *password == "" && stdin != nil {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		*password = strings.TrimRight(line, "\r\n")
	}

	if _, err := app.API.Login(ctx, *username, *password); err != nil {
		return err
	}
	if app.Publisher != nil {
		app.Publisher.SignedIn(ctx, *username)
	}
	fmt.Fprintf(stdout, "Signed in as %s\n", *username)
	return nil
}

func runCategories(ctx context.Context, app *cli.App, stdout io.Writer) error {
	cats, err := app.API.ListCategories(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, c := range cats {
		fmt.Fprintf(tw, "%d\t%s\n", c.ID, c.Name)
	}
	return tw.Flush()
}

// filterFlags registers the listing filter on fs.
func filterFlags(fs *flag.FlagSet) *core.Filter {
	f := &core.Filter{}
	fs.StringVar(&f.Category, "category", "", "category id")
	fs.StringVar(&f.StartDate, "from", "", "start date (YYYY-MM-DD)")
	fs.StringVar(&f.EndDate, "to", "", "end date (YYYY-MM-DD)")
	return f
}

func runTransactions(ctx context.Context, app *cli.App, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return usageErr("tx: missing subcommand")
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "list":
		fs := newFlagSet("tx list")
		f := filterFlags(fs)
		fs.IntVar(&f.Page, "page", 1, "page number")
		all := fs.Bool("all", false, "follow every page")
		if err := parseFlags(fs, rest); err != nil {
			return err
		}

		if *all {
			txs, err := app.API.AllTransactions(ctx, *f)
			if err != nil {
				return err
			}
			return printTransactions(stdout, txs, "")
		}
		page, err := app.API.ListTransactions(ctx, *f)
		if err != nil {
			return err
		}
		return printTransactions(stdout, page.Items, pageFooter(f.Page, page.Count, page.HasNext))

	case "add", "update":
		fs := newFlagSet("tx " + sub)
		id := fs.Int64("id", 0, "transaction id")
		amount := fs.String("amount", "", "amount, e.g. 12.34")
		category := fs.Int64("category", 0, "category id")
		date := fs.String("date", "", "date (YYYY-MM-DD)")
		desc := fs.String("desc", "", "description")
		if err := parseFlags(fs, rest); err != nil {
			return err
		}

		in, err := transactionInput(*amount, *category, *date, *desc)
		if err != nil {
			return err
		}
		var tx core.Transaction
		if sub == "add" {
			tx, err = app.API.CreateTransaction(ctx, in)
		} else {
			if *id <= 0 {
				return usageErr("tx update: -id is required")
			}
			tx, err = app.API.UpdateTransaction(ctx, *id, in)
		}
		if err != nil {
			return err
		}
		return printTransactions(stdout, []core.Transaction{tx}, "")

	case "delete":
		id, err := parseID("tx delete", rest)
		if err != nil {
			return err
		}
		if err := app.API.DeleteTransaction(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Deleted transaction %d\n", id)
		return nil

	default:
		return usageErr("tx: unknown subcommand %q", sub)
	}
}

func runBudgets(ctx context.Context, app *cli.App, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return usageErr("budget: missing subcommand")
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "list":
		fs := newFlagSet("budget list")
		page := fs.Int("page", 1, "page number")
		if err := parseFlags(fs, rest); err != nil {
			return err
		}
		res, err := app.API.ListBudgets(ctx, *page)
		if err != nil {
			return err
		}
		return printBudgets(stdout, res.Items, pageFooter(*page, res.Count, res.HasNext))

	case "add", "update":
		fs := newFlagSet("budget " + sub)
		id := fs.Int64("id", 0, "budget id")
		month := fs.String("month", "", "month (YYYY-MM)")
		amount := fs.String("amount", "", "amount, e.g. 500")
		if err := parseFlags(fs, rest); err != nil {
			return err
		}

		cents, err := core.ParseDecimalToCents(*amount)
		if err != nil {
			return usageErr("budget %s: -amount: %v", sub, err)
		}
		in := core.BudgetInput{Month: *month, Amount: core.Money{Cents: cents}}

		var b core.Budget
		if sub == "add" {
			b, err = app.API.CreateBudget(ctx, in)
		} else {
			if *id <= 0 {
				return usageErr("budget update: -id is required")
			}
			b, err = app.API.UpdateBudget(ctx, *id, in)
		}
		if err != nil {
			return err
		}
		return printBudgets(stdout, []core.Budget{b}, "")

	case "delete":
		id, err := parseID("budget delete", rest)
		if err != nil {
			return err
		}
		if err := app.API.DeleteBudget(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Deleted budget %d\n", id)
		return nil

	default:
		return usageErr("budget: unknown subcommand %q", sub)
	}
}

func runSummary(ctx context.Context, app *cli.App, args []string, stdout io.Writer) error {
	fs := newFlagSet("summary")
	f := filterFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	d, err := app.API.Dashboard(ctx, *f)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Income\t%s\n", d.Transactions.TotalIncome)
	fmt.Fprintf(tw, "Expense\t%s\n", d.Transactions.TotalExpense)
	fmt.Fprintf(tw, "Balance\t%s\n", d.Transactions.Balance())
	fmt.Fprintf(tw, "Budget\t%s\n", d.Budgets.TotalBudget)
	fmt.Fprintf(tw, "Spent\t%s\n", d.Budgets.TotalSpent)
	fmt.Fprintf(tw, "Remaining\t%s\n", d.Budgets.Remaining)
	return tw.Flush()
}

func runExport(ctx context.Context, app *cli.App, args []string, stdout io.Writer) error {
	fs := newFlagSet("export")
	f := filterFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := app.Config.ValidateExport(); err != nil {
		return err
	}

	exporter, err := sheets.NewExporter(ctx, sheets.FromAppConfig(app.Config),
		app.Logger.WithComponent(log.ComponentExport).Logger)
	if err != nil {
		return err
	}

	txs, err := app.API.AllTransactions(ctx, *f)
	if err != nil {
		return err
	}
	res, err := exporter.Export(ctx, txs)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Exported %d transactions (%s)\n", len(txs), res.Range)
	return nil
}

func transactionInput(amount string, category int64, date, desc string) (core.TransactionInput, error) {
	cents, err := core.ParseDecimalToCents(amount)
	if err != nil {
		return core.TransactionInput{}, usageErr("-amount: %v", err)
	}
	in := core.TransactionInput{
		Amount:      core.Money{Cents: cents},
		Category:    category,
		Description: desc,
	}
	if date != "" {
		d, err := core.ParseDate(date)
		if err != nil {
			return core.TransactionInput{}, usageErr("-date: %v", err)
		}
		in.Date = d
	}
	return in, nil
}

func parseID(name string, args []string) (int64, error) {
	fs := newFlagSet(name)
	id := fs.Int64("id", 0, "id")
	if err := parseFlags(fs, args); err != nil {
		return 0, err
	}
	if *id <= 0 {
		return 0, usageErr("%s: -id is required", name)
	}
	return *id, nil
}

func pageFooter(page, count int, hasNext bool) string {
	s := fmt.Sprintf("page %d, %d total", max(page, 1), count)
	if hasNext {
		s += ", more with -page " + strconv.Itoa(max(page, 1)+1)
	}
	return s
}

func printTransactions(w io.Writer, txs []core.Transaction, footer string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tAMOUNT\tCATEGORY\tDESCRIPTION")
	for _, tx := range txs {
		category := tx.CategoryName
		if category == "" {
			category = strconv.FormatInt(tx.Category, 10)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", tx.ID, tx.Date, tx.Amount, category, tx.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if footer != "" {
		fmt.Fprintln(w, footer)
	}
	return nil
}

func printBudgets(w io.Writer, budgets []core.Budget, footer string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMONTH\tAMOUNT")
	for _, b := range budgets {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", b.ID, b.Month.Format("2006-01"), b.Amount)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if footer != "" {
		fmt.Fprintln(w, footer)
	}
	return nil
}
