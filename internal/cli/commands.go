// Package cli implements the ledgerd subcommands.
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/subcommands"
	"github.com/investkar/ledger/internal/app"
	"github.com/investkar/ledger/internal/config"
)

// Commands returns every ledgerd subcommand. cfg is shared with the global flags.
func Commands(cfg *config.AppConfig) []subcommands.Command {
	return []subcommands.Command{
		&serveCmd{cfg: cfg},
		&migrateCmd{cfg: cfg},
		&accrueCmd{cfg: cfg},
		&createAdminCmd{cfg: cfg},
		&verifyPaymentCmd{cfg: cfg},
		&withdrawalCmd{cfg: cfg, approve: true},
		&withdrawalCmd{cfg: cfg},
	}
}

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return subcommands.ExitFailure
}

func usageError(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(stderr, format+"\n", args...)
	return subcommands.ExitUsageError
}

func printJSON(v any) subcommands.ExitStatus {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

type serveCmd struct {
	cfg *config.AppConfig
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the HTTP API, accrual scheduler and payment watchers" }
func (*serveCmd) Usage() string {
	return `ledgerd [-config <file>] serve

  Serves the account and operator APIs until interrupted.
`
}
func (*serveCmd) SetFlags(*flag.FlagSet) {}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunServer(ctx, *c.cfg); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

type migrateCmd struct {
	cfg *config.AppConfig
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "create or update the database schema" }
func (*migrateCmd) Usage() string {
	return `ledgerd [-config <file>] migrate
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (c *migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := app.Migrate(ctx, *c.cfg); err != nil {
		return fail(err)
	}
	fmt.Fprintln(stdout, "schema is up to date")
	return subcommands.ExitSuccess
}

type accrueCmd struct {
	cfg  *config.AppConfig
	date string
}

func (*accrueCmd) Name() string     { return "accrue" }
func (*accrueCmd) Synopsis() string { return "run the daily return accrual once" }
func (*accrueCmd) Usage() string {
	return `ledgerd [-config <file>] accrue [-date YYYY-MM-DD]

  Credits one day of return to every active investment. A date that has
  already been processed is reported as skipped.
`
}

func (c *accrueCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "date", "", "Run date in the accrual timezone (defaults to today)")
}

func (c *accrueCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	rt, err := app.Open(ctx, *c.cfg)
	if err != nil {
		return fail(err)
	}
	defer rt.Close()
	report, err := rt.RunAccrual(ctx, c.date)
	if err != nil {
		return fail(err)
	}
	return printJSON(report)
}

type createAdminCmd struct {
	cfg      *config.AppConfig
	username string
	password string
}

func (*createAdminCmd) Name() string     { return "create-admin" }
func (*createAdminCmd) Synopsis() string { return "create an operator account" }
func (*createAdminCmd) Usage() string {
	return `ledgerd [-config <file>] create-admin -username <name> [-password <secret>]

  The password is read from LEDGER_ADMIN_PASSWORD when the flag is omitted.
`
}

func (c *createAdminCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.username, "username", "", "Operator login name")
	f.StringVar(&c.password, "password", "", "Operator password (at least 8 characters)")
}

func (c *createAdminCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	password := c.password
	if password == "" {
		password = os.Getenv("LEDGER_ADMIN_PASSWORD")
	}
	if strings.TrimSpace(c.username) == "" || password == "" {
		return usageError("create-admin requires -username and a password")
	}
	rt, err := app.Open(ctx, *c.cfg)
	if err != nil {
		return fail(err)
	}
	defer rt.Close()
	admin, err := rt.CreateAdmin(ctx, c.username, password)
	if err != nil {
		return fail(err)
	}
	fmt.Fprintf(stdout, "created admin %q (id %d)\n", admin.Username, admin.ID)
	return subcommands.ExitSuccess
}

type verifyPaymentCmd struct {
	cfg *config.AppConfig
}

func (*verifyPaymentCmd) Name() string     { return "verify-payment" }
func (*verifyPaymentCmd) Synopsis() string { return "confirm a UPI payment and apply it" }
func (*verifyPaymentCmd) Usage() string {
	return `ledgerd [-config <file>] verify-payment <transaction-id>

  Marks the payment intent as verified and reconciles it immediately.
`
}
func (*verifyPaymentCmd) SetFlags(*flag.FlagSet) {}

func (c *verifyPaymentCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return usageError("verify-payment takes exactly one transaction id")
	}
	rt, err := app.Open(ctx, *c.cfg)
	if err != nil {
		return fail(err)
	}
	defer rt.Close()
	done, err := rt.VerifyPayment(ctx, f.Arg(0))
	if err != nil {
		return fail(err)
	}
	if done {
		fmt.Fprintf(stdout, "payment %s applied\n", f.Arg(0))
	} else {
		fmt.Fprintf(stdout, "payment %s verified, will be applied on the next sweep\n", f.Arg(0))
	}
	return subcommands.ExitSuccess
}

// withdrawalCmd approves or cancels a pending withdrawal.
type withdrawalCmd struct {
	cfg     *config.AppConfig
	approve bool
}

func (c *withdrawalCmd) Name() string {
	if c.approve {
		return "approve-withdrawal"
	}
	return "cancel-withdrawal"
}

func (c *withdrawalCmd) Synopsis() string {
	if c.approve {
		return "debit the wallet and complete a pending withdrawal"
	}
	return "cancel a pending withdrawal"
}

func (c *withdrawalCmd) Usage() string {
	return fmt.Sprintf("ledgerd [-config <file>] %s <withdrawal-id>\n", c.Name())
}

func (*withdrawalCmd) SetFlags(*flag.FlagSet) {}

func (c *withdrawalCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return usageError("%s takes exactly one withdrawal id", c.Name())
	}
	id, err := strconv.ParseUint(f.Arg(0), 10, 64)
	if err != nil || id == 0 {
		return usageError("invalid withdrawal id %q", f.Arg(0))
	}
	rt, err := app.Open(ctx, *c.cfg)
	if err != nil {
		return fail(err)
	}
	defer rt.Close()
	if c.approve {
		req, errApprove := rt.ApproveWithdrawal(ctx, id)
		if errApprove != nil {
			return fail(errApprove)
		}
		fmt.Fprintf(stdout, "withdrawal %d %s\n", req.ID, req.Status)
		return subcommands.ExitSuccess
	}
	req, err := rt.CancelWithdrawal(ctx, id)
	if err != nil {
		return fail(err)
	}
	fmt.Fprintf(stdout, "withdrawal %d %s\n", req.ID, req.Status)
	return subcommands.ExitSuccess
}
