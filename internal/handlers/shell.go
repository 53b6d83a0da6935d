package handlers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/atabank/backend/internal/models"
	"github.com/atabank/backend/internal/services"
)

const rule = "------------------------------------------"

// AccountOperations is the part of the account service the shell drives.
type AccountOperations interface {
	Authenticate(ctx context.Context, nationalID, firstName, lastName, password string) (*services.Session, error)
	Register(ctx context.Context, req models.RegisterRequest) (*models.Account, error)
	Deposit(ctx context.Context, sess *services.Session, amount decimal.Decimal) (*models.LedgerEntry, error)
	Withdraw(ctx context.Context, sess *services.Session, amount decimal.Decimal) (*models.LedgerEntry, error)
	Exchange(ctx context.Context, sess *services.Session, rate models.ExchangeRate, quantity decimal.Decimal) (*services.ExchangeResult, error)
	Portfolio(ctx context.Context, sess *services.Session, rates services.RateSnapshot) (*services.Portfolio, error)
	History(ctx context.Context, sess *services.Session, limit int) ([]models.LedgerEntry, error)
}

type RateProvider interface {
	GetRates(ctx context.Context) services.RateSnapshot
}

type ShellOptions struct {
	Locale       language.Tag
	HistoryLimit int
	Logger       *zap.Logger
}

// Shell is the numbered-menu console front end.
type Shell struct {
	accounts     AccountOperations
	rates        RateProvider
	in           *bufio.Reader
	out          io.Writer
	secretFD     int
	numbers      numberFormat
	historyLimit int
	logger       *zap.Logger

	header  *color.Color
	balance *color.Color
	success *color.Color
	failure *color.Color
	warning *color.Color
}

func NewShell(accounts AccountOperations, rates RateProvider, in io.Reader, out io.Writer, opts ShellOptions) *Shell {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	secretFD := -1
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secretFD = int(f.Fd())
	}

	return &Shell{
		accounts:     accounts,
		rates:        rates,
		in:           bufio.NewReader(in),
		out:          out,
		secretFD:     secretFD,
		numbers:      newNumberFormat(message.NewPrinter(opts.Locale)),
		historyLimit: opts.HistoryLimit,
		logger:       logger,
		header:       color.New(color.FgCyan, color.Bold),
		balance:      color.New(color.FgYellow),
		success:      color.New(color.FgGreen),
		failure:      color.New(color.FgRed),
		warning:      color.New(color.FgMagenta),
	}
}

// Run loops until the user exits, input ends or ctx is cancelled.
func (s *Shell) Run(ctx context.Context) error {
	var sess *services.Session
	for ctx.Err() == nil {
		var (
			exit bool
			err  error
		)
		if sess == nil {
			sess, exit, err = s.welcome(ctx)
		} else {
			sess, err = s.dashboard(ctx, sess)
		}
		if errors.Is(err, io.EOF) {
			s.println()
			return nil
		}
		if err != nil {
			return err
		}
		if exit {
			s.println("Goodbye.")
			return nil
		}
	}
	return nil
}

func (s *Shell) welcome(ctx context.Context) (*services.Session, bool, error) {
	s.printHeader("AtaBank International - Welcome")
	s.println("1. Login to Account")
	s.println("2. Open New Account")
	s.println("0. Exit Application")

	selection, err := s.readLine("\nSelection: ")
	if err != nil {
		return nil, false, err
	}

	switch selection {
	case "1":
		sess, err := s.login(ctx)
		return sess, false, err
	case "2":
		return nil, false, s.register(ctx)
	case "0":
		return nil, true, nil
	default:
		s.failure.Fprintln(s.out, "Invalid selection.")
		return nil, false, nil
	}
}

func (s *Shell) login(ctx context.Context) (*services.Session, error) {
	nationalID, err := s.readLine("National ID: ")
	if err != nil {
		return nil, err
	}
	firstName, err := s.readLine("First Name: ")
	if err != nil {
		return nil, err
	}
	lastName, err := s.readLine("Last Name: ")
	if err != nil {
		return nil, err
	}
	password, err := s.readSecret("Password: ")
	if err != nil {
		return nil, err
	}

	sess, err := s.accounts.Authenticate(ctx, nationalID, firstName, lastName, password)
	switch {
	case errors.Is(err, services.ErrAuthenticationFailed):
		s.failure.Fprintln(s.out, "\nAccess Denied. Invalid Credentials.")
		return nil, nil
	case err != nil:
		s.logger.Error("Login failed", zap.Error(err))
		s.failure.Fprintln(s.out, "\nLogin failed. Please try again later.")
		return nil, nil
	}

	s.success.Fprintln(s.out, "\nAccess Granted.")
	return sess, nil
}

func (s *Shell) register(ctx context.Context) error {
	var req models.RegisterRequest
	var err error
	if req.FirstName, err = s.readLine("First Name: "); err != nil {
		return err
	}
	if req.LastName, err = s.readLine("Last Name: "); err != nil {
		return err
	}
	if req.NationalID, err = s.readLine("National ID: "); err != nil {
		return err
	}
	if req.Password, err = s.readSecret("Password: "); err != nil {
		return err
	}

	_, err = s.accounts.Register(ctx, req)
	var verr *services.ValidationError
	switch {
	case err == nil:
		s.success.Fprintln(s.out, "\nAccount Created. You may now login.")
	case errors.Is(err, services.ErrDuplicateIdentity):
		s.failure.Fprintln(s.out, "\nAn account with this National ID already exists.")
	case errors.As(err, &verr):
		s.failure.Fprintln(s.out, "\nPlease check your input:")
		fields := make([]string, 0, len(verr.Fields))
		for field := range verr.Fields {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			s.println(fmt.Sprintf("  %s %s", field, verr.Fields[field]))
		}
	default:
		s.logger.Error("Registration failed", zap.Error(err))
		s.failure.Fprintln(s.out, "\nRegistration failed. Please try again later.")
	}
	return nil
}

// dashboard returns a nil session on logout.
func (s *Shell) dashboard(ctx context.Context, sess *services.Session) (*services.Session, error) {
	snap := s.rates.GetRates(ctx)

	s.printHeader("AtaBank - Dashboard")
	s.println(fmt.Sprintf("Welcome, %s", sess.Account.FullName()))
	s.println(rule)
	s.balance.Fprintf(s.out, "Main Balance: %s TRY\n", s.money(sess.Account.Balance))

	portfolio, err := s.accounts.Portfolio(ctx, sess, snap)
	if err != nil {
		s.logger.Error("Failed to load portfolio", zap.Int64("account_id", sess.Account.ID), zap.Error(err))
	} else {
		for _, line := range portfolio.Holdings {
			s.balance.Fprintf(s.out, "%s Balance: %s (%s TRY)\n", line.Code, s.units(line.Amount), s.money(line.Value))
		}
	}

	if snap.Degraded() {
		s.logger.Warn("Serving degraded exchange rates", zap.Stringer("status", snap.Status), zap.Error(snap.Err))
		if snap.Status == services.RatesStale {
			s.warning.Fprintf(s.out, "Warning: exchange rates could not be refreshed; showing rates from %s.\n",
				snap.FetchedAt.Local().Format("2006-01-02 15:04"))
		} else {
			s.warning.Fprintln(s.out, "Warning: exchange rates are currently unavailable.")
		}
	}

	s.println(rule)
	s.println("1. Deposit Cash | 2. Withdraw Cash | 3. Currency Exchange | 4. Transaction History | 0. Logout")

	selection, err := s.readLine("\nSelection: ")
	if err != nil {
		return sess, err
	}

	switch selection {
	case "1":
		err = s.deposit(ctx, sess)
	case "2":
		err = s.withdraw(ctx, sess)
	case "3":
		err = s.exchange(ctx, sess, snap)
	case "4":
		err = s.history(ctx, sess)
	case "0":
		s.println("Logged out.")
		return nil, nil
	default:
		s.failure.Fprintln(s.out, "Invalid selection.")
	}
	return sess, err
}

func (s *Shell) deposit(ctx context.Context, sess *services.Session) error {
	amount, ok, err := s.readAmount("Amount (TRY): ")
	if err != nil || !ok {
		return err
	}

	_, err = s.accounts.Deposit(ctx, sess, amount)
	switch {
	case err == nil:
		s.success.Fprintln(s.out, "Deposit Successful.")
	case errors.Is(err, services.ErrInvalidAmount):
		s.failure.Fprintln(s.out, "Amount must be greater than zero.")
	default:
		s.transactionFailed("deposit", err)
	}
	return nil
}

func (s *Shell) withdraw(ctx context.Context, sess *services.Session) error {
	amount, ok, err := s.readAmount("Amount to Withdraw (TRY): ")
	if err != nil || !ok {
		return err
	}

	_, err = s.accounts.Withdraw(ctx, sess, amount)
	switch {
	case err == nil:
		s.success.Fprintln(s.out, "Withdrawal Successful.")
	case errors.Is(err, services.ErrInsufficientFunds):
		s.failure.Fprintln(s.out, "Insufficient Funds.")
	case errors.Is(err, services.ErrInvalidAmount):
		s.failure.Fprintln(s.out, "Amount must be greater than zero.")
	default:
		s.transactionFailed("withdraw", err)
	}
	return nil
}

func (s *Shell) exchange(ctx context.Context, sess *services.Session, snap services.RateSnapshot) error {
	list := snap.Ordered()
	if len(list) == 0 {
		s.failure.Fprintln(s.out, "Exchange rates are currently unavailable.")
		return nil
	}

	for i, rate := range list {
		s.println(fmt.Sprintf("%d. Buy %s - Rate: %s TRY", i+1, rate.Code, s.units(rate.SellRate)))
	}

	choice, err := s.readLine("\nSelect Currency: ")
	if err != nil {
		return err
	}
	n, convErr := strconv.Atoi(choice)
	if convErr != nil || n < 1 || n > len(list) {
		s.failure.Fprintln(s.out, "Invalid selection.")
		return nil
	}
	rate := list[n-1]

	quantity, ok, err := s.readAmount(fmt.Sprintf("Quantity (%s): ", rate.Code))
	if err != nil || !ok {
		return err
	}

	_, err = s.accounts.Exchange(ctx, sess, rate, quantity)
	switch {
	case err == nil:
		s.success.Fprintln(s.out, "Transaction Successful.")
	case errors.Is(err, services.ErrInsufficientFunds):
		s.failure.Fprintln(s.out, "Insufficient TRY Balance.")
	case errors.Is(err, services.ErrInvalidAmount):
		s.failure.Fprintln(s.out, "Quantity must be greater than zero.")
	case errors.Is(err, services.ErrRateUnavailable):
		s.failure.Fprintln(s.out, "Exchange rates are currently unavailable.")
	default:
		s.transactionFailed("exchange", err)
	}
	return nil
}

func (s *Shell) history(ctx context.Context, sess *services.Session) error {
	entries, err := s.accounts.History(ctx, sess, s.historyLimit)
	if err != nil {
		s.transactionFailed("history", err)
		return nil
	}
	if len(entries) == 0 {
		s.println("No transactions yet.")
		return nil
	}

	for _, entry := range entries {
		sign := "-"
		if entry.Type == models.EntryDeposit {
			sign = "+"
		}
		s.println(fmt.Sprintf("%s  %-11s %s%s TRY  Balance: %s TRY  %s",
			entry.CreatedAt.Local().Format("2006-01-02 15:04"),
			entry.Type,
			sign, s.money(entry.Amount),
			s.money(entry.BalanceAfter),
			entry.Description))
	}
	return nil
}

func (s *Shell) transactionFailed(operation string, err error) {
	s.logger.Error("Operation failed", zap.String("operation", operation), zap.Error(err))
	s.failure.Fprintln(s.out, "Transaction failed. Please try again.")
}

// readAmount reports ok=false after telling the user the input did not parse.
func (s *Shell) readAmount(prompt string) (decimal.Decimal, bool, error) {
	raw, err := s.readLine(prompt)
	if err != nil {
		return decimal.Zero, false, err
	}
	amount, err := parseAmount(raw)
	if err != nil {
		s.failure.Fprintln(s.out, "Invalid amount.")
		return decimal.Zero, false, nil
	}
	return amount, true, nil
}

// parseAmount accepts either '.' or ',' as the decimal separator.
func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, ".") && strings.Contains(raw, ",") {
		return decimal.Zero, fmt.Errorf("ambiguous amount %q", raw)
	}
	return decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
}

func (s *Shell) readLine(prompt string) (string, error) {
	line, err := s.readRawLine(prompt)
	return strings.TrimSpace(line), err
}

// readRawLine strips only the line terminator.
func (s *Shell) readRawLine(prompt string) (string, error) {
	fmt.Fprint(s.out, prompt)
	line, err := s.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readSecret disables echo when the input is a terminal. Passwords are taken
// verbatim; type-ahead already buffered is consumed before the terminal.
func (s *Shell) readSecret(prompt string) (string, error) {
	if s.secretFD < 0 || s.in.Buffered() > 0 {
		return s.readRawLine(prompt)
	}
	fmt.Fprint(s.out, prompt)
	b, err := term.ReadPassword(s.secretFD)
	fmt.Fprintln(s.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Shell) printHeader(title string) {
	s.header.Fprintln(s.out, "==========================================")
	s.header.Fprintf(s.out, "   %s\n", strings.ToUpper(title))
	s.header.Fprintln(s.out, "==========================================")
}

func (s *Shell) println(a ...any) {
	fmt.Fprintln(s.out, a...)
}

func (s *Shell) money(d decimal.Decimal) string {
	return s.numbers.format(d, 2)
}

func (s *Shell) units(d decimal.Decimal) string {
	return s.numbers.format(d, 4)
}

// numberFormat renders decimals exactly, borrowing only the separators from
// the locale.
type numberFormat struct {
	group   string
	decimal string
}

func newNumberFormat(p *message.Printer) numberFormat {
	sample := p.Sprint(number.Decimal(12345678.5, number.Scale(1)))

	var seps []string
	var run strings.Builder
	for _, r := range sample {
		if unicode.IsDigit(r) {
			if run.Len() > 0 {
				seps = append(seps, run.String())
				run.Reset()
			}
			continue
		}
		run.WriteRune(r)
	}
	if run.Len() > 0 {
		seps = append(seps, run.String())
	}

	switch len(seps) {
	case 0:
		return numberFormat{decimal: "."}
	case 1:
		return numberFormat{decimal: seps[0]}
	default:
		return numberFormat{group: seps[0], decimal: seps[len(seps)-1]}
	}
}

func (f numberFormat) format(d decimal.Decimal, scale int32) string {
	fixed := d.Abs().RoundBank(scale).StringFixed(scale)
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if d.RoundBank(scale).IsNegative() {
		b.WriteByte('-')
	}
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteString(f.group)
		}
		b.WriteRune(c)
	}
	if frac != "" {
		b.WriteString(f.decimal)
		b.WriteString(frac)
	}
	return b.String()
}
