// Command cictl drives the competitive intelligence API from a terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/cexll/ci-agent/internal/client"
	"github.com/cexll/ci-agent/internal/credits"
	"github.com/cexll/ci-agent/internal/intel"
	"github.com/cexll/ci-agent/internal/stream"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		code := 1
		if exit, ok := err.(cli.ExitCoder); ok {
			code = exit.ExitCode()
		}
		os.Exit(code)
	}
}

func newApp(out, progress io.Writer) *cli.App {
	app := &cli.App{
		Name:      "cictl",
		Usage:     "run competitor analyses against a competitive intelligence server",
		Writer:    out,
		ErrWriter: progress,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "http://localhost:8000", EnvVars: []string{"CI_SERVER_URL"}, Usage: "API base URL"},
			&cli.StringFlag{Name: "token", EnvVars: []string{"CI_TOKEN"}, Usage: "bearer token"},
			&cli.StringFlag{Name: "client-id", EnvVars: []string{"CI_CLIENT_ID"}, Usage: "client id for server-side credits"},
			&cli.StringFlag{Name: "ledger", EnvVars: []string{"CI_LEDGER"}, Usage: "local credit ledger file"},
			&cli.IntFlag{Name: "daily-credits", Value: 10, Usage: "local daily credit allowance"},
		},
		Commands: []*cli.Command{
			{
				Name:      "analyze",
				Usage:     "analyze one competitor",
				ArgsUsage: "COMPETITOR",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "website", Usage: "competitor website"},
					&cli.StringFlag{Name: "mode", Value: "simple", Usage: "simple or deep"},
					&cli.StringSliceFlag{Name: "keyword", Usage: "industry keyword, repeatable"},
					&cli.BoolFlag{Name: "no-stream", Usage: "wait for the full result instead of streaming progress"},
				},
				Action: analyzeAction,
			},
			{
				Name:      "discover",
				Usage:     "find competitors for a business idea",
				ArgsUsage: "IDEA",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "no-stream", Usage: "wait for the full result instead of streaming progress"},
				},
				Action: discoverAction,
			},
			{
				Name:      "query",
				Usage:     "ask the knowledge base",
				ArgsUsage: "QUESTION",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "competitor", Usage: "restrict the search to one competitor"},
				},
				Action: queryAction,
			},
			{Name: "modes", Usage: "list analysis modes", Action: modesAction},
			{Name: "scenarios", Usage: "list demo scenarios", Action: scenariosAction},
			{Name: "credits", Usage: "show local and server credit usage", Action: creditsAction},
		},
	}
	// main reports errors and picks the exit code
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

func apiClient(c *cli.Context) *client.Client {
	return client.New(c.String("server"),
		client.WithToken(c.String("token")),
		client.WithClientID(c.String("client-id")))
}

func ledger(c *cli.Context) (*credits.FileLedger, error) {
	path := c.String("ledger")
	if path == "" {
		var err error
		if path, err = credits.DefaultLedgerPath(); err != nil {
			return nil, fmt.Errorf("locate credit ledger: %w", err)
		}
	}
	return credits.NewFileLedger(path, c.Int("daily-credits")), nil
}

// reserve fails early when the local allowance cannot cover cost
func reserve(l *credits.FileLedger, cost int) error {
	stats, err := l.Stats()
	if err != nil {
		return err
	}
	if stats.Remaining < cost {
		return fmt.Errorf("local credit limit reached: %d of %d used, %d needed", stats.Used, stats.DailyLimit, cost)
	}
	return nil
}

func progressPrinter(w io.Writer) func(stream.Event, stream.State) {
	return func(ev stream.Event, st stream.State) {
		if ev.Type == stream.TypeHeartbeat || st.Current == "" {
			return
		}
		fmt.Fprintf(w, "[%3d%%] %s\n", st.Progress, st.Current)
	}
}

func analyzeAction(c *cli.Context) error {
	name := strings.TrimSpace(c.Args().First())
	if name == "" {
		return cli.Exit("competitor name is required", 2)
	}
	mode, err := intel.ParseMode(c.String("mode"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	cost := 1
	if mode == intel.ModeDeep {
		cost = 3
	}
	l, err := ledger(c)
	if err != nil {
		return err
	}
	if err := reserve(l, cost); err != nil {
		return err
	}

	req := intel.Request{Competitor: name, Website: c.String("website"), Mode: mode, IndustryKeywords: c.StringSlice("keyword")}
	api := apiClient(c)

	var report string
	if !c.Bool("no-stream") {
		state, err := api.AnalyzeStream(c.Context, req, progressPrinter(c.App.ErrWriter))
		if err != nil {
			return err
		}
		var res intel.Result
		if err := json.Unmarshal(state.Result, &res); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		report = res.FinalReport
	} else {
		res, err := api.Analyze(c.Context, req)
		if err != nil {
			return err
		}
		report = res.FinalReport
	}

	if err := l.Spend(cost); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, report)
	return nil
}

func discoverAction(c *cli.Context) error {
	idea, err := intel.ValidateIdea(strings.Join(c.Args().Slice(), " "))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	const cost = 2
	l, err := ledger(c)
	if err != nil {
		return err
	}
	if err := reserve(l, cost); err != nil {
		return err
	}

	api := apiClient(c)
	var report string
	if !c.Bool("no-stream") {
		state, err := api.DiscoverStream(c.Context, idea, progressPrinter(c.App.ErrWriter))
		if err != nil {
			return err
		}
		var res intel.DiscoveryResult
		if err := json.Unmarshal(state.Result, &res); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		report = res.DiscoveryReport
	} else {
		res, err := api.Discover(c.Context, idea)
		if err != nil {
			return err
		}
		report = res.DiscoveryReport
	}

	if err := l.Spend(cost); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, report)
	return nil
}

func queryAction(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return cli.Exit("question is required", 2)
	}
	res, err := apiClient(c).Query(c.Context, question, c.String("competitor"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, res.Response)
	if res.Cached {
		fmt.Fprintln(c.App.ErrWriter, "(cached)")
	}
	return nil
}

func modesAction(c *cli.Context) error {
	modes, def, err := apiClient(c).Modes(c.Context)
	if err != nil {
		return err
	}
	return printYAML(c.App.Writer, map[string]any{"default": def, "modes": modes})
}

func scenariosAction(c *cli.Context) error {
	scenarios, err := apiClient(c).Scenarios(c.Context)
	if err != nil {
		return err
	}
	return printYAML(c.App.Writer, scenarios)
}

func creditsAction(c *cli.Context) error {
	l, err := ledger(c)
	if err != nil {
		return err
	}
	local, err := l.Stats()
	if err != nil {
		return err
	}
	out := map[string]any{"local": creditView(local)}
	if server, err := apiClient(c).Credits(c.Context); err == nil {
		out["server"] = creditView(server)
	} else {
		out["server_error"] = err.Error()
	}
	return printYAML(c.App.Writer, out)
}

func creditView(s credits.Stats) map[string]any {
	return map[string]any{
		"identity":  s.Identity,
		"used":      s.Used,
		"remaining": s.Remaining,
		"limit":     s.DailyLimit,
		"resets_at": s.NextResetTime.Format("2006-01-02 15:04 MST"),
	}
}

func printYAML(w io.Writer, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	_, err = w.Write(data)
	return err
}
