package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/OFFIS-RIT/medgraph/internal/app"
	"github.com/OFFIS-RIT/medgraph/internal/config"
	"github.com/OFFIS-RIT/medgraph/pkg/agent"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"

	"github.com/fatih/color"

	_ "github.com/lib/pq"
)

var (
	showTrace   = flag.Bool("trace", true, "Print the execution events")
	showContext = flag.Bool("context", false, "Print the retrieved context")
	jsonOutput  = flag.Bool("json", false, "Print the full result as JSON")
)

var (
	boldGreen = color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan  = color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow    = color.New(color.FgYellow).SprintFunc()
	red       = color.New(color.FgRed).SprintFunc()
	faint     = color.New(color.Faint).SprintFunc()
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	app.InitLogger(cfg, "ask")
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialise backends", "err", err)
	}
	defer deps.Close()
	orchestrator := deps.NewOrchestrator(nil)

	if q := strings.Join(flag.Args(), " "); strings.TrimSpace(q) != "" {
		if !ask(ctx, orchestrator, q) {
			os.Exit(1)
		}
		return
	}

	fmt.Println(boldGreen("medgraph"), "- type a question, 'exit' to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(boldGreen("? "))
		if !scanner.Scan() {
			break
		}
		q := strings.TrimSpace(scanner.Text())
		if q == "" {
			continue
		}
		if strings.EqualFold(q, "exit") {
			break
		}
		ask(ctx, orchestrator, q)
		fmt.Println()
	}
}

func ask(ctx context.Context, o *agent.Orchestrator, q string) bool {
	res, err := o.Run(ctx, q)
	if err != nil {
		fmt.Fprintln(os.Stderr, red("Error:"), err)
		return false
	}

	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			fmt.Fprintln(os.Stderr, red("Error:"), err)
			return false
		}
		return true
	}

	if *showTrace {
		printEvents(res.Events)
	}
	if *showContext {
		fmt.Println(boldCyan("Context:"))
		fmt.Println(faint(agent.RenderContext(res.Context)))
	}
	fmt.Println(boldCyan("Answer:"))
	fmt.Println(res.Answer)
	fmt.Println(faint(fmt.Sprintf("tools called: %d, results: %d, retrieval time: %.2fs",
		res.Summary.ToolsCalled, res.Summary.ResultsRetrieved, res.Summary.ExecutionTimeSeconds)))
	return true
}

func printEvents(events []agent.Event) {
	for _, e := range events {
		switch e.Type {
		case agent.EventPlanCreated:
			fmt.Println(yellow("PLAN"))
			for i, step := range e.Plan {
				fmt.Printf("  %d. %s\n", i+1, step)
			}
		case agent.EventToolCall:
			status := fmt.Sprintf("%d results", e.ResultCount)
			if e.Error != "" {
				status = red("error: " + e.Error)
			}
			fmt.Printf("%s %s %q %s %s\n", yellow("TOOL"), e.ToolName, e.Query, status, faint(fmt.Sprintf("(%.3fs)", e.ExecutionTime)))
		case agent.EventReflection:
			fmt.Printf("%s %s %s\n", yellow("REFLECT"), e.Decision, faint(fmt.Sprintf("(%d context entries)", e.ContextCount)))
		case agent.EventFinalAnswer:
			fmt.Printf("%s %s\n", yellow("SYNTHESIS"), faint(fmt.Sprintf("(%d chars)", e.AnswerLength)))
		}
	}
}
