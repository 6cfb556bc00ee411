// Package srs implements the spaced-repetition deck tools: parse_markdown,
// quality_check, schedule_cards and export_csv.
//
// Every tool answers with text. Failures the model can act on are encoded in
// the result JSON (an "ok":false flag, an "error" field, or an empty list)
// rather than returned as tool errors.
package srs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/germanamz/stepwise/pkg/callproto/sanitize"
	"github.com/germanamz/stepwise/pkg/console"
	"github.com/germanamz/stepwise/pkg/tools/toolbox"
)

// Tool names.
const (
	ParseMarkdownTool = "parse_markdown"
	QualityCheckTool  = "quality_check"
	ScheduleCardsTool = "schedule_cards"
	ExportCSVTool     = "export_csv"
)

// ParseMarkdownArgs are the arguments of parse_markdown.
type ParseMarkdownArgs struct {
	Markdown string `json:"md" jsonschema:"description=Markdown with 'Q:' and 'A:' lines"`
}

// QualityCheckArgs are the arguments of quality_check.
type QualityCheckArgs struct {
	CardsJSON string `json:"cards_json" jsonschema:"description=JSON object with a cards array"`
	MinLen    int    `json:"min_len,omitempty" jsonschema:"description=Minimum question and answer length"`
	MaxLen    int    `json:"max_len,omitempty" jsonschema:"description=Maximum question and answer length"`
}

// ScheduleCardsArgs are the arguments of schedule_cards.
type ScheduleCardsArgs struct {
	CardsJSON string `json:"cards_json" jsonschema:"description=JSON object with a cards array"`
	StartDate string `json:"start_date" jsonschema:"description=First learning day as YYYY-MM-DD"`
	DailyNew  int    `json:"daily_new" jsonschema:"description=New cards introduced per day"`
	Intervals string `json:"intervals" jsonschema:"description=Comma-separated review intervals in days"`
}

// ExportCSVArgs are the arguments of export_csv.
type ExportCSVArgs struct {
	ScheduledJSON string `json:"scheduled_json" jsonschema:"description=JSON object with a scheduled array"`
	Filename      string `json:"filename" jsonschema:"description=Output CSV path"`
}

// Kit bundles the deck tools with their side channels.
type Kit struct {
	Logger  *slog.Logger
	Console *console.Console
}

func (k Kit) logger() *slog.Logger {
	if k.Logger != nil {
		return k.Logger
	}
	return slog.Default()
}

// Tools returns the deck tools.
func (k Kit) Tools() []toolbox.Tool {
	return []toolbox.Tool{
		toolbox.New(ParseMarkdownTool, "Parse 'Q: ...\\nA: ...' pairs into JSON: {\"cards\":[{\"q\",\"a\"}]}", k.parseMarkdown),
		toolbox.New(QualityCheckTool, "Validate cards; require at least one valid card", k.qualityCheck),
		toolbox.New(ScheduleCardsTool, "Create a simple spaced schedule for the cards", k.scheduleCards),
		toolbox.New(ExportCSVTool, "Write a CSV with columns: q,a,learn_on,reviews_on", k.exportCSV),
	}
}

func (k Kit) parseMarkdown(ctx context.Context, args ParseMarkdownArgs) (string, error) {
	res := ParseMarkdown(args.Markdown)

	k.logger().InfoContext(ctx, "parsed markdown", "cards", len(res.Cards))
	k.Console.Panel("", fmt.Sprintf("Parsed %d cards", len(res.Cards)), console.Info)

	return Encode(res), nil
}

func (k Kit) qualityCheck(ctx context.Context, args QualityCheckArgs) (string, error) {
	minLen, maxLen := args.MinLen, args.MaxLen
	if minLen == 0 {
		minLen = DefaultMinLen
	}
	if maxLen == 0 {
		maxLen = DefaultMaxLen
	}

	res := QualityCheck(args.CardsJSON, minLen, maxLen)

	k.logger().InfoContext(ctx, "quality checked", "ok", res.OK, "errors", len(res.Errors))
	if res.OK {
		k.Console.Panel("", "QC passed", console.Success)
	} else {
		k.Console.Panel("", fmt.Sprintf("QC errors: %d", len(res.Errors)), console.Failure)
	}

	return Encode(res), nil
}

func (k Kit) scheduleCards(ctx context.Context, args ScheduleCardsArgs) (string, error) {
	var start time.Time
	if strings.TrimSpace(args.StartDate) == "" {
		start = today()
	} else {
		d, err := sanitize.Date(args.StartDate)
		if err != nil {
			return Encode(ScheduleResult{Error: "Invalid start_date: " + err.Error(), Scheduled: []ScheduledCard{}}), nil
		}
		start = d
	}

	intervals, err := sanitize.IntList(args.Intervals)
	if err != nil {
		return Encode(ScheduleResult{Error: "Invalid intervals: " + err.Error(), Scheduled: []ScheduledCard{}}), nil
	}

	res := Schedule(args.CardsJSON, start, args.DailyNew, intervals)

	k.logger().InfoContext(ctx, "scheduled cards", "cards", len(res.Scheduled), "error", res.Error)
	k.Console.Panel("", fmt.Sprintf("Scheduled %d cards", len(res.Scheduled)), console.Info)

	return Encode(res), nil
}

func (k Kit) exportCSV(ctx context.Context, args ExportCSVArgs) (string, error) {
	path, err := ExportCSV(args.ScheduledJSON, args.Filename)
	if err != nil {
		k.logger().WarnContext(ctx, "export failed", "filename", args.Filename, "error", err)
		k.Console.Panel("", err.Error(), console.Failure)
		return Encode(ExportError{Error: err.Error()}), nil
	}

	k.logger().InfoContext(ctx, "exported csv", "path", path)
	k.Console.Panel("", "Wrote CSV → "+path, console.Success)

	return path, nil
}

func today() time.Time {
	y, m, d := time.Now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
