// Package srsdeck is the flashcard pipeline flow: parse_markdown,
// quality_check, schedule_cards and export_csv, then a FINAL_ANSWER with the
// number of cards written.
//
// Model replies are single lines, so the model cannot paste multi-line
// markdown or reliably copy large JSON blobs. It may pass the placeholders
// <markdown>, <cards_json> and <scheduled_json> instead, and whenever an
// earlier stage produced output that output is forwarded byte for byte in
// place of whatever the model copied.
package srsdeck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/germanamz/stepwise/pkg/callproto/contract"
	"github.com/germanamz/stepwise/pkg/callproto/sanitize"
	"github.com/germanamz/stepwise/pkg/driver"
	"github.com/germanamz/stepwise/pkg/toolkits/srs"
)

// Placeholders the model may use in place of stage outputs.
const (
	MarkdownPlaceholder  = "<markdown>"
	CardsPlaceholder     = "<cards_json>"
	ScheduledPlaceholder = "<scheduled_json>"
)

// Defaults.
const (
	DefaultOutputPath = "outputs/flashcards_schedule.csv"
	DefaultDailyNew   = 10
	DefaultIntervals  = "1,3,7,14,30"
	MaxDailyNew       = 20
	// Sentinel is the answer emitted when a stage keeps failing.
	Sentinel = "0"
)

// FallbackMarkdown is used when no markdown source is available.
const FallbackMarkdown = `Q: What is Bayes' theorem?
A: P(A|B) = [P(B|A) * P(A)] / P(B)

Q: Define precision in classification.
A: TP / (TP + FP)

Q: What does 'idempotent' mean in computing?
A: An operation that can be applied multiple times without changing the result beyond the initial application.
`

const systemPrompt = `You are an SRS Assistant that turns markdown Q/A into a spaced-repetition deck.
TOOLS:
- parse_markdown(md: str) -> JSON {'cards': [{q,a}]}
- quality_check(cards_json: str, min_len:int=3, max_len:int=260) -> JSON {'ok': bool, 'errors': []}
- schedule_cards(cards_json: str, start_date: str, daily_new:int, intervals:str) -> JSON {'scheduled': [...]}
- export_csv(scheduled_json: str, filename: str) -> path

PIPELINE (follow exactly): parse_markdown -> quality_check -> schedule_cards -> export_csv -> FINAL_ANSWER.

STRICT OUTPUT: ONE line per turn, exactly one of:
  FUNCTION_CALL: function_name|param1|param2|...
  FINAL_ANSWER: [count]

HARD RULES:
1) Do NOT invent inputs. NEVER add extra labels like 'md|' and NEVER change argument counts.
   - parse_markdown MUST take exactly 1 argument: <markdown> (it stands for the provided markdown).
   - quality_check MUST take exactly 3 args: <cards_json>, 3, 260.
   - schedule_cards MUST take exactly 4 args: <cards_json>, %s, %d, '%s'.
   - export_csv MUST take exactly 2 args: <scheduled_json>, '%s'.
2) <cards_json> and <scheduled_json> stand for the previous tool's output VERBATIM. Do not reformat or invent JSON.
3) If a tool returns an error or empty result, retry that tool ONCE with the SAME inputs; if it still fails, emit FINAL_ANSWER: [0].
4) After export_csv succeeds, emit FINAL_ANSWER: [number of scheduled cards].`

// PipelineState holds each stage's raw output. Values are stored exactly as
// the tools returned them and are never re-serialized.
type PipelineState struct {
	Cards     string
	Scheduled string
	CSVPath   string
}

// Options configures a Flow.
type Options struct {
	// Markdown is the deck source. Empty selects FallbackMarkdown.
	Markdown   string
	OutputPath string
	DailyNew   int
	Intervals  string
	// Now supplies the default start date. Nil uses time.Now.
	Now func() time.Time
}

// Flow builds one deck.
type Flow struct {
	opts  Options
	state PipelineState
	count int
}

var _ driver.Flow = (*Flow)(nil)

// New creates a Flow, filling in defaults.
func New(opts Options) *Flow {
	if strings.TrimSpace(opts.Markdown) == "" {
		opts.Markdown = FallbackMarkdown
	}
	if opts.OutputPath == "" {
		opts.OutputPath = DefaultOutputPath
	}
	if opts.DailyNew <= 0 || opts.DailyNew > MaxDailyNew {
		opts.DailyNew = DefaultDailyNew
	}
	if opts.Intervals == "" {
		opts.Intervals = DefaultIntervals
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Flow{opts: opts}
}

// LoadMarkdown reads the deck source at path. A missing file yields
// FallbackMarkdown and fromFile false.
func LoadMarkdown(path string) (md string, fromFile bool, err error) {
	if path == "" {
		return FallbackMarkdown, false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return FallbackMarkdown, false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("srsdeck: read markdown: %w", err)
	}
	return string(data), true, nil
}

var deckContract = contract.New(map[string]contract.Spec{
	srs.ParseMarkdownTool: {
		Args:    []contract.Constraint{contract.Any{Label: "markdown, or <markdown>"}},
		Example: "FUNCTION_CALL: parse_markdown|<markdown>",
	},
	srs.QualityCheckTool: {
		Args:    []contract.Constraint{contract.Any{Label: "cards JSON, or <cards_json>"}, contract.Integer{}, contract.Integer{}},
		Example: "FUNCTION_CALL: quality_check|<cards_json>|3|260",
	},
	srs.ScheduleCardsTool: {
		Args: []contract.Constraint{
			contract.Any{Label: "cards JSON, or <cards_json>"},
			contract.Date{Optional: true},
			contract.AtMost(MaxDailyNew),
			contract.IntList{},
		},
		Example: "FUNCTION_CALL: schedule_cards|<cards_json>|2025-01-01|10|1,3,7,14,30",
	},
	srs.ExportCSVTool: {
		Args:    []contract.Constraint{contract.Any{Label: "scheduled JSON, or <scheduled_json>"}, contract.Path{}},
		Example: "FUNCTION_CALL: export_csv|<scheduled_json>|" + DefaultOutputPath,
	},
})

// Name implements driver.Flow.
func (f *Flow) Name() string { return "srs" }

// Contract implements driver.Flow.
func (f *Flow) Contract() contract.Contract { return deckContract }

// State returns the stage outputs collected so far.
func (f *Flow) State() PipelineState { return f.state }

// Seed implements driver.Flow.
func (f *Flow) Seed() string {
	prompt := fmt.Sprintf(systemPrompt, f.today(), f.opts.DailyNew, f.opts.Intervals, f.opts.OutputPath)
	return prompt + "\n\nMake a deck from this markdown:\n" + f.opts.Markdown
}

// Sentinel implements driver.Flow.
func (f *Flow) Sentinel() string { return Sentinel }

// Intercept implements driver.Flow. Every deck call goes to the tool.
func (f *Flow) Intercept(string, []string) (string, bool) { return "", false }

// Arguments implements driver.Flow.
func (f *Flow) Arguments(tool string, args []string) (map[string]any, error) {
	switch tool {
	case srs.ParseMarkdownTool:
		md := args[0]
		if md == "" || md == MarkdownPlaceholder {
			md = f.opts.Markdown
		}
		return map[string]any{"md": md}, nil

	case srs.QualityCheckTool:
		cards, err := resolve(f.state.Cards, args[0], CardsPlaceholder, srs.ParseMarkdownTool)
		if err != nil {
			return nil, err
		}
		return map[string]any{"cards_json": cards, "min_len": srs.DefaultMinLen, "max_len": srs.DefaultMaxLen}, nil

	case srs.ScheduleCardsTool:
		cards, err := resolve(f.state.Cards, args[0], CardsPlaceholder, srs.ParseMarkdownTool)
		if err != nil {
			return nil, err
		}
		start := args[1]
		if start == "" {
			start = f.today()
		}
		dailyNew, err := sanitize.Integer(args[2])
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"cards_json": cards,
			"start_date": start,
			"daily_new":  dailyNew,
			"intervals":  args[3],
		}, nil

	case srs.ExportCSVTool:
		scheduled, err := resolve(f.state.Scheduled, args[0], ScheduledPlaceholder, srs.ScheduleCardsTool)
		if err != nil {
			return nil, err
		}
		return map[string]any{"scheduled_json": scheduled, "filename": args[1]}, nil
	}

	return nil, fmt.Errorf("no argument mapping for %s", tool)
}

// resolve picks the stored stage output when there is one, otherwise the
// model's argument, which must then be real JSON.
func resolve(stored, arg, placeholder, producer string) (string, error) {
	if stored != "" {
		return stored, nil
	}
	if arg == placeholder {
		return "", fmt.Errorf("%s has no value yet; call %s first", placeholder, producer)
	}
	return sanitize.JSON(arg)
}

// Observe implements driver.Flow.
func (f *Flow) Observe(tool string, _ []string, result string) driver.Observation {
	result = strings.TrimSpace(result)

	switch tool {
	case srs.ParseMarkdownTool:
		var res srs.ParseResult
		if err := json.Unmarshal([]byte(result), &res); err != nil || (res.OK != nil && !*res.OK) || len(res.Cards) == 0 {
			return driver.Observation{Failed: true}
		}
		f.state.Cards = result
		return driver.Observation{Feedback: "parse_markdown returned " + result}

	case srs.QualityCheckTool:
		var res srs.QualityResult
		if err := json.Unmarshal([]byte(result), &res); err != nil || !res.OK {
			return driver.Observation{Failed: true}
		}
		return driver.Observation{Feedback: "quality_check returned " + result}

	case srs.ScheduleCardsTool:
		var res srs.ScheduleResult
		if err := json.Unmarshal([]byte(result), &res); err != nil || len(res.Scheduled) == 0 {
			return driver.Observation{Failed: true}
		}
		f.state.Scheduled = result
		f.count = len(res.Scheduled)
		return driver.Observation{Feedback: "schedule_cards returned " + result}

	case srs.ExportCSVTool:
		if exportFailed(result) {
			return driver.Observation{Failed: true}
		}
		f.state.CSVPath = result
		return driver.Observation{Feedback: fmt.Sprintf("export_csv returned %s. Now emit FINAL_ANSWER: [%d]", result, f.count)}
	}

	return driver.Observation{}
}

func exportFailed(result string) bool {
	if result == "" {
		return true
	}
	if !strings.HasPrefix(result, "{") {
		return false
	}
	var e srs.ExportError
	return json.Unmarshal([]byte(result), &e) != nil || e.Error != ""
}

// Retry implements driver.Flow.
func (f *Flow) Retry(tool, result string) string {
	switch tool {
	case srs.ParseMarkdownTool:
		return fmt.Sprintf("parse_markdown returned %s. Retry once with the SAME markdown (no changes).", result)
	case srs.QualityCheckTool:
		return fmt.Sprintf("quality_check returned %s. QC failed; retry quality_check ONCE with the SAME cards_json.", result)
	case srs.ScheduleCardsTool:
		return fmt.Sprintf("schedule_cards returned %s. No items scheduled; retry schedule_cards ONCE with the SAME inputs.", result)
	case srs.ExportCSVTool:
		return fmt.Sprintf("export_csv returned %s. Retry export_csv ONCE with the SAME inputs.", result)
	}
	return fmt.Sprintf("%s returned %s. Retry ONCE with the SAME inputs.", tool, result)
}

// Finish accepts an integer count.
func (f *Flow) Finish(_ context.Context, payload string, _ driver.Caller) driver.Verdict {
	n, err := sanitize.Integer(payload)
	if err != nil || n < 0 {
		return driver.Verdict{Correction: "FINAL_ANSWER must be the number of cards, like: FINAL_ANSWER: [3]"}
	}
	return driver.Verdict{Answer: strconv.Itoa(n)}
}

func (f *Flow) today() string {
	return f.opts.Now().Format(sanitize.DateLayout)
}
