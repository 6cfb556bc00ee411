package srsdeck

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/germanamz/stepwise/pkg/callproto/callline"
	"github.com/germanamz/stepwise/pkg/driver"
	"github.com/germanamz/stepwise/pkg/toolkits/srs"
	"github.com/germanamz/stepwise/pkg/tools/mcpclient"
	"github.com/germanamz/stepwise/pkg/tools/mcpserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	n       int
}

func (m *scriptedModel) Complete(context.Context, string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.replies[min(m.n, len(m.replies)-1)]
	m.n++
	return r, nil
}

type sentCall struct {
	Tool string
	Args map[string]any
}

type recordingTransport struct {
	inner driver.Transport
	calls []sentCall
}

func (r *recordingTransport) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	r.calls = append(r.calls, sentCall{Tool: name, Args: args})
	return r.inner.CallTool(ctx, name, args)
}

func (r *recordingTransport) tools() []string {
	names := make([]string, len(r.calls))
	for i, c := range r.calls {
		names[i] = c.Tool
	}
	return names
}

func fixedNow() time.Time { return time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC) }

func run(t *testing.T, flow *Flow, replies ...string) (driver.Outcome, *recordingTransport) {
	t.Helper()

	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := mcpserver.New("srs", "test", mcpserver.WithLogger(discard))
	srv.Register(srs.Kit{Logger: discard}.Tools()...)

	client, err := mcpclient.NewInProcess(context.Background(), srv)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	tr := &recordingTransport{inner: client}
	d := driver.New(&scriptedModel{replies: replies}, tr, driver.Config{}, driver.WithLogger(discard))

	return d.Run(context.Background(), flow), tr
}

func TestNew_Defaults(t *testing.T) {
	f := New(Options{Now: fixedNow})

	seed := f.Seed()
	assert.Contains(t, seed, "Make a deck from this markdown:\n"+FallbackMarkdown)
	assert.Contains(t, seed, "<cards_json>, 2025-01-01, 10, '1,3,7,14,30'")
	assert.Contains(t, seed, "'"+DefaultOutputPath+"'")
	assert.Equal(t, "0", f.Sentinel())
}

func TestNew_ClampsDailyNew(t *testing.T) {
	f := New(Options{DailyNew: 50, Now: fixedNow})
	assert.Contains(t, f.Seed(), "2025-01-01, 10,")
}

func TestLoadMarkdown(t *testing.T) {
	md, fromFile, err := LoadMarkdown(filepath.Join(t.TempDir(), "missing.md"))
	require.NoError(t, err)
	assert.False(t, fromFile)
	assert.Equal(t, FallbackMarkdown, md)

	path := filepath.Join(t.TempDir(), "cards.md")
	require.NoError(t, os.WriteFile(path, []byte("Q: a?\nA: b.\n"), 0o600))
	md, fromFile, err = LoadMarkdown(path)
	require.NoError(t, err)
	assert.True(t, fromFile)
	assert.Equal(t, "Q: a?\nA: b.\n", md)
}

func TestContract_ArityAndBounds(t *testing.T) {
	c := New(Options{}).Contract()
	assert.Equal(t, []string{"export_csv", "parse_markdown", "quality_check", "schedule_cards"}, c.Names())

	_, err := c.Validate(callline.ToolCall{Name: "parse_markdown", Args: []string{"md", "Q: x"}})
	assert.Error(t, err)

	_, err = c.Validate(callline.ToolCall{Name: "schedule_cards", Args: []string{"<cards_json>", "2025-01-01", "21", "1,3"}})
	assert.Error(t, err)

	_, err = c.Validate(callline.ToolCall{Name: "schedule_cards", Args: []string{"<cards_json>", "", "10", "1,3"}})
	assert.NoError(t, err)
}

func TestArguments_PlaceholderBeforeProducer(t *testing.T) {
	f := New(Options{})

	_, err := f.Arguments(srs.QualityCheckTool, []string{CardsPlaceholder, "3", "260"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call parse_markdown first")

	got, err := f.Arguments(srs.QualityCheckTool, []string{`{"cards":[{"q":"abc","a":"def"}]}`, "1", "9"})
	require.NoError(t, err)
	assert.Equal(t, srs.DefaultMinLen, got["min_len"], "length bounds are fixed")
	assert.Equal(t, srs.DefaultMaxLen, got["max_len"])

	_, err = f.Arguments(srs.ExportCSVTool, []string{"not json", "out.csv"})
	assert.Error(t, err)
}

func TestArguments_EmptyStartDateIsToday(t *testing.T) {
	f := New(Options{Now: fixedNow})
	f.state.Cards = `{"cards":[{"q":"abc","a":"def"}]}`

	got, err := f.Arguments(srs.ScheduleCardsTool, []string{CardsPlaceholder, "", "5", "1,3"})
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01", got["start_date"])
	assert.Equal(t, 5, got["daily_new"])
}

func TestObserve_Failures(t *testing.T) {
	f := New(Options{})

	assert.True(t, f.Observe(srs.ParseMarkdownTool, nil, `{"ok":false,"error":"No Q/A pairs found.","cards":[]}`).Failed)
	assert.True(t, f.Observe(srs.ParseMarkdownTool, nil, `garbage`).Failed)
	assert.True(t, f.Observe(srs.QualityCheckTool, nil, `{"ok":false,"errors":["Card 1: question too short/long."]}`).Failed)
	assert.True(t, f.Observe(srs.QualityCheckTool, nil, `nope`).Failed)
	assert.True(t, f.Observe(srs.ScheduleCardsTool, nil, `{"scheduled":[]}`).Failed)
	assert.True(t, f.Observe(srs.ExportCSVTool, nil, `{"error":"No scheduled items to write"}`).Failed)
	assert.Equal(t, PipelineState{}, f.State())
}

func TestFinish(t *testing.T) {
	f := New(Options{})

	v := f.Finish(context.Background(), "three", nil)
	assert.NotEmpty(t, v.Correction)

	v = f.Finish(context.Background(), " 3 ", nil)
	assert.Empty(t, v.Correction)
	assert.Equal(t, "3", v.Answer)
}

func TestPipeline_EndToEnd(t *testing.T) {
	out := filepath.Join(t.TempDir(), "deck", "schedule.csv")
	flow := New(Options{OutputPath: out, Now: fixedNow})

	outcome, tr := run(t, flow,
		"FUNCTION_CALL: parse_markdown|<markdown>",
		"FUNCTION_CALL: quality_check|<cards_json>|3|260",
		"FUNCTION_CALL: schedule_cards|<cards_json>|2025-01-01|10|'1,3,7,14,30'",
		"FUNCTION_CALL: export_csv|<scheduled_json>|'"+out+"'",
		"FINAL_ANSWER: [3]",
	)

	require.Equal(t, driver.Answered, outcome.Status, "err: %v", outcome.Err)
	assert.Equal(t, "3", outcome.Answer)
	assert.Equal(t, []string{"parse_markdown", "quality_check", "schedule_cards", "export_csv"}, tr.tools())

	state := flow.State()
	assert.Equal(t, srs.Encode(srs.ParseMarkdown(FallbackMarkdown)), state.Cards)
	assert.Equal(t, out, state.CSVPath)

	fh, err := os.Open(out)
	require.NoError(t, err)
	defer fh.Close()

	rows, err := srs.ReadCSV(fh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "What is Bayes' theorem?", rows[0].Q)
	assert.Equal(t, "P(A|B) = [P(B|A) * P(A)] / P(B)", rows[0].A)
	assert.Equal(t, "2025-01-01", rows[0].LearnOn)
	assert.Len(t, rows[0].ReviewsOn, 5)
}

func TestPipeline_StoredOutputWinsOverModelCopy(t *testing.T) {
	out := filepath.Join(t.TempDir(), "deck.csv")
	flow := New(Options{OutputPath: out, Now: fixedNow})

	// The model "copies" the cards but drops the pipe from Bayes' formula.
	mangled := `{"cards":[{"q":"What is Bayes' theorem?","a":"P(A B)"}]}`

	outcome, tr := run(t, flow,
		"FUNCTION_CALL: parse_markdown|<markdown>",
		"FUNCTION_CALL: quality_check|"+mangled+"|3|260",
		"FINAL_ANSWER: [3]",
	)

	require.Equal(t, driver.Answered, outcome.Status)
	require.Len(t, tr.calls, 2)
	sent := tr.calls[1].Args["cards_json"].(string)
	assert.Equal(t, flow.State().Cards, sent)
	assert.Contains(t, sent, "P(A|B)")
}

func TestPipeline_EmptyMarkdownGivesUpWithSentinel(t *testing.T) {
	flow := New(Options{Markdown: "no questions here", Now: fixedNow})

	outcome, tr := run(t, flow, "FUNCTION_CALL: parse_markdown|<markdown>")

	assert.Equal(t, driver.GaveUp, outcome.Status)
	assert.Equal(t, "0", outcome.Answer)
	assert.ErrorIs(t, outcome.Err, driver.ErrToolRuntime)
	assert.Len(t, tr.calls, 2, "one attempt plus one retry")
}

func TestPipeline_ExtraLabelIsArityError(t *testing.T) {
	flow := New(Options{Now: fixedNow})

	outcome, tr := run(t, flow,
		"FUNCTION_CALL: parse_markdown|md|<markdown>",
		"FINAL_ANSWER: [0]",
	)

	assert.Equal(t, driver.Answered, outcome.Status)
	assert.Empty(t, tr.calls)
	assert.Equal(t, "0", outcome.Answer)
}
