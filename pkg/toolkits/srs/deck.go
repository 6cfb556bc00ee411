package srs

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/germanamz/stepwise/pkg/callproto/sanitize"
)

// Default quality-check bounds on question and answer length, in characters.
const (
	DefaultMinLen = 3
	DefaultMaxLen = 260
)

// CSVHeader is the header row written by ExportCSV.
var CSVHeader = []string{"q", "a", "learn_on", "reviews_on"}

// ReviewSeparator joins review dates inside one CSV cell.
const ReviewSeparator = "|"

var qaRe = regexp.MustCompile(`(?ms)^\s*Q:\s*(.+?)\s*\nA:\s*(.+?)\s*(?:\n{1,2}|$)`)

// Card is one question/answer pair.
type Card struct {
	Q string `json:"q"`
	A string `json:"a"`
}

// ScheduledCard is a card with its learning date and review dates.
type ScheduledCard struct {
	Q         string   `json:"q"`
	A         string   `json:"a"`
	LearnOn   string   `json:"learn_on"`
	ReviewsOn []string `json:"reviews_on"`
}

// ParseResult is the result of parse_markdown. OK is only set on failure.
type ParseResult struct {
	OK    *bool  `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
	Cards []Card `json:"cards"`
}

// QualityResult is the result of quality_check.
type QualityResult struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors"`
}

// ScheduleResult is the result of schedule_cards.
type ScheduleResult struct {
	Error     string          `json:"error,omitempty"`
	Scheduled []ScheduledCard `json:"scheduled"`
}

// ExportError is the failure result of export_csv.
type ExportError struct {
	Error string `json:"error"`
}

// ParseMarkdown extracts "Q: ...\nA: ..." pairs from md. Pairs with an empty
// side are skipped. No pairs at all yields a failure result.
func ParseMarkdown(md string) ParseResult {
	cards := []Card{}
	for _, m := range qaRe.FindAllStringSubmatch(strings.TrimSpace(md), -1) {
		q := strings.TrimSpace(m[1])
		a := strings.TrimSpace(m[2])
		if q != "" && a != "" {
			cards = append(cards, Card{Q: q, A: a})
		}
	}

	if len(cards) == 0 {
		ok := false
		return ParseResult{
			OK:    &ok,
			Error: "No Q/A pairs found. Ensure lines start with 'Q:' and 'A:'.",
			Cards: cards,
		}
	}

	return ParseResult{Cards: cards}
}

// QualityCheck validates every card in cardsJSON against the length bounds.
func QualityCheck(cardsJSON string, minLen, maxLen int) QualityResult {
	cards, err := decodeCards(cardsJSON)
	if err != nil {
		return QualityResult{Errors: []string{"Invalid JSON: " + err.Error()}}
	}

	errs := []string{}
	if len(cards) == 0 {
		errs = append(errs, "No cards to check (empty).")
	}

	for i, c := range cards {
		if c.Q == "" || c.A == "" {
			errs = append(errs, fmt.Sprintf("Card %d: missing q or a.", i+1))
			continue
		}
		if n := utf8.RuneCountInString(c.Q); n < minLen || n > maxLen {
			errs = append(errs, fmt.Sprintf("Card %d q length %d outside [%d,%d].", i+1, n, minLen, maxLen))
		}
		if n := utf8.RuneCountInString(c.A); n < minLen || n > maxLen {
			errs = append(errs, fmt.Sprintf("Card %d a length %d outside [%d,%d].", i+1, n, minLen, maxLen))
		}
	}

	return QualityResult{OK: len(errs) == 0, Errors: errs}
}

// Schedule assigns learning dates in batches of dailyNew cards per day from
// start, and review dates at each interval (in days) after the learning date.
func Schedule(cardsJSON string, start time.Time, dailyNew int, intervals []int) ScheduleResult {
	cards, err := decodeCards(cardsJSON)
	if err != nil {
		return ScheduleResult{Error: "Invalid JSON: " + err.Error(), Scheduled: []ScheduledCard{}}
	}

	if len(cards) == 0 {
		return ScheduleResult{Error: "No cards to schedule", Scheduled: []ScheduledCard{}}
	}

	perDay := max(1, dailyNew)
	scheduled := make([]ScheduledCard, 0, len(cards))
	for i, c := range cards {
		learnOn := start.AddDate(0, 0, i/perDay)
		reviews := make([]string, 0, len(intervals))
		for _, k := range intervals {
			reviews = append(reviews, learnOn.AddDate(0, 0, k).Format(sanitize.DateLayout))
		}
		scheduled = append(scheduled, ScheduledCard{
			Q:         c.Q,
			A:         c.A,
			LearnOn:   learnOn.Format(sanitize.DateLayout),
			ReviewsOn: reviews,
		})
	}

	return ScheduleResult{Scheduled: scheduled}
}

// ExportCSV writes the scheduled cards of scheduledJSON to path, creating
// parent directories, and returns the path written.
func ExportCSV(scheduledJSON, path string) (string, error) {
	var data ScheduleResult
	if err := json.Unmarshal([]byte(scheduledJSON), &data); err != nil {
		return "", fmt.Errorf("Invalid JSON: %w", err) //nolint:staticcheck // message is shown to the model verbatim
	}

	if len(data.Scheduled) == 0 {
		return "", errors.New("No scheduled items to write") //nolint:staticcheck // message is shown to the model verbatim
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create output dir: %w", err)
		}
	}

	f, err := os.Create(path) //nolint:gosec // path comes from the driver configuration
	if err != nil {
		return "", fmt.Errorf("create csv: %w", err)
	}

	if err := WriteCSV(f, data.Scheduled); err != nil {
		_ = f.Close()
		return "", err
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close csv: %w", err)
	}

	return path, nil
}

// WriteCSV writes the header and one row per scheduled card.
func WriteCSV(w io.Writer, scheduled []ScheduledCard) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}

	for _, s := range scheduled {
		row := []string{s.Q, s.A, s.LearnOn, strings.Join(s.ReviewsOn, ReviewSeparator)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}

	return nil
}

// ReadCSV parses a file written by ExportCSV back into scheduled cards.
func ReadCSV(r io.Reader) ([]ScheduledCard, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	if len(rows) == 0 {
		return nil, errors.New("read csv: missing header")
	}

	out := make([]ScheduledCard, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(CSVHeader) {
			return nil, fmt.Errorf("read csv: row %d has %d fields", i+2, len(row))
		}

		reviews := []string{}
		if row[3] != "" {
			reviews = strings.Split(row[3], ReviewSeparator)
		}

		out = append(out, ScheduledCard{Q: row[0], A: row[1], LearnOn: row[2], ReviewsOn: reviews})
	}

	return out, nil
}

// decodeCards accepts {"cards":[...]} or a bare array of cards.
func decodeCards(s string) ([]Card, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "[") {
		var cards []Card
		if err := json.Unmarshal([]byte(trimmed), &cards); err != nil {
			return nil, err
		}
		return cards, nil
	}

	var data struct {
		Cards []Card `json:"cards"`
	}
	if err := json.Unmarshal([]byte(trimmed), &data); err != nil {
		return nil, err
	}
	return data.Cards, nil
}

// Encode marshals v as compact JSON without HTML escaping, so card text is
// forwarded exactly as written.
func Encode(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return strings.TrimRight(buf.String(), "\n")
}
