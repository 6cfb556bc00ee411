// Package toolkits holds the tool implementations served over MCP.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/stepwise/pkg/toolkits/cot]: show_reasoning, calculate and verify
//   - [github.com/germanamz/stepwise/pkg/toolkits/srs]: parse_markdown, quality_check, schedule_cards and export_csv
//   - [github.com/germanamz/stepwise/pkg/toolkits/prompteval]: evaluate_prompt
//
// Each kit returns []toolbox.Tool with input schemas reflected from its
// argument structs.
package toolkits
