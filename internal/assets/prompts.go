// Package assets embeds the prompt texts sent to Gemini.
//
// Prompts live under prompts/ as plain text so they can be reviewed and
// edited without touching Go code.
package assets

import (
	_ "embed"
)

// ForensicsSystemPrompt is the fixed instruction sent with every image:
// act as a forensic analyst, answer in Simplified Chinese, list flaws and a
// per-flaw remediation prompt only for AI-generated images.
//
//go:embed prompts/forensics-system.txt
var ForensicsSystemPrompt string
