// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"fmt"
	"strings"
)

// Frame description request.
const (
	DescribePrompt      = "Describe what is happening in this video frame in detail. Include people, objects, actions, and setting."
	DescribeMaxTokens   = 300
	DescribeTemperature = 0.2
)

// Answer synthesis request.
const (
	SynthesizeMaxTokens   = 500
	SynthesizeTemperature = 0.3
)

// DefaultSystemPrompt is used for single-video answers when the caller
// passes no system prompt.
const DefaultSystemPrompt = `You are a helpful AI assistant that answers questions about video content.
You are given descriptions of video frames at specific timestamps and a user question.
Answer the question based on the provided context. Include relevant timestamps in your answer.
If the information is not in the context, say so honestly.
Format timestamps as [MM:SS] when mentioning specific moments.`

// GlobalSystemPrompt is used for summaries across several videos.
const GlobalSystemPrompt = `You are an AI assistant helping analyze surveillance/video footage.
You are given descriptions from MULTIPLE videos at specific timestamps.
Answer the user's query based on the provided context.
Always cite which video and timestamp you're referring to.
Format: "In [video_name] at [MM:SS], ..."`

// FormatTimestamp renders seconds as zero-padded MM:SS. Minutes are not
// wrapped into hours.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// RenderContext renders one "[MM:SS] text" line per item, with an optional
// "[label] " prefix.
func RenderContext(items []ContextItem) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		var b strings.Builder
		if it.Label != "" {
			b.WriteString("[" + it.Label + "] ")
		}
		b.WriteString("[" + FormatTimestamp(it.Timestamp) + "] ")
		b.WriteString(it.Text)
		lines = append(lines, b.String())
	}
	return strings.Join(lines, "\n")
}

// UserMessage builds the synthesis user turn.
func UserMessage(question string, items []ContextItem) string {
	return "Video Context:\n" + RenderContext(items) +
		"\n\nQuestion: " + question +
		"\n\nPlease answer based on the video content described above."
}

// SystemPromptOrDefault returns prompt, or DefaultSystemPrompt when empty.
func SystemPromptOrDefault(prompt string) string {
	if prompt == "" {
		return DefaultSystemPrompt
	}
	return prompt
}
