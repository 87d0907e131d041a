package llmclient

import (
	"fmt"
	"strings"

	"github.com/forgehook/reviewbot/internal/domain"
)

const systemPromptBase = `You are an automated code reviewer. Review only the lines carrying + or - in the diff. Trust and check the "Available Imports" list before flagging a missing import. Check the "Code Context" section before flagging an undefined identifier. When multiple issues compete for attention, prefer in this order: security > logic > performance > best-practice > style. Respond with exactly one JSON object: {"summary": string, "issues": [{"line": int, "severity": "critical"|"high"|"medium"|"low", "type": "security"|"performance"|"logic"|"style", "message": string, "suggestion": string}]}.`

const batchedSystemSuffix = ` Every issue must also include a "file" field naming the file it was found in. Return exactly one JSON document covering every file.`

func buildSystemPrompt(batched bool) string {
	if batched {
		return systemPromptBase + batchedSystemSuffix
	}
	return systemPromptBase
}

func buildSingleUserPrompt(chunk domain.DiffChunk) string {
	var b strings.Builder
	writeChunkSection(&b, chunk)
	return b.String()
}

func buildBatchedUserPrompt(chunks []domain.DiffChunk) string {
	var b strings.Builder
	total := len(chunks)
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "## File %d/%d\n\n", i+1, total)
		writeChunkSection(&b, chunk)
		b.WriteString("\n")
	}
	b.WriteString("Include \"file\" in every issue and return exactly one JSON document.\n")
	return b.String()
}

func writeChunkSection(b *strings.Builder, chunk domain.DiffChunk) {
	fmt.Fprintf(b, "File: %s\n", chunk.Filename)
	fmt.Fprintf(b, "Language: %s\n", chunk.Language)
	fmt.Fprintf(b, "Additions: %d, Deletions: %d\n\n", chunk.Additions, chunk.Deletions)

	if chunk.FileContext != nil && len(chunk.FileContext.Imports) > 0 {
		b.WriteString("Available Imports:\n")
		for _, imp := range chunk.FileContext.Imports {
			fmt.Fprintf(b, "  %s\n", imp)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("Available Imports: none\n\n")
	}

	if chunk.FileContext != nil && len(chunk.FileContext.Lines) > 0 {
		b.WriteString("Code Context:\n")
		for i, line := range chunk.FileContext.Lines {
			lineNo := chunk.FileContext.StartLineNumber + i
			marker := "  "
			if lineNo == chunk.FileContext.TargetLineNumber {
				marker = "->"
			}
			fmt.Fprintf(b, "%s %4d| %s\n", marker, lineNo, line)
		}
		b.WriteString("\n")
	}

	b.WriteString("Diff:\n")
	b.WriteString(chunk.Hunks)
	b.WriteString("\n")
}
