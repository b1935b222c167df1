package nl2sql

import (
	"strings"

	"github.com/kpilens/kpilens/internal/schema"
)

const exampleQuestion = "Top 5 campaigns by ROAS on 2026-01-01"

// BuildInitialPrompt asks for one read-only query answering question. The
// output depends only on its arguments.
func BuildInitialPrompt(question string, d schema.Descriptor) Prompt {
	var b strings.Builder
	b.WriteString("You generate DuckDB SQL for an analytics dashboard.\n")
	b.WriteString("Read the user's question (it may be written in Korean or English) and output exactly one SELECT statement that DuckDB can run.\n\n")
	writeRules(&b, d)
	b.WriteString("\n")
	writeSchema(&b, d)
	b.WriteString("\n")
	writeExample(&b, d)

	return Prompt{
		System: b.String(),
		User:   strings.TrimSpace(question),
	}
}

// BuildCorrectivePrompt asks for a fixed version of previousQuery given the
// exact error the engine returned for it.
func BuildCorrectivePrompt(question, previousQuery, errorMessage string, d schema.Descriptor) Prompt {
	var system strings.Builder
	system.WriteString("You repair DuckDB SQL for an analytics dashboard.\n")
	system.WriteString("A previously generated query failed when executed. Output exactly one corrected SELECT statement that resolves the error while keeping the original intent of the question.\n\n")
	writeRules(&system, d)
	system.WriteString("\n")
	writeSchema(&system, d)

	var user strings.Builder
	user.WriteString("[Question]\n")
	user.WriteString(strings.TrimSpace(question))
	user.WriteString("\n\n[Previous SQL]\n")
	user.WriteString(strings.TrimSpace(previousQuery))
	user.WriteString("\n\n[Error message]\n")
	user.WriteString(strings.TrimSpace(errorMessage))
	user.WriteString("\n\nThe rules are unchanged: a single SELECT, no semicolon, only ")
	user.WriteString(d.Table())
	user.WriteString(".")

	return Prompt{
		System: system.String(),
		User:   user.String(),
	}
}

func writeRules(b *strings.Builder, d schema.Descriptor) {
	b.WriteString("Strict rules:\n")
	b.WriteString("- Output only the SQL text. No markdown fences, no explanation.\n")
	b.WriteString("- The statement must start with SELECT and be a single query.\n")
	b.WriteString("- Never use a semicolon (;).\n")
	b.WriteString("- Never use INSERT, UPDATE, DELETE, DROP, ALTER, CREATE, ATTACH, DETACH, COPY, PRAGMA, SET, CALL or any other statement that changes data or session state.\n")
	b.WriteString("- Read only from the table ")
	b.WriteString(d.Table())
	b.WriteString(".\n")
	b.WriteString("- Prefer explicit filters on date, campaign_id, channel and country whenever the question names them.\n")
	b.WriteString("- If the question is ambiguous, choose the most common reading, for example the most recent 7 days or the top 10 rows.\n")
	b.WriteString("- Guard every ratio against division by zero.\n")
}

func writeSchema(b *strings.Builder, d schema.Descriptor) {
	b.WriteString(d.Describe())
}

func writeExample(b *strings.Builder, d schema.Descriptor) {
	b.WriteString("Example:\n")
	b.WriteString("Q: ")
	b.WriteString(exampleQuestion)
	b.WriteString("\nA: select campaign_id, sum(revenue) as revenue, sum(cost) as cost,\n")
	b.WriteString("          case when sum(cost) = 0 then 0 else sum(revenue) / sum(cost) end as roas\n")
	b.WriteString("   from ")
	b.WriteString(d.Table())
	b.WriteString("\n   where date = '2026-01-01'\n")
	b.WriteString("   group by campaign_id\n")
	b.WriteString("   order by roas desc\n")
	b.WriteString("   limit 5\n")
}
