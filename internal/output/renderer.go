// Package output renders review reports and query results for the terminal.
package output

import (
	"io"

	"github.com/shaharwiener/mcp-sql-server/internal/review"
	"github.com/shaharwiener/mcp-sql-server/internal/tools"
)

// Renderer defines the output interface.
type Renderer interface {
	RenderReview(result *review.Result)
	RenderQuery(resp *tools.QueryResponse)
	RenderSchema(resp *tools.SchemaResponse)
	RenderExplain(resp *tools.ExplainResponse)
}

// NewRenderer creates a renderer for the given format.
func NewRenderer(format string, w io.Writer) Renderer {
	switch format {
	case "json":
		return &JSONRenderer{w: w}
	case "markdown":
		return &MarkdownRenderer{w: w}
	case "plain":
		return &PlainRenderer{w: w}
	default:
		return &TextRenderer{w: w}
	}
}
