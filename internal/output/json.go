package output

import (
	"encoding/json"
	"io"

	"github.com/shaharwiener/mcp-sql-server/internal/review"
	"github.com/shaharwiener/mcp-sql-server/internal/tools"
)

// JSONRenderer produces machine-readable JSON output.
type JSONRenderer struct {
	w io.Writer
}

func (r *JSONRenderer) emit(v any) {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (r *JSONRenderer) RenderReview(result *review.Result)        { r.emit(result) }
func (r *JSONRenderer) RenderQuery(resp *tools.QueryResponse)     { r.emit(resp) }
func (r *JSONRenderer) RenderSchema(resp *tools.SchemaResponse)   { r.emit(resp) }
func (r *JSONRenderer) RenderExplain(resp *tools.ExplainResponse) { r.emit(resp) }
