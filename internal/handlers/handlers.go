// Package handlers implements the built-in pipeline steps (§4.3): extract,
// partition, gen_embeddings, save_records, summarize, delete_document, and
// delete_index. Each handler is idempotent against its own prior partial
// output, and mutates only the Pipeline it is handed — the orchestrator
// owns persistence around the call.
package handlers

import (
	"github.com/connexus-ai/kernel-memory/internal/pipeline"
)

// HandlerContext is an alias for pipeline.HandlerContext. It lives there,
// not here, so that package pipeline can declare the Handler interface
// against it without importing this package back — these concrete types
// satisfy pipeline.Handler structurally.
type HandlerContext = pipeline.HandlerContext

var (
	_ pipeline.Handler = ExtractHandler{}
	_ pipeline.Handler = PartitionHandler{}
	_ pipeline.Handler = GenEmbeddingsHandler{}
	_ pipeline.Handler = SaveRecordsHandler{}
	_ pipeline.Handler = SummarizeHandler{}
	_ pipeline.Handler = DeleteDocumentHandler{}
	_ pipeline.Handler = DeleteIndexHandler{}
)
