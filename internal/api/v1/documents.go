package v1

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskrelay/internal/docparse"
	"github.com/gosuda/taskrelay/internal/domain"
)

const maxDocumentBytes = 32 << 20

type ParseDocumentInput struct {
	RawBody multipart.Form
}

type ParseDocumentOutput struct {
	Body struct {
		Success    bool             `json:"success"`
		ParsedData *docparse.Fields `json:"parsedData"`
		Message    string           `json:"message"`
	}
}

// RegisterDocumentRoutes registers the document parse endpoint. A nil parser
// keeps the route but answers 503.
func RegisterDocumentRoutes(api huma.API, parser DocumentParser) {
	huma.Register(api, huma.Operation{
		OperationID:  "parse-document",
		Method:       http.MethodPost,
		Path:         "/documents/parse",
		Summary:      "Extract intake fields from a client document",
		Tags:         []string{"Documents"},
		MaxBodyBytes: maxDocumentBytes,
	}, func(ctx context.Context, input *ParseDocumentInput) (*ParseDocumentOutput, error) {
		if parser == nil {
			return nil, huma.Error503ServiceUnavailable("document parsing is not configured")
		}

		files := input.RawBody.File["file"]
		if len(files) == 0 {
			return nil, huma.Error400BadRequest("No file uploaded")
		}
		header := files[0]

		data, err := readUpload(header)
		if err != nil {
			return nil, huma.Error400BadRequest("failed to read upload", err)
		}

		fields, err := parser.Parse(ctx, data, header.Header.Get("Content-Type"))
		if err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				return nil, huma.Error400BadRequest(err.Error())
			}
			log.Error().Err(err).Str("filename", header.Filename).Msg("api: document parse failed")
			return nil, huma.Error502BadGateway("Failed to parse document", err)
		}

		out := &ParseDocumentOutput{}
		out.Body.Success = true
		out.Body.ParsedData = fields
		out.Body.Message = "Document parsed successfully"
		return out, nil
	})
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxDocumentBytes))
}
