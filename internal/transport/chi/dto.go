package chi

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vekku/brain/internal/domain"
	domtag "github.com/vekku/brain/internal/domain/tag"
	"github.com/vekku/brain/internal/usecase/retrieval"
)

// ErrorCode is the machine-readable error kind of an error response.
type ErrorCode string

const (
	CodeBadRequest             ErrorCode = "bad_request"
	CodeValidationFailed       ErrorCode = "validation_failed"
	CodeUnauthorized           ErrorCode = "unauthorized"
	CodeTagNotFound            ErrorCode = "tag_not_found"
	CodeEmbeddingQuotaExceeded ErrorCode = "embedding_quota_exceeded"
	CodeEmbeddingProviderError ErrorCode = "embedding_provider_error"
	CodeBackendUnavailable     ErrorCode = "backend_unavailable"
	CodeInternalError          ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type learnRequest struct {
	TagID    string   `json:"tag_id" validate:"required"`
	Alias    string   `json:"alias" validate:"required"`
	Synonyms []string `json:"synonyms" validate:"max=256,dive,required,max=256"`
}

type tagsRequest struct {
	Content   string   `json:"content" validate:"required"`
	Threshold *float64 `json:"threshold" validate:"omitempty,gte=-1,lte=1"`
	TopK      *int     `json:"top_k" validate:"omitempty,gte=1,lte=500"`
}

type scoreRequest struct {
	Tags    []string `json:"tags" validate:"required,min=1,max=256,dive,required"`
	Content string   `json:"content" validate:"required"`
}

type keywordsRequest struct {
	Content   string   `json:"content" validate:"required"`
	TopK      *int     `json:"top_k" validate:"omitempty,gte=1,lte=100"`
	Diversity *float64 `json:"diversity" validate:"omitempty,gte=0,lte=1"`
}

type tagScoresResponse struct {
	Tags []domtag.Score `json:"tags"`
}

type regionsResponse struct {
	Regions []domtag.Region `json:"regions"`
}

type scoresResponse struct {
	Scores []domtag.Score `json:"scores"`
}

type keywordsResponse struct {
	Keywords []domtag.KeywordCandidate `json:"keywords"`
}

type tagListResponse struct {
	Tags       []domtag.Tag `json:"tags"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest checks req and returns the first violation as a domain.ValidationError.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return domain.NewValidationError("body", err.Error())
	}
	fe := errs[0]
	return domain.NewValidationError(fieldPath(fe), describe(fe))
}

// fieldPath drops the struct name prefix: "learnRequest.synonyms[2]" -> "synonyms[2]".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must have at most %s entries", fe.Param())
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

func (r tagsRequest) options() retrieval.Options {
	opts := retrieval.Options{Threshold: r.Threshold}
	if r.TopK != nil {
		opts.TopK = *r.TopK
	}
	return opts
}
