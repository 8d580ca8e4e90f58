package subutils

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
	"github.com/tsarna/callsec/pkg/realtime"
	"go.uber.org/zap"
)

// JqSubscriber runs a jq query over each payload and passes the result on
// to the wrapped subscriber. The category is available to the query as
// $category.
//
// A query that yields nothing, null or false drops the event, which makes
// select() style filters work:
//
//	sub, err := subutils.NewJqSubscriber(printer, `select(.message.urgency == "critical")`, logger)
//
// Several results are passed on as one array. Runtime errors are logged
// and the original payload is passed on unchanged.
type JqSubscriber struct {
	wrapped realtime.Subscriber
	query   string
	code    *gojq.Code
	logger  *zap.Logger
}

// NewJqSubscriber compiles query and puts it in front of wrapped.
func NewJqSubscriber(wrapped realtime.Subscriber, query string, logger *zap.Logger) (*JqSubscriber, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JQ query '%s': %w", query, err)
	}

	code, err := gojq.Compile(parsed, gojq.WithVariables([]string{"$category"}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile JQ query '%s': %w", query, err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &JqSubscriber{wrapped: wrapped, query: query, code: code, logger: logger}, nil
}

func (j *JqSubscriber) OnEvent(ctx context.Context, category realtime.Category, payload json.RawMessage) error {
	var input any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &input); err != nil {
			j.logger.Error("JQ filter: payload is not JSON",
				zap.String("jq_query", j.query),
				zap.String("category", string(category)),
				zap.Error(err))
			return j.wrapped.OnEvent(ctx, category, payload)
		}
	}

	iter := j.code.RunWithContext(ctx, input, string(category))

	var results []any
	for {
		result, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := result.(error); isErr {
			j.logger.Error("JQ filter: execution error",
				zap.String("jq_query", j.query),
				zap.String("category", string(category)),
				zap.Error(err))
			return j.wrapped.OnEvent(ctx, category, payload)
		}
		results = append(results, result)
	}

	var out any
	switch len(results) {
	case 0:
		return nil
	case 1:
		out = results[0]
		if out == nil || out == false {
			return nil
		}
	default:
		out = results
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode JQ result: %w", err)
	}

	return j.wrapped.OnEvent(ctx, category, data)
}
