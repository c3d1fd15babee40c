package services

import (
	"context"
	"fmt"

	domain "github.com/hanko-field/quickorder/internal/domain"
)

// ResultReporter turns batch results into user facing messages.
type ResultReporter struct {
	logger func(context.Context, string, map[string]any)
}

// NewResultReporter constructs a reporter. logger receives sink failures and may be nil.
func NewResultReporter(logger func(context.Context, string, map[string]any)) *ResultReporter {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &ResultReporter{logger: logger}
}

// Report emits exactly one message per item in input order, or a single message for a shape error.
// Sink failures are logged and do not stop reporting. The emitted messages are returned.
func (r *ResultReporter) Report(ctx context.Context, result BatchResult, sink MessageSink) []Message {
	var messages []Message
	if result.ShapeError != nil {
		messages = []Message{ShapeMessage(result.ShapeError)}
	} else {
		messages = make([]Message, 0, len(result.Items))
		for _, item := range result.Items {
			messages = append(messages, OutcomeMessage(item))
		}
	}

	if sink != nil {
		for _, message := range messages {
			if err := sink.ReportMessage(ctx, message); err != nil {
				r.logger(ctx, "quick_order_message_sink_failed", map[string]any{
					"code":  message.Code,
					"error": err.Error(),
				})
			}
		}
	}
	return messages
}

// ShapeMessage builds the batch-level message for a shape mismatch.
func ShapeMessage(shape *domain.ShapeMismatch) Message {
	if shape != nil {
		switch shape.Reason {
		case domain.ShapeMismatchCountMismatch:
			return Message{Kind: domain.MessageKindError, Code: domain.MessageCodeCountsMismatch, Text: "counts do not match"}
		case domain.ShapeMismatchTooManyItems:
			return Message{
				Kind:   domain.MessageKindError,
				Code:   domain.MessageCodeTooManyItems,
				Text:   fmt.Sprintf("no more than %d items can be added at once", shape.Limit),
				Params: map[string]int{"max": shape.Limit, "items": shape.IdentifierCount},
			}
		}
	}
	return Message{Kind: domain.MessageKindError, Code: domain.MessageCodeFieldsEmpty, Text: "fields must not be empty"}
}

// OutcomeMessage builds the message for one item. Clamped adds are reported as errors.
func OutcomeMessage(item ItemResult) Message {
	subject := item.Item.Identifier
	outcome := item.Outcome
	switch outcome.Kind {
	case domain.OutcomeAdded:
		return Message{Kind: domain.MessageKindSuccess, Code: domain.MessageCodeProductAdded, Text: "product added to cart", Subject: subject}
	case domain.OutcomeClampedAdded:
		return Message{
			Kind:    domain.MessageKindError,
			Code:    domain.MessageCodeOnlyAdded,
			Text:    fmt.Sprintf("only %d could be added", outcome.Qty),
			Subject: subject,
			Params:  map[string]int{"qty": outcome.Qty, "requested": outcome.Requested},
		}
	case domain.OutcomeRejectedOutOfStock:
		return Message{
			Kind:    domain.MessageKindError,
			Code:    domain.MessageCodeOnlyAvailable,
			Text:    fmt.Sprintf("only %d available", outcome.MaxAddable),
			Subject: subject,
			Params:  map[string]int{"max": outcome.MaxAddable},
		}
	case domain.OutcomeRejectedNotSimple:
		return Message{Kind: domain.MessageKindError, Code: domain.MessageCodeProductNotSimple, Text: "product is not simple", Subject: subject}
	case domain.OutcomeRejectedMalformedQty:
		return Message{Kind: domain.MessageKindError, Code: domain.MessageCodeFieldsEmpty, Text: "fields must not be empty", Subject: subject}
	default:
		return Message{Kind: domain.MessageKindError, Code: domain.MessageCodeProductNotFound, Text: "product does not exist or has no quantity", Subject: subject}
	}
}
