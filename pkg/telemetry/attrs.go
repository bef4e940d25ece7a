package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

type SpanAttributes struct {
	ActionCategory string

	SessionID     optional[string]   // fuzz.session.id
	TargetNames   optional[[]string] // fuzz.targets
	WorkerAddress optional[string]   // fuzz.worker.address
	corpusSize    optional[int]      // fuzz.corpus.size
	coveredBlocks optional[int]      // fuzz.coverage.blocks
	crashCount    optional[int]      // fuzz.crashes

	extraAttributes map[string]any
}

func NewSpanAttributes(actionCategory ActionCategory) *SpanAttributes {
	return &SpanAttributes{
		ActionCategory:  actionCategory.String(),
		extraAttributes: make(map[string]any),
	}
}

// returns an empty SpanAttributes instance with no action category.
// this is useful for creating a SpanAttributes instance that can be populated later.
func EmptySpanAttributes() *SpanAttributes {
	return &SpanAttributes{
		extraAttributes: make(map[string]any),
	}
}

// Merge updates the current SpanAttributes with values from another SpanAttributes.
// Values are only updated if they are set in the other SpanAttributes and not set in the current one.
// The ActionCategory is always updated when the other one has it.
func (o *SpanAttributes) Merge(other *SpanAttributes) {
	if other == nil {
		return
	}

	if other.ActionCategory != "" {
		o.ActionCategory = other.ActionCategory
	}

	mergeOptional(&o.SessionID, &other.SessionID)
	mergeOptional(&o.TargetNames, &other.TargetNames)
	mergeOptional(&o.WorkerAddress, &other.WorkerAddress)
	mergeOptional(&o.corpusSize, &other.corpusSize)
	mergeOptional(&o.coveredBlocks, &other.coveredBlocks)
	mergeOptional(&o.crashCount, &other.crashCount)

	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	for k, v := range other.extraAttributes {
		if _, exists := o.extraAttributes[k]; !exists {
			o.extraAttributes[k] = v
		}
	}
}

func (o *SpanAttributes) WithSessionID(val string) *SpanAttributes {
	o.SessionID.Set(val)
	return o
}

func (o *SpanAttributes) WithTargetNames(val []string) *SpanAttributes {
	o.TargetNames.Set(val)
	return o
}

func (o *SpanAttributes) WithWorkerAddress(val string) *SpanAttributes {
	o.WorkerAddress.Set(val)
	return o
}

func (o *SpanAttributes) WithCorpusSize(val int) *SpanAttributes {
	o.corpusSize.Set(val)
	return o
}

func (o *SpanAttributes) WithCoveredBlocks(val int) *SpanAttributes {
	o.coveredBlocks.Set(val)
	return o
}

func (o *SpanAttributes) WithCrashCount(val int) *SpanAttributes {
	o.crashCount.Set(val)
	return o
}

func (o *SpanAttributes) WithExtraAttribute(key string, val any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	o.extraAttributes[key] = val
	return o
}

func (o SpanAttributes) Attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	attrs = append(attrs, attribute.String("fuzz.action.category", o.ActionCategory))
	if o.SessionID.set {
		attrs = append(attrs, attribute.String("fuzz.session.id", o.SessionID.val))
	}
	if o.TargetNames.set {
		attrs = append(attrs, attribute.StringSlice("fuzz.targets", o.TargetNames.val))
	}
	if o.WorkerAddress.set {
		attrs = append(attrs, attribute.String("fuzz.worker.address", o.WorkerAddress.val))
	}
	if o.corpusSize.set {
		attrs = append(attrs, attribute.Int("fuzz.corpus.size", o.corpusSize.val))
	}
	if o.coveredBlocks.set {
		attrs = append(attrs, attribute.Int("fuzz.coverage.blocks", o.coveredBlocks.val))
	}
	if o.crashCount.set {
		attrs = append(attrs, attribute.Int("fuzz.crashes", o.crashCount.val))
	}

	for k, v := range o.extraAttributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case uint64:
			attrs = append(attrs, attribute.Int64(k, int64(val)))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}

	return attrs
}

type EventAttributes []attribute.KeyValue

func NewEventAttributes(attributes map[string]string) EventAttributes {
	attrs := make(EventAttributes, 0, len(attributes))
	for k, v := range attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

type optional[T any] struct {
	val T
	set bool
}

func (o *optional[T]) Set(val T) { o.val = val; o.set = true }

func mergeOptional[T any](target, source *optional[T]) {
	if !target.set && source.set {
		target.val = source.val
		target.set = true
	}
}
