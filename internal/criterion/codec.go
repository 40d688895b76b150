package criterion

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	FieldSeparator  = "|"
	SeparatorEscape = "!PIPE!"
	recordSeparator = "\n"
)

func Escape(field string) string {
	return strings.ReplaceAll(field, FieldSeparator, SeparatorEscape)
}

func Unescape(field string) string {
	return strings.ReplaceAll(field, SeparatorEscape, FieldSeparator)
}

// Codec converts criteria lists to and from the persisted text blob:
// one record per line, fields id|value|text|operator|predicate.
type Codec struct {
	logger *zap.Logger
	// OnDecode, when set, observes every Decode outcome:
	// "ok", "empty", "malformed" or "unknown".
	OnDecode func(result string)
}

func NewCodec(logger *zap.Logger) *Codec {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Codec{logger: logger}
}

func (c *Codec) Encode(list []Instance) string {
	records := make([]string, 0, len(list))
	for _, inst := range list {
		records = append(records, encodeRecord(inst))
	}
	return strings.TrimSpace(strings.Join(records, recordSeparator))
}

func encodeRecord(inst Instance) string {
	value, _ := inst.Value()
	fields := []string{
		Escape(inst.Definition.ID),
		Escape(value),
		Escape(inst.Definition.Text),
		strconv.Itoa(int(inst.Operator)),
		Escape(inst.Definition.Predicate),
	}
	return strings.Join(fields, FieldSeparator)
}

// Decode restores a list from client supplied raw. A malformed record makes
// the whole result empty (logged, no error) so callers fall back to the
// universe filter. An unknown criterion id is returned as an error wrapping
// ErrUnknownCriterion. A persisted predicate must match the catalog template.
func (c *Codec) Decode(raw string, cat Catalog) ([]Instance, error) {
	return c.recoverMalformed(c.decode(raw, cat, false))
}

// DecodeStrict is Decode without the malformed-record recovery.
func (c *Codec) DecodeStrict(raw string, cat Catalog) ([]Instance, error) {
	return c.decode(raw, cat, false)
}

// DecodeStored is Decode for blobs read back from storage: a persisted
// predicate replaces the catalog template, so filters keep reproducing the
// predicate they were saved with.
func (c *Codec) DecodeStored(raw string, cat Catalog) ([]Instance, error) {
	return c.recoverMalformed(c.decode(raw, cat, true))
}

// DecodeStoredStrict is DecodeStored without the malformed-record recovery.
func (c *Codec) DecodeStoredStrict(raw string, cat Catalog) ([]Instance, error) {
	return c.decode(raw, cat, true)
}

func (c *Codec) recoverMalformed(list []Instance, err error) ([]Instance, error) {
	switch {
	case err == nil:
		if len(list) == 0 {
			c.observe("empty")
		} else {
			c.observe("ok")
		}
		return list, nil
	case errors.Is(err, ErrMalformedRecord):
		c.observe("malformed")
		c.logger.Warn("discarding malformed criteria", zap.Error(err))
		return []Instance{}, nil
	case errors.Is(err, ErrUnknownCriterion):
		c.observe("unknown")
		return nil, err
	default:
		return nil, err
	}
}

type record struct {
	line   int
	fields []string
	op     Operator
}

func (c *Codec) decode(raw string, cat Catalog, stored bool) ([]Instance, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return []Instance{}, nil
	}

	// Every record is checked for shape before any id reaches the catalog.
	records := make([]record, 0)
	for lineNo, row := range strings.Split(trimmed, recordSeparator) {
		if strings.TrimSpace(row) == "" {
			continue
		}
		rec, err := parseRecord(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
		}
		rec.line = lineNo + 1
		records = append(records, rec)
	}

	list := make([]Instance, 0, len(records))
	for _, rec := range records {
		inst, err := c.resolveRecord(rec, cat, stored)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", rec.line, err)
		}
		list = append(list, inst)
	}
	return list, nil
}

func parseRecord(row string) (record, error) {
	fields := strings.Split(row, FieldSeparator)
	if len(fields) != 4 && len(fields) != 5 {
		return record{}, fmt.Errorf("%w: %d fields in %q", ErrMalformedRecord, len(fields), row)
	}
	for idx := range fields {
		fields[idx] = Unescape(fields[idx])
	}

	opCode, err := strconv.Atoi(strings.TrimSpace(fields[3]))
	if err != nil {
		return record{}, fmt.Errorf("%w: operator %q", ErrMalformedRecord, fields[3])
	}
	op := Operator(opCode)
	if !op.IsValid() {
		return record{}, fmt.Errorf("%w: operator code %d", ErrMalformedRecord, opCode)
	}
	return record{fields: fields, op: op}, nil
}

func (c *Codec) resolveRecord(rec record, cat Catalog, stored bool) (Instance, error) {
	fields := rec.fields
	def, err := cat.Resolve(fields[0])
	if err != nil {
		return Instance{}, err
	}

	// An empty fifth field carries no predicate; the catalog template applies.
	if len(fields) == 5 && fields[4] != "" && fields[4] != def.Predicate {
		if !stored {
			return Instance{}, fmt.Errorf("%w: predicate of %s differs from the catalog", ErrMalformedRecord, def.ID)
		}
		def.Predicate = fields[4]
	}

	inst := NewInstance(def)
	inst.Operator = rec.op
	value := fields[1]
	switch def.Kind {
	case KindFreeText:
		if value != "" {
			inst.SelectedText = &value
		}
	case KindMultipleChoice:
		inst.SelectedIndex = def.EntryValueIndex(value)
		if inst.SelectedIndex < 0 && rec.op != OpUniverse && value != def.Text {
			c.logger.Debug("criterion selection not found",
				zap.String("criterion", def.ID),
				zap.String("value", value),
				zap.Error(ErrUnresolvedSelection),
			)
		}
	}
	return inst, nil
}

func (c *Codec) observe(result string) {
	if c.OnDecode != nil {
		c.OnDecode(result)
	}
}
