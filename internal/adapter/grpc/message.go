package grpc

import (
	"math"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/simaogato/financik-backend/internal/domain"
)

// fields reads typed values out of a request struct
type fields map[string]*structpb.Value

func requestFields(req *structpb.Struct) fields {
	return fields(req.GetFields())
}

// str returns a string field; numbers are formatted without exponent
func (f fields) str(name string) string {
	v, ok := f[name]
	if !ok {
		return ""
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return strings.TrimSpace(kind.StringValue)
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(kind.NumberValue, 'f', -1, 64)
	default:
		return ""
	}
}

func (f fields) integer(name string) (int, error) {
	v, ok := f[name]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "missing %s", name)
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		if kind.NumberValue != math.Trunc(kind.NumberValue) {
			return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
		}
		return int(kind.NumberValue), nil
	case *structpb.Value_StringValue:
		n, err := strconv.Atoi(strings.TrimSpace(kind.StringValue))
		if err != nil {
			return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
		}
		return n, nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
	}
}

func (f fields) money(name string) (domain.Money, error) {
	raw := f.str(name)
	if raw == "" {
		return domain.Money{}, status.Errorf(codes.InvalidArgument, "missing %s", name)
	}
	m, err := domain.ParseMoney(raw)
	if err != nil {
		return domain.Money{}, status.Errorf(codes.InvalidArgument, "invalid %s format: %v", name, err)
	}
	return m, nil
}

// date accepts dd/mm/yyyy as the app sends it, and yyyy-mm-dd
func (f fields) date(name string) (domain.CalendarDate, error) {
	raw := f.str(name)
	if raw == "" {
		return domain.CalendarDate{}, status.Errorf(codes.InvalidArgument, "missing %s", name)
	}
	parse := domain.ParseDate
	if strings.Contains(raw, "-") {
		parse = domain.ParseISODate
	}
	d, err := parse(raw)
	if err != nil {
		return domain.CalendarDate{}, status.Errorf(codes.InvalidArgument, "invalid %s format: %v", name, err)
	}
	return d, nil
}

func newResponse(m map[string]interface{}) (*structpb.Struct, error) {
	resp, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return resp, nil
}

func transactionToMap(tx *domain.Transaction) map[string]interface{} {
	return map[string]interface{}{
		"id":          tx.ID,
		"account_id":  tx.AccountID,
		"kind":        string(tx.Kind),
		"amount":      tx.Amount.String(),
		"category":    tx.Category,
		"title":       tx.Title,
		"occurred_on": tx.OccurredOn.ISO(),
		"recorded_at": tx.RecordedAt.UTC().Format(time.RFC3339Nano),
		"state":       string(tx.State),
	}
}

func transactionsToList(txs []*domain.Transaction) []interface{} {
	list := make([]interface{}, 0, len(txs))
	for _, tx := range txs {
		list = append(list, transactionToMap(tx))
	}
	return list
}

func stringsToList(values []string) []interface{} {
	list := make([]interface{}, 0, len(values))
	for _, v := range values {
		list = append(list, v)
	}
	return list
}
