package grpcserver

import (
	"context"
	"fmt"
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Append publishes the request fields as one stream entry and returns the
// assigned entry ID.
func (s *Server) Append(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error) {
	stream := req.GetFields()["stream"].GetStringValue()
	fieldsVal := req.GetFields()["fields"].GetStructValue()

	fields := make(map[string]interface{}, len(fieldsVal.GetFields()))
	for k, v := range fieldsVal.GetFields() {
		str, err := scalarString(v)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("field %q: %v", k, err))
		}
		fields[k] = str
	}

	id, err := s.broker.Publish(ctx, stream, fields)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(id), nil
}

// scalarString renders a scalar protobuf value the way it is stored in a
// stream entry.
func scalarString(v *structpb.Value) (string, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64), nil
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", k)
	}
}
