package grpcserver

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/haze518/redis-sandbox/internal/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func (s *Server) SaveProduct(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	product, err := productFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.products.Save(ctx, product); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) FindProduct(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	product, ok, err := s.products.FindByID(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	if !ok {
		return nil, status.Errorf(codes.NotFound, "product %q not found", req.GetValue())
	}
	return productToStruct(product)
}

func productFromStruct(req *structpb.Struct) (types.Product, error) {
	fields := req.GetFields()
	product := types.Product{
		ID:   fields["id"].GetStringValue(),
		Name: fields["name"].GetStringValue(),
	}
	if product.ID == "" {
		return types.Product{}, fmt.Errorf("product id is required")
	}

	var err error
	if product.Price, err = int64Field(fields["price"]); err != nil {
		return types.Product{}, fmt.Errorf("price: %w", err)
	}
	if product.TTL, err = int64Field(fields["ttl"]); err != nil {
		return types.Product{}, fmt.Errorf("ttl: %w", err)
	}
	return product, nil
}

func productToStruct(p types.Product) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"id":    p.ID,
		"name":  p.Name,
		"price": p.Price,
		"ttl":   p.TTL,
	})
}

// int64Field accepts whole numbers and numeric strings; a missing value is zero.
func int64Field(v *structpb.Value) (int64, error) {
	switch k := v.GetKind().(type) {
	case nil:
		return 0, nil
	case *structpb.Value_NumberValue:
		if k.NumberValue != math.Trunc(k.NumberValue) {
			return 0, fmt.Errorf("%v is not a whole number", k.NumberValue)
		}
		return int64(k.NumberValue), nil
	case *structpb.Value_StringValue:
		return strconv.ParseInt(k.StringValue, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported value type %T", k)
	}
}
