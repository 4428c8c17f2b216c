package grpcserver

import (
	"context"
	"fmt"

	"github.com/haze518/redis-sandbox/internal/types"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls the sandbox service over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Append adds fields to stream and returns the new entry ID.
func (c *Client) Append(ctx context.Context, stream string, fields map[string]interface{}) (string, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"stream": stream,
		"fields": fields,
	})
	if err != nil {
		return "", fmt.Errorf("structpb.NewStruct: %w", err)
	}
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, appendMethod, req, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// SaveProduct stores p, replacing its expiry.
func (c *Client) SaveProduct(ctx context.Context, p types.Product) error {
	req, err := productToStruct(p)
	if err != nil {
		return fmt.Errorf("productToStruct: %w", err)
	}
	return c.cc.Invoke(ctx, saveProductMethod, req, new(emptypb.Empty))
}

// FindProduct returns the product with id or a NotFound status.
func (c *Client) FindProduct(ctx context.Context, id string) (types.Product, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, findProductMethod, wrapperspb.String(id), out); err != nil {
		return types.Product{}, err
	}
	return productFromStruct(out)
}
