package types

import (
	"fmt"
	"strconv"

	"github.com/go-viper/mapstructure/v2"
)

// Order is the typed payload carried by order stream entries.
type Order struct {
	ID       string `mapstructure:"id"`
	Name     string `mapstructure:"name"`
	Price    int64  `mapstructure:"price"`
	Quantity int64  `mapstructure:"quantity"`
}

// Fields flattens the order into stream entry fields.
func (o Order) Fields() map[string]interface{} {
	return map[string]interface{}{
		"id":       o.ID,
		"name":     o.Name,
		"price":    strconv.FormatInt(o.Price, 10),
		"quantity": strconv.FormatInt(o.Quantity, 10),
	}
}

func (o Order) String() string {
	return fmt.Sprintf("Order(id=%s, name=%s, price=%d, quantity=%d)", o.ID, o.Name, o.Price, o.Quantity)
}

// DecodeOrder parses string stream fields into an Order. Numeric fields
// that do not parse produce an error.
func DecodeOrder(fields map[string]string) (Order, error) {
	var order Order
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &order,
	})
	if err != nil {
		return Order{}, fmt.Errorf("mapstructure.NewDecoder: %w", err)
	}
	if err := decoder.Decode(fields); err != nil {
		return Order{}, fmt.Errorf("decoder.Decode: %w", err)
	}
	return order, nil
}
