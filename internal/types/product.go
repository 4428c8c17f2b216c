package types

import "time"

// ProductPrefix is the key prefix products are stored under.
const ProductPrefix = "products"

// Product is stored as a hash at "products:<id>". TTL is in seconds; zero
// means the hash never expires.
type Product struct {
	ID    string `redis:"id"`
	Name  string `redis:"name"`
	Price int64  `redis:"price"`
	TTL   int64  `redis:"ttl"`
}

func (p Product) EntityID() string {
	return p.ID
}

func (p Product) Expiry() time.Duration {
	return time.Duration(p.TTL) * time.Second
}
