package order

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

type signatureItem struct {
	Name     string  `json:"n"`
	Size     string  `json:"s"`
	Quantity int     `json:"q"`
	Category string  `json:"c"`
	Price    float64 `json:"p"`
}

type signatureBody struct {
	Table     Table           `json:"t"`
	Timestamp string          `json:"ts"`
	Items     []signatureItem `json:"items"`
}

// Signature is a content fingerprint of an order: table, timestamp truncated to the second and
// the normalised item list. Orders carrying different ids but the same content share it.
func Signature(o Order) string {
	ts := o.Timestamp
	if len(ts) > 19 {
		ts = ts[:19]
	}
	body := signatureBody{Table: o.Table, Timestamp: ts, Items: make([]signatureItem, 0, len(o.Items))}
	for _, it := range o.Items {
		body.Items = append(body.Items, signatureItem{
			Name:     it.Name,
			Size:     it.Size,
			Quantity: it.Qty(),
			Category: lower(it.Category),
			Price:    it.Price,
		})
	}
	// marshalling plain structs of strings and numbers cannot fail
	raw, _ := json.Marshal(body)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
