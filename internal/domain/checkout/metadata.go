package checkout

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/emberline/checkout-api/internal/domain/order"
)

// Processor metadata keys. The metadata map is the only state shared between
// session creation and settlement; it must be self-contained so settlement
// never re-queries the catalog.
const (
	metaOwnerID    = "owner_id"
	metaCouponCode = "coupon_code"
	metaItems      = "items"
)

// Metadata is the order-reconstruction snapshot carried through the payment
// processor. Item prices are frozen at session-creation time: later catalog
// changes must not affect a pending checkout.
type Metadata struct {
	OwnerID    string
	CouponCode string
	Items      []order.Item
}

// BuildMetadata serializes the snapshot into the opaque string map the
// processor stores verbatim.
func BuildMetadata(ownerID, couponCode string, items []LineItem) map[string]string {
	var e jx.Encoder
	e.ArrStart()
	for _, item := range items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(item.ProductID)
		e.FieldStart("qty")
		e.Int(item.Quantity)
		e.FieldStart("price")
		e.Int64(item.UnitPrice)
		e.ObjEnd()
	}
	e.ArrEnd()

	return map[string]string{
		metaOwnerID:    ownerID,
		metaCouponCode: couponCode,
		metaItems:      string(e.Bytes()),
	}
}

// ParseMetadata decodes a snapshot previously produced by BuildMetadata.
func ParseMetadata(meta map[string]string) (*Metadata, error) {
	ownerID := meta[metaOwnerID]
	if ownerID == "" {
		return nil, errors.New("metadata missing owner id")
	}

	d := jx.DecodeStr(meta[metaItems])
	var items []order.Item
	if err := d.Arr(func(d *jx.Decoder) error {
		var item order.Item
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				item.ProductID, err = d.Str()
			case "qty":
				item.Quantity, err = d.Int()
			case "price":
				item.UnitPrice, err = d.Int64()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		items = append(items, item)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode items snapshot")
	}
	if len(items) == 0 {
		return nil, errors.New("metadata has no items")
	}

	return &Metadata{
		OwnerID:    ownerID,
		CouponCode: meta[metaCouponCode],
		Items:      items,
	}, nil
}
