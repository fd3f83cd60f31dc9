package receipt

import (
	"encoding/json"
	"fmt"
	"time"
)

// WarrantyDetails is only present on high-value items.
type WarrantyDetails struct {
	Coverage     string `json:"coverage" bson:"coverage"`
	Requirements string `json:"requirements" bson:"requirements"`
	SourceURL    string `json:"source_url" bson:"source_url"`
}

// Item is a single line on a receipt.
type Item struct {
	UPC             string           `json:"upc" bson:"upc"`
	ProductName     string           `json:"product_name" bson:"product_name"`
	Quantity        float64          `json:"quantity" bson:"quantity"`
	UnitPrice       float64          `json:"unit_price" bson:"unit_price"`
	TotalPrice      float64          `json:"total_price" bson:"total_price"`
	SerialNumber    string           `json:"serial_number" bson:"serial_number"`
	WarrantyDetails *WarrantyDetails `json:"warranty_details,omitempty" bson:"warranty_details,omitempty"`
}

type TransactionInfo struct {
	StoreName     string `json:"store_name" bson:"store_name"`
	StoreAddress  string `json:"store_address" bson:"store_address"`
	StorePhone    string `json:"store_phone" bson:"store_phone"`
	DatePurchased string `json:"date_purchased" bson:"date_purchased"`
	TimePurchased string `json:"time_purchased" bson:"time_purchased"`
	Cashier       string `json:"cashier" bson:"cashier"`
	TransactionID string `json:"transaction_id" bson:"transaction_id"`
}

// Totals are trusted as extracted; subtotal + sales_tax is not checked against grand_total.
type Totals struct {
	Subtotal   float64 `json:"subtotal" bson:"subtotal"`
	SalesTax   float64 `json:"sales_tax" bson:"sales_tax"`
	GrandTotal float64 `json:"grand_total" bson:"grand_total"`
}

type PaymentInfo struct {
	CardType     string `json:"card_type" bson:"card_type"`
	CardLastFour string `json:"card_last_four" bson:"card_last_four"`
	AuthCode     string `json:"auth_code" bson:"auth_code"`
}

type ReturnPolicy struct {
	PolicyID             string  `json:"policy_id" bson:"policy_id"`
	ReturnWindowDays     float64 `json:"return_window_days" bson:"return_window_days"`
	PolicyExpirationDate string  `json:"policy_expiration_date" bson:"policy_expiration_date"`
	Notes                string  `json:"notes" bson:"notes"`
}

// Receipt is the validated structure extracted from a receipt image.
// Values are only built by Parse and are never modified afterwards.
type Receipt struct {
	TransactionInfo TransactionInfo `json:"transaction_info" bson:"transaction_info"`
	Items           []Item          `json:"items" bson:"items"`
	Totals          Totals          `json:"totals" bson:"totals"`
	PaymentInfo     PaymentInfo     `json:"payment_info" bson:"payment_info"`
	ReturnPolicy    ReturnPolicy    `json:"return_policy" bson:"return_policy"`
}

// Map returns the receipt as an untyped JSON tree.
func (r *Receipt) Map() (map[string]any, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshaling receipt: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling receipt: %w", err)
	}
	return m, nil
}

// Document is a receipt as held by the primary store.
type Document struct {
	// ID is assigned by the store on save.
	ID      string `json:"id" bson:"-"`
	Receipt `bson:",inline"`

	SourceFile  string    `json:"source_file,omitempty" bson:"source_file,omitempty"`
	ContentType string    `json:"content_type,omitempty" bson:"content_type,omitempty"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updated_at"`
}
