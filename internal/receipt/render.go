package receipt

import (
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// Line is one item row, already formatted.
type Line struct {
	Name      string
	Quantity  int64
	UnitPrice string
	Amount    string
}

// Data is everything printed on an order receipt. Amounts are formatted
// by the caller.
type Data struct {
	ShopName    string
	ShopAddress string
	ShopPhone   string
	ShopEmail   string

	OrderNumber string
	Date        string
	Status      string

	CustomerName    string
	CustomerPhone   string
	CustomerAddress string

	Lines []Line

	Subtotal               string
	ShippingFee            string
	Total                  string
	PaidAmount             string
	RemainingBalance       string
	PreviousPendingBalance string
	TotalWithPending       string
	Notes                  string
}

// Render lays out d as a single A4 receipt.
func Render(d Data) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, d.ShopName, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "Receipt", props.Text{
			Size:  16,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New(d.ShopAddress, props.Text{Size: 9}),
			text.New(d.ShopPhone, props.Text{Size: 9, Top: 4}),
			text.New(d.ShopEmail, props.Text{Size: 9, Top: 8}),
		),
		col.New(6).Add(
			text.New("Order: "+d.OrderNumber, props.Text{Size: 9, Align: align.Right}),
			text.New("Date: "+d.Date, props.Text{Size: 9, Top: 4, Align: align.Right}),
			text.New("Status: "+d.Status, props.Text{Size: 9, Top: 8, Align: align.Right}),
		),
	)

	m.AddRow(25,
		col.New(12).Add(
			text.New("Customer", props.Text{Style: fontstyle.Bold}),
			text.New(d.CustomerName, props.Text{Top: 5}),
			text.New(d.CustomerPhone, props.Text{Top: 9}),
			text.New(d.CustomerAddress, props.Text{Top: 13}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Item", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, line := range d.Lines {
		m.AddRow(8,
			text.NewCol(6, line.Name, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", line.Quantity), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, line.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, line.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	totals := [][2]string{
		{"Subtotal", d.Subtotal},
		{"Shipping", d.ShippingFee},
		{"Total", d.Total},
		{"Paid", d.PaidAmount},
		{"Remaining", d.RemainingBalance},
		{"Previous balance", d.PreviousPendingBalance},
		{"Total with balance", d.TotalWithPending},
	}
	for _, row := range totals {
		m.AddRow(7,
			col.New(7),
			text.NewCol(3, row[0], props.Text{Size: 9}),
			text.NewCol(2, row[1], props.Text{Size: 9, Align: align.Right}),
		)
	}

	if d.Notes != "" {
		m.AddRow(15,
			text.NewCol(12, "Notes: "+d.Notes, props.Text{Size: 9, Top: 5}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
