package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tealeg/xlsx"
)

const exportDateLayout = "2006-01-02 15:04:05"

var exportHeader = []string{
	"id", "name", "email", "phone", "address", "city", "postal_code", "payment_method",
	"type", "size", "frame_color", "quantity", "price", "currency", "image_url",
	"status", "tracking_id", "created_at",
}

// ParseExportFormat normalises raw input; an empty value selects CSV.
func ParseExportFormat(raw string) (ExportFormat, bool) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ExportFormatCSV:
		return ExportFormatCSV, true
	case ExportFormatJSON:
		return ExportFormatJSON, true
	case ExportFormatXLSX, "excel":
		return ExportFormatXLSX, true
	}
	return "", false
}

// ExportCSV flattens orders into comma separated rows under a header line.
// Fields are quoted as needed so embedded commas and quotes survive.
func ExportCSV(orders []Order) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(exportHeader)
	for _, order := range orders {
		_ = w.Write(exportRow(order))
	}
	w.Flush()
	return buf.String()
}

func exportRow(order Order) []string {
	return []string{
		order.ID,
		order.Customer.Name,
		order.Customer.Email,
		order.Customer.Phone,
		order.Customer.Address,
		order.Customer.City,
		order.Customer.PostalCode,
		string(order.Customer.PaymentMethod),
		string(order.Print.Type),
		order.Print.Size,
		string(order.Print.FrameColor),
		strconv.Itoa(order.Print.Quantity),
		order.Print.Price.StringFixed(2),
		order.Currency,
		order.Print.ImageURL,
		string(order.Status),
		order.TrackingID,
		formatExportTime(order.CreatedAt),
	}
}

type exportedOrder struct {
	ID               string `json:"id"`
	ShortID          string `json:"short_id"`
	CheckoutRef      string `json:"checkout_ref,omitempty"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Phone            string `json:"phone,omitempty"`
	Address          string `json:"address"`
	City             string `json:"city"`
	PostalCode       string `json:"postal_code"`
	PaymentMethod    string `json:"payment_method"`
	Type             string `json:"type"`
	Size             string `json:"size"`
	FrameColor       string `json:"frame_color,omitempty"`
	Quantity         int    `json:"quantity"`
	Price            string `json:"price"`
	Currency         string `json:"currency"`
	ImageURL         string `json:"image_url"`
	Status           string `json:"status"`
	TrackingID       string `json:"tracking_id,omitempty"`
	PaymentSessionID string `json:"payment_session_id,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

func exportJSON(orders []Order) ([]byte, error) {
	out := make([]exportedOrder, 0, len(orders))
	for _, order := range orders {
		item := exportedOrder{
			ID:               order.ID,
			ShortID:          order.ShortID(),
			CheckoutRef:      order.CheckoutRef,
			Name:             order.Customer.Name,
			Email:            order.Customer.Email,
			Phone:            order.Customer.Phone,
			Address:          order.Customer.Address,
			City:             order.Customer.City,
			PostalCode:       order.Customer.PostalCode,
			PaymentMethod:    string(order.Customer.PaymentMethod),
			Type:             string(order.Print.Type),
			Size:             order.Print.Size,
			FrameColor:       string(order.Print.FrameColor),
			Quantity:         order.Print.Quantity,
			Price:            order.Print.Price.StringFixed(2),
			Currency:         order.Currency,
			ImageURL:         order.Print.ImageURL,
			Status:           string(order.Status),
			TrackingID:       order.TrackingID,
			PaymentSessionID: order.PaymentSessionID,
			CreatedAt:        order.CreatedAt.UTC().Format(time.RFC3339),
		}
		if !order.UpdatedAt.IsZero() {
			item.UpdatedAt = order.UpdatedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, item)
	}
	return json.MarshalIndent(out, "", "  ")
}

func exportXLSX(orders []Order) ([]byte, error) {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Orders")
	if err != nil {
		return nil, fmt.Errorf("orders export: add sheet: %w", err)
	}

	header := sheet.AddRow()
	for _, h := range exportHeader {
		header.AddCell().SetString(h)
	}
	for _, order := range orders {
		row := sheet.AddRow()
		for i, value := range exportRow(order) {
			cell := row.AddCell()
			switch exportHeader[i] {
			case "quantity":
				cell.SetInt(order.Print.Quantity)
			case "price":
				price, _ := order.Print.Price.Float64()
				cell.SetFloatWithFormat(price, "0.00")
			default:
				cell.SetString(value)
			}
		}
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("orders export: write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeExport(format ExportFormat, orders []Order, now time.Time) (OrderExport, error) {
	export := OrderExport{
		Format:   format,
		Filename: fmt.Sprintf("orders-%s.%s", now.UTC().Format("20060102-150405"), format),
		Count:    len(orders),
	}
	switch format {
	case ExportFormatCSV:
		export.ContentType = "text/csv; charset=utf-8"
		export.Data = []byte(ExportCSV(orders))
	case ExportFormatJSON:
		data, err := exportJSON(orders)
		if err != nil {
			return OrderExport{}, fmt.Errorf("orders export: encode json: %w", err)
		}
		export.ContentType = "application/json"
		export.Data = data
	case ExportFormatXLSX:
		data, err := exportXLSX(orders)
		if err != nil {
			return OrderExport{}, err
		}
		export.ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		export.Data = data
	default:
		return OrderExport{}, fmt.Errorf("%w: %q", ErrOrderExportFormat, format)
	}
	return export, nil
}

func formatExportTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(exportDateLayout)
}
