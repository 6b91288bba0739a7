// Package dataset reads customer rows in the Telco churn CSV layout.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ChurnColumn is the optional ground-truth column of labelled datasets.
const ChurnColumn = "Churn"

// Row is one parsed customer.
type Row struct {
	// Line is the 1-based record number, header excluded.
	Line     int
	Features domain.Features
	// Churn is the raw ground-truth value, empty when the column is absent.
	Churn string
}

// Churned reports whether the ground truth marks the customer as churned.
func (r Row) Churned() bool {
	return domain.IsChurnLabel(r.Churn)
}

// Read parses every row of a header-first CSV. Column order is free; all 19
// canonical feature columns are required except TotalCharges. Blank
// TotalCharges values become 0.0. Parse errors wrap ErrInvalidFeatureValue.
func Read(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", domain.ErrInvalidFeatureValue)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %v", domain.ErrInvalidFeatureValue, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, name := range domain.FeatureNames {
		if name == domain.FeatureTotalCharges {
			continue
		}
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", domain.ErrInvalidFeatureValue, name)
		}
	}

	var rows []Row
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", domain.ErrInvalidFeatureValue, line, err)
		}

		row, err := parseRow(cols, record)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		row.Line = line
		rows = append(rows, row)
	}

	return rows, nil
}

func parseRow(cols map[string]int, record []string) (Row, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	senior, err := parseInt(domain.FeatureSeniorCitizen, get(domain.FeatureSeniorCitizen))
	if err != nil {
		return Row{}, err
	}
	tenure, err := parseInt(domain.FeatureTenure, get(domain.FeatureTenure))
	if err != nil {
		return Row{}, err
	}
	monthly, err := parseFloat(domain.FeatureMonthlyCharges, get(domain.FeatureMonthlyCharges))
	if err != nil {
		return Row{}, err
	}

	var total float64
	if raw := get(domain.FeatureTotalCharges); raw != "" {
		if total, err = parseFloat(domain.FeatureTotalCharges, raw); err != nil {
			return Row{}, err
		}
	}

	f := domain.Features{
		Gender:           get(domain.FeatureGender),
		SeniorCitizen:    senior,
		Partner:          get(domain.FeaturePartner),
		Dependents:       get(domain.FeatureDependents),
		Tenure:           tenure,
		PhoneService:     get(domain.FeaturePhoneService),
		MultipleLines:    get(domain.FeatureMultipleLines),
		InternetService:  get(domain.FeatureInternetService),
		OnlineSecurity:   get(domain.FeatureOnlineSecurity),
		OnlineBackup:     get(domain.FeatureOnlineBackup),
		DeviceProtection: get(domain.FeatureDeviceProtection),
		TechSupport:      get(domain.FeatureTechSupport),
		StreamingTV:      get(domain.FeatureStreamingTV),
		StreamingMovies:  get(domain.FeatureStreamingMovies),
		Contract:         get(domain.FeatureContract),
		PaperlessBilling: get(domain.FeaturePaperlessBilling),
		PaymentMethod:    get(domain.FeaturePaymentMethod),
		MonthlyCharges:   monthly,
		TotalCharges:     total,
	}
	if err := f.Validate(); err != nil {
		return Row{}, err
	}

	return Row{Features: f, Churn: get(ChurnColumn)}, nil
}

func parseInt(name, raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not an integer: %q", domain.ErrInvalidFeatureValue, name, raw)
	}
	return v, nil
}

func parseFloat(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not a number: %q", domain.ErrInvalidFeatureValue, name, raw)
	}
	return v, nil
}
