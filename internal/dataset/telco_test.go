package dataset

import (
	"errors"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const telcoHeader = "customerID,gender,SeniorCitizen,Partner,Dependents,tenure,PhoneService,MultipleLines,InternetService,OnlineSecurity,OnlineBackup,DeviceProtection,TechSupport,StreamingTV,StreamingMovies,Contract,PaperlessBilling,PaymentMethod,MonthlyCharges,TotalCharges,Churn\n"

func TestRead(t *testing.T) {
	input := telcoHeader +
		"7590-VHVEG,Female,0,Yes,No,1,No,No phone service,DSL,No,Yes,No,No,No,No,Month-to-month,Yes,Electronic check,29.85,29.85,No\n" +
		"3668-QPYBK,Male,0,No,No,2,Yes,No,DSL,Yes,Yes,No,No,No,No,Month-to-month,Yes,Mailed check,53.85,108.15,Yes\n" +
		"4472-LVYGI,Female,0,Yes,Yes,0,No,No phone service,DSL,Yes,No,Yes,Yes,Yes,No,Two year,Yes,Bank transfer (automatic),52.55, ,No\n"

	rows, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	first := rows[0].Features
	if first.Gender != "Female" || first.Tenure != 1 || first.Contract != domain.ContractMonthToMonth {
		t.Errorf("unexpected first row %+v", first)
	}
	if first.MonthlyCharges != 29.85 || first.TotalCharges != 29.85 {
		t.Errorf("unexpected charges %v/%v", first.MonthlyCharges, first.TotalCharges)
	}
	if rows[0].Churned() || !rows[1].Churned() {
		t.Error("unexpected churn ground truth")
	}
	if rows[1].Line != 2 {
		t.Errorf("expected line 2, got %d", rows[1].Line)
	}

	if rows[2].Features.TotalCharges != 0 {
		t.Errorf("expected blank TotalCharges to be 0, got %v", rows[2].Features.TotalCharges)
	}
	if rows[2].Features.PaymentMethod != "Bank transfer (automatic)" {
		t.Errorf("unexpected payment method %q", rows[2].Features.PaymentMethod)
	}
}

func TestReadWithoutOptionalColumns(t *testing.T) {
	header := strings.Join([]string{
		"gender", "SeniorCitizen", "Partner", "Dependents", "tenure", "PhoneService",
		"MultipleLines", "InternetService", "OnlineSecurity", "OnlineBackup",
		"DeviceProtection", "TechSupport", "StreamingTV", "StreamingMovies",
		"Contract", "PaperlessBilling", "PaymentMethod", "MonthlyCharges",
	}, ",")
	input := header + "\nMale,1,No,No,12,Yes,No,Fiber optic,No,No,No,No,No,No,One year,No,Mailed check,70.5\n"

	rows, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Churn != "" || rows[0].Features.TotalCharges != 0 {
		t.Errorf("unexpected row %+v", rows[0])
	}
}

func TestReadErrors(t *testing.T) {
	row := "7590-VHVEG,Female,0,Yes,No,%s,No,No phone service,DSL,No,Yes,No,No,No,No,Month-to-month,Yes,Electronic check,29.85,29.85,No\n"

	tests := []struct {
		name  string
		input string
	}{
		{"Empty", ""},
		{"MissingColumn", "gender,tenure\nMale,1\n"},
		{"BadTenure", telcoHeader + strings.Replace(row, "%s", "abc", 1)},
		{"NegativeTenure", telcoHeader + strings.Replace(row, "%s", "-2", 1)},
		{"ShortRow", telcoHeader + "7590-VHVEG,Female,0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input))
			if !errors.Is(err, domain.ErrInvalidFeatureValue) {
				t.Errorf("expected ErrInvalidFeatureValue, got %v", err)
			}
		})
	}
}
