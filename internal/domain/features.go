package domain

import (
	"fmt"
	"math"
)

// Features holds the canonical subscriber attributes used as model input.
// JSON keys match the names the remote scoring service expects.
type Features struct {
	Gender           string  `json:"gender"`
	SeniorCitizen    int     `json:"SeniorCitizen"`
	Partner          string  `json:"Partner"`
	Dependents       string  `json:"Dependents"`
	Tenure           int     `json:"tenure"`
	PhoneService     string  `json:"PhoneService"`
	MultipleLines    string  `json:"MultipleLines"`
	InternetService  string  `json:"InternetService"`
	OnlineSecurity   string  `json:"OnlineSecurity"`
	OnlineBackup     string  `json:"OnlineBackup"`
	DeviceProtection string  `json:"DeviceProtection"`
	TechSupport      string  `json:"TechSupport"`
	StreamingTV      string  `json:"StreamingTV"`
	StreamingMovies  string  `json:"StreamingMovies"`
	Contract         string  `json:"Contract"`
	PaperlessBilling string  `json:"PaperlessBilling"`
	PaymentMethod    string  `json:"PaymentMethod"`
	MonthlyCharges   float64 `json:"MonthlyCharges"`
	TotalCharges     float64 `json:"TotalCharges"`
}

// Canonical feature names.
const (
	FeatureGender           = "gender"
	FeatureSeniorCitizen    = "SeniorCitizen"
	FeaturePartner          = "Partner"
	FeatureDependents       = "Dependents"
	FeatureTenure           = "tenure"
	FeaturePhoneService     = "PhoneService"
	FeatureMultipleLines    = "MultipleLines"
	FeatureInternetService  = "InternetService"
	FeatureOnlineSecurity   = "OnlineSecurity"
	FeatureOnlineBackup     = "OnlineBackup"
	FeatureDeviceProtection = "DeviceProtection"
	FeatureTechSupport      = "TechSupport"
	FeatureStreamingTV      = "StreamingTV"
	FeatureStreamingMovies  = "StreamingMovies"
	FeatureContract         = "Contract"
	FeaturePaperlessBilling = "PaperlessBilling"
	FeaturePaymentMethod    = "PaymentMethod"
	FeatureMonthlyCharges   = "MonthlyCharges"
	FeatureTotalCharges     = "TotalCharges"
)

// FeatureNames lists the canonical names in payload order.
var FeatureNames = []string{
	FeatureGender, FeatureSeniorCitizen, FeaturePartner, FeatureDependents,
	FeatureTenure, FeaturePhoneService, FeatureMultipleLines, FeatureInternetService,
	FeatureOnlineSecurity, FeatureOnlineBackup, FeatureDeviceProtection, FeatureTechSupport,
	FeatureStreamingTV, FeatureStreamingMovies, FeatureContract, FeaturePaperlessBilling,
	FeaturePaymentMethod, FeatureMonthlyCharges, FeatureTotalCharges,
}

// Well-known categorical values referenced by scoring and statistics.
const (
	ContractMonthToMonth = "Month-to-month"
	ContractOneYear      = "One year"
	ContractTwoYear      = "Two year"

	InternetFiberOptic = "Fiber optic"

	ValueNo  = "No"
	ValueYes = "Yes"
)

// Validate checks the numeric fields. Categorical values are passed through
// untouched; the scorers treat unknown values as neutral.
func (f Features) Validate() error {
	if f.Tenure < 0 {
		return fmt.Errorf("%w: tenure must be non-negative, got %d", ErrInvalidFeatureValue, f.Tenure)
	}
	if f.SeniorCitizen < 0 {
		return fmt.Errorf("%w: SeniorCitizen must be non-negative, got %d", ErrInvalidFeatureValue, f.SeniorCitizen)
	}
	if err := checkCharge(FeatureMonthlyCharges, f.MonthlyCharges); err != nil {
		return err
	}
	return checkCharge(FeatureTotalCharges, f.TotalCharges)
}

func checkCharge(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be a finite number", ErrInvalidFeatureValue, name)
	}
	if v < 0 {
		return fmt.Errorf("%w: %s must be non-negative, got %.2f", ErrInvalidFeatureValue, name, v)
	}
	return nil
}

// Payload returns the feature map sent to the remote scoring service.
func (f Features) Payload() map[string]any {
	return map[string]any{
		FeatureGender:           f.Gender,
		FeatureSeniorCitizen:    f.SeniorCitizen,
		FeaturePartner:          f.Partner,
		FeatureDependents:       f.Dependents,
		FeatureTenure:           f.Tenure,
		FeaturePhoneService:     f.PhoneService,
		FeatureMultipleLines:    f.MultipleLines,
		FeatureInternetService:  f.InternetService,
		FeatureOnlineSecurity:   f.OnlineSecurity,
		FeatureOnlineBackup:     f.OnlineBackup,
		FeatureDeviceProtection: f.DeviceProtection,
		FeatureTechSupport:      f.TechSupport,
		FeatureStreamingTV:      f.StreamingTV,
		FeatureStreamingMovies:  f.StreamingMovies,
		FeatureContract:         f.Contract,
		FeaturePaperlessBilling: f.PaperlessBilling,
		FeaturePaymentMethod:    f.PaymentMethod,
		FeatureMonthlyCharges:   f.MonthlyCharges,
		FeatureTotalCharges:     f.TotalCharges,
	}
}

// FeaturesRequest is the wire form accepted at the API boundary.
// TotalCharges is optional and defaults to 0.0.
type FeaturesRequest struct {
	Gender           string   `json:"gender"`
	SeniorCitizen    *int     `json:"SeniorCitizen"`
	Partner          string   `json:"Partner"`
	Dependents       string   `json:"Dependents"`
	Tenure           *int     `json:"tenure"`
	PhoneService     string   `json:"PhoneService"`
	MultipleLines    string   `json:"MultipleLines"`
	InternetService  string   `json:"InternetService"`
	OnlineSecurity   string   `json:"OnlineSecurity"`
	OnlineBackup     string   `json:"OnlineBackup"`
	DeviceProtection string   `json:"DeviceProtection"`
	TechSupport      string   `json:"TechSupport"`
	StreamingTV      string   `json:"StreamingTV"`
	StreamingMovies  string   `json:"StreamingMovies"`
	Contract         string   `json:"Contract"`
	PaperlessBilling string   `json:"PaperlessBilling"`
	PaymentMethod    string   `json:"PaymentMethod"`
	MonthlyCharges   *float64 `json:"MonthlyCharges"`
	TotalCharges     *float64 `json:"TotalCharges,omitempty"`
}

// ToFeatures converts a request into validated canonical features.
func (r *FeaturesRequest) ToFeatures() (Features, error) {
	if r.Tenure == nil {
		return Features{}, fmt.Errorf("%w: tenure is required", ErrInvalidFeatureValue)
	}
	if r.SeniorCitizen == nil {
		return Features{}, fmt.Errorf("%w: SeniorCitizen is required", ErrInvalidFeatureValue)
	}
	if r.MonthlyCharges == nil {
		return Features{}, fmt.Errorf("%w: MonthlyCharges is required", ErrInvalidFeatureValue)
	}

	f := Features{
		Gender:           r.Gender,
		SeniorCitizen:    *r.SeniorCitizen,
		Partner:          r.Partner,
		Dependents:       r.Dependents,
		Tenure:           *r.Tenure,
		PhoneService:     r.PhoneService,
		MultipleLines:    r.MultipleLines,
		InternetService:  r.InternetService,
		OnlineSecurity:   r.OnlineSecurity,
		OnlineBackup:     r.OnlineBackup,
		DeviceProtection: r.DeviceProtection,
		TechSupport:      r.TechSupport,
		StreamingTV:      r.StreamingTV,
		StreamingMovies:  r.StreamingMovies,
		Contract:         r.Contract,
		PaperlessBilling: r.PaperlessBilling,
		PaymentMethod:    r.PaymentMethod,
		MonthlyCharges:   *r.MonthlyCharges,
	}
	if r.TotalCharges != nil {
		f.TotalCharges = *r.TotalCharges
	}

	if err := f.Validate(); err != nil {
		return Features{}, err
	}
	return f, nil
}
