// Package playbook provides the CEL-Go based retention playbook. Rules map a
// condition over a scored prediction to a suggested action.
package playbook

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates compiled playbook rules.
type Engine struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules []*CompiledRule // sorted by priority, then ID
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.PlaybookRule
	Program cel.Program
}

// NewEngine creates an empty playbook engine.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("probability", cel.DoubleType),
		cel.Variable("label", cel.StringType),
		cel.Variable("risk_level", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("tenure", cel.IntType),
		cel.Variable("senior_citizen", cel.IntType),
		cel.Variable("monthly_charges", cel.DoubleType),
		cel.Variable("total_charges", cel.DoubleType),
		cel.Variable("contract", cel.StringType),
		cel.Variable("internet_service", cel.StringType),
		cel.Variable("online_security", cel.StringType),
		cel.Variable("tech_support", cel.StringType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("paperless_billing", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg *domain.PlaybookRule) error {
	if cfg == nil {
		return fmt.Errorf("playbook rule is required")
	}
	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule, replacing any rule with the same ID.
func (e *Engine) LoadRule(cfg *domain.PlaybookRule) error {
	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rules := make([]*CompiledRule, 0, len(e.rules)+1)
	for _, r := range e.rules {
		if r.Config.ID != cfg.ID {
			rules = append(rules, r)
		}
	}
	rules = append(rules, compiled)
	sortRules(rules)
	e.rules = rules

	return nil
}

// ReloadRules replaces every loaded rule. Disabled rules are skipped.
// On a compile error the current rule set is kept.
func (e *Engine) ReloadRules(configs []*domain.PlaybookRule) error {
	rules := make([]*CompiledRule, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		rules = append(rules, compiled)
	}
	sortRules(rules)

	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()

	return nil
}

// RemoveRule unloads a rule by ID.
func (e *Engine) RemoveRule(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rules := e.rules[:0:0]
	for _, r := range e.rules {
		if r.Config.ID != ruleID {
			rules = append(rules, r)
		}
	}
	e.rules = rules
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// GetLoadedRules returns the loaded rule configurations in evaluation order.
func (e *Engine) GetLoadedRules() []*domain.PlaybookRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	configs := make([]*domain.PlaybookRule, len(e.rules))
	for i, r := range e.rules {
		configs[i] = r.Config
	}
	return configs
}

// Match returns the first rule whose expression holds for the prediction.
// Evaluation errors skip the rule.
func (e *Engine) Match(f domain.Features, res *domain.PredictionResult) (*domain.PlaybookRule, bool) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, false
	}

	activation := map[string]any{
		"probability":       res.Probability,
		"label":             string(res.Label),
		"risk_level":        string(res.RiskLevel),
		"source":            string(res.Source),
		"tenure":            int64(f.Tenure),
		"senior_citizen":    int64(f.SeniorCitizen),
		"monthly_charges":   f.MonthlyCharges,
		"total_charges":     f.TotalCharges,
		"contract":          f.Contract,
		"internet_service":  f.InternetService,
		"online_security":   f.OnlineSecurity,
		"tech_support":      f.TechSupport,
		"payment_method":    f.PaymentMethod,
		"paperless_billing": f.PaperlessBilling,
	}

	for _, r := range rules {
		out, _, err := r.Program.Eval(activation)
		if err != nil {
			continue
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			return r.Config, true
		}
	}
	return nil, false
}

// Apply replaces the suggested action when a rule matches and reports the
// matching rule ID.
func (e *Engine) Apply(f domain.Features, res *domain.PredictionResult) (string, bool) {
	rule, ok := e.Match(f, res)
	if !ok {
		return "", false
	}
	res.SuggestedAction = rule.Action
	return rule.ID, true
}

func (e *Engine) compileRule(cfg *domain.PlaybookRule) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("playbook rule id is required")
	}
	if cfg.Action == "" {
		return nil, fmt.Errorf("playbook rule %s: action is required", cfg.ID)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile playbook rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("playbook rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for playbook rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}

func sortRules(rules []*CompiledRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Config.Priority != rules[j].Config.Priority {
			return rules[i].Config.Priority < rules[j].Config.Priority
		}
		return rules[i].Config.ID < rules[j].Config.ID
	})
}
