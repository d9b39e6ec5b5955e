package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PayerRule parameterizes payer-specific claim limits.
type PayerRule struct {
	PayerID           string              `mapstructure:"payerId"`
	RequiresPriorAuth bool                `mapstructure:"requiresPriorAuth"`
	AllowedModifiers  map[string][]string `mapstructure:"allowedModifiers"`
	RequiredModifiers map[string][]string `mapstructure:"requiredModifiers"`
	MaxUnitsPerDay    map[string]int      `mapstructure:"maxUnitsPerDay"`
	MaxVisitsPerYear  int                 `mapstructure:"maxVisitsPerYear"`
}

type PayerRules struct {
	Default PayerRule   `mapstructure:"default"`
	Payers  []PayerRule `mapstructure:"payers"`
}

// For returns the rule for payerID, falling back to the default rule.
func (r PayerRules) For(payerID string) PayerRule {
	payerID = strings.TrimSpace(payerID)
	for _, rule := range r.Payers {
		if strings.EqualFold(rule.PayerID, payerID) {
			return rule
		}
	}
	return r.Default
}

func DefaultPayerRules() PayerRules {
	return PayerRules{
		Default: PayerRule{
			MaxUnitsPerDay: map[string]int{
				"92507": 1,
				"92508": 1,
				"92526": 1,
				"97129": 1,
				"97130": 4,
			},
		},
		Payers: []PayerRule{
			{
				// Medicare requires the SLP plan-of-care modifier and caps visits
				// before KX is needed.
				PayerID:           "MEDICARE",
				RequiredModifiers: map[string][]string{"92507": {"GN"}, "92526": {"GN"}},
				MaxUnitsPerDay:    map[string]int{"92507": 1, "92526": 1},
				MaxVisitsPerYear:  60,
			},
		},
	}
}

type PayerRulesHolder struct {
	current atomic.Value // holds PayerRules
}

// NewStaticPayerRulesHolder wraps fixed rules without file watching.
func NewStaticPayerRulesHolder(rules PayerRules) *PayerRulesHolder {
	holder := &PayerRulesHolder{}
	holder.current.Store(rules)
	return holder
}

func NewPayerRulesHolder(log *zap.Logger) (*PayerRulesHolder, error) {
	v := viper.New()

	v.SetConfigName("payers")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/claimwise")
	v.AddConfigPath(".")

	return loadPayerRules(v, log)
}

// LoadPayerRules reads rules from an explicit file and watches it for changes.
func LoadPayerRules(path string, log *zap.Logger) (*PayerRulesHolder, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return loadPayerRules(v, log)
}

func loadPayerRules(v *viper.Viper, log *zap.Logger) (*PayerRulesHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.payers")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("payer rules file not found, using defaults")
		return NewStaticPayerRulesHolder(DefaultPayerRules()), nil
	}

	cfg, err := decodePayerRules(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPayerRulesHolder(cfg)

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePayerRules(v)
		if err != nil {
			log.Warn("invalid payer rules ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("payer rules reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *PayerRulesHolder) Get() PayerRules {
	return h.current.Load().(PayerRules)
}

func decodePayerRules(v *viper.Viper) (PayerRules, error) {
	var cfg PayerRules
	if err := v.UnmarshalKey("rules", &cfg); err != nil {
		return PayerRules{}, err
	}
	if err := validatePayerRules(cfg); err != nil {
		return PayerRules{}, err
	}
	return cfg, nil
}

func validatePayerRules(cfg PayerRules) error {
	seen := map[string]struct{}{}
	for i, rule := range cfg.Payers {
		id := strings.ToUpper(strings.TrimSpace(rule.PayerID))
		if id == "" {
			return fmt.Errorf("rules.payers[%d].payerId cannot be empty", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("rules.payers[%d]: duplicate payer %s", i, id)
		}
		seen[id] = struct{}{}
		if rule.MaxVisitsPerYear < 0 {
			return fmt.Errorf("rules.payers[%d].maxVisitsPerYear cannot be negative", i)
		}
		for cpt, units := range rule.MaxUnitsPerDay {
			if units <= 0 {
				return fmt.Errorf("rules.payers[%d].maxUnitsPerDay[%s] must be positive", i, cpt)
			}
		}
	}
	return nil
}
