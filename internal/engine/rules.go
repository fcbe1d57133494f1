package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/eveboxstack/evebox-review/internal/models"
	"github.com/eveboxstack/evebox-review/internal/utils"
)

// Action is what a rule does to the alert groups it matches.
type Action string

const (
	ActionArchive  Action = "archive"
	ActionEscalate Action = "escalate"
)

// Rule is a single auto-archive rule.
type Rule struct {
	ID     string    `yaml:"id"`
	Action Action    `yaml:"action"`
	Match  RuleMatch `yaml:"match"`
}

// RuleMatch defines optional attributes for rule matching. All set attributes must match.
type RuleMatch struct {
	SignatureID       int64    `yaml:"signature_id"`
	SignatureContains []string `yaml:"signature_contains"`
	SrcIP             string   `yaml:"src_ip"`
	DestIP            string   `yaml:"dest_ip"`
	Severity          int      `yaml:"severity"`
}

func (m RuleMatch) empty() bool {
	return m.SignatureID == 0 && len(m.SignatureContains) == 0 && m.SrcIP == "" && m.DestIP == "" && m.Severity == 0
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// RuleEngine holds the current rule pack. Rules may be swapped by Reload while sweeps read them.
type RuleEngine struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	rules []Rule
}

// NewRuleEngine loads rules from the provided path. If path is empty or the file does not
// exist, it returns a nil engine.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if path == "" {
		return nil, nil
	}
	rules, err := LoadRules(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return &RuleEngine{path: path, rules: rules, logger: utils.Component(logger, "rules")}, nil
}

// NewRuleEngineFromRules builds an engine around an in-memory rule set.
func NewRuleEngineFromRules(rules []Rule, logger *slog.Logger) (*RuleEngine, error) {
	if err := validateRules(rules); err != nil {
		return nil, err
	}
	return &RuleEngine{rules: rules, logger: utils.Component(logger, "rules")}, nil
}

// LoadRules reads and validates a rule file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	if err := validateRules(cfg.Rules); err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return cfg.Rules, nil
}

func validateRules(rules []Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for i, rule := range rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: id is required", i)
		}
		if _, dup := seen[rule.ID]; dup {
			return fmt.Errorf("rule %s: duplicate id", rule.ID)
		}
		seen[rule.ID] = struct{}{}
		switch rule.Action {
		case ActionArchive, ActionEscalate:
		default:
			return fmt.Errorf("rule %s: unknown action %q", rule.ID, rule.Action)
		}
		if rule.Match.empty() {
			return fmt.Errorf("rule %s: match must set at least one attribute", rule.ID)
		}
	}
	return nil
}

// Rules returns a snapshot of the current rules.
func (e *RuleEngine) Rules() []Rule {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Match returns the first rule matching group.
func (e *RuleEngine) Match(group models.AlertGroup) (Rule, bool) {
	for _, rule := range e.Rules() {
		if ruleMatches(rule.Match, group) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Reload re-reads the rule file. On error the previous rules stay active.
func (e *RuleEngine) Reload() error {
	if e == nil || e.path == "" {
		return nil
	}
	rules, err := LoadRules(e.path)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
	e.logger.Info("rules reloaded", slog.String("path", e.path), slog.Int("rules", len(rules)))
	return nil
}

// Watch reloads the rule file whenever it changes, until ctx is done. The parent directory
// is watched so editors that replace the file are handled.
func (e *RuleEngine) Watch(ctx context.Context) error {
	if e == nil || e.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(e.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := e.Reload(); err != nil {
				e.logger.Warn("rules reload failed, keeping previous rules", slog.Any("error", err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("rules watcher error", slog.Any("error", err))
		}
	}
}

func ruleMatches(m RuleMatch, group models.AlertGroup) bool {
	src := group.Event.Source
	if m.SignatureID != 0 && (src.Alert == nil || src.Alert.SignatureID != m.SignatureID) {
		return false
	}
	if m.Severity != 0 && (src.Alert == nil || src.Alert.Severity != m.Severity) {
		return false
	}
	if m.SrcIP != "" && m.SrcIP != src.SrcIP {
		return false
	}
	if m.DestIP != "" && m.DestIP != src.DestIP {
		return false
	}
	if len(m.SignatureContains) > 0 && !signatureContains(group.Signature(), m.SignatureContains) {
		return false
	}
	return true
}

func signatureContains(signature string, keywords []string) bool {
	signature = strings.ToLower(signature)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(signature, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
