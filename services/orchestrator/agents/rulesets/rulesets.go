// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rulesets holds the data-driven keyword tables behind intent
// routing and response safety gating.
//
// # Description
//
// The routing and safety heuristics are deliberately kept as data,
// separate from the agents that consume them, so the tables can be tuned
// and tested without touching decision logic. Defaults are embedded in
// the binary; operators can override either table with a YAML file at
// startup.
//
// All keyword matching is case-insensitive substring matching. Matchers
// lowercase their input once; table entries are stored lowercased at
// load time.
package rulesets

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Routing Rules
// =============================================================================

// NamespaceRule describes one knowledge namespace for the router.
type NamespaceRule struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
}

// HolisticRule is the short-circuit for whole-life questions: any keyword
// hit routes to the fixed namespace set, bypassing confidence checks.
type HolisticRule struct {
	Keywords   []string `yaml:"keywords"`
	Namespaces []string `yaml:"namespaces"`
}

// RoutingRules is the full routing table.
type RoutingRules struct {
	ConfidenceThreshold float64         `yaml:"confidence_threshold"`
	MaxNamespaces       int             `yaml:"max_namespaces"`
	Namespaces          []NamespaceRule `yaml:"namespaces"`
	Holistic            HolisticRule    `yaml:"holistic"`
}

// Validate checks structural requirements the router depends on.
func (r *RoutingRules) Validate() error {
	if len(r.Namespaces) == 0 {
		return fmt.Errorf("routing rules define no namespaces")
	}
	if r.ConfidenceThreshold <= 0 || r.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold %.2f out of range (0, 1]", r.ConfidenceThreshold)
	}
	if r.MaxNamespaces < 1 {
		return fmt.Errorf("max_namespaces must be at least 1, got %d", r.MaxNamespaces)
	}
	known := make(map[string]bool, len(r.Namespaces))
	hasGeneral := false
	for _, ns := range r.Namespaces {
		if ns.Name == "" {
			return fmt.Errorf("routing rules contain a namespace with no name")
		}
		if known[ns.Name] {
			return fmt.Errorf("duplicate namespace %q in routing rules", ns.Name)
		}
		known[ns.Name] = true
		if ns.Name == "general" {
			hasGeneral = true
		}
	}
	if !hasGeneral {
		return fmt.Errorf("routing rules must define the general fallback namespace")
	}
	for _, ns := range r.Holistic.Namespaces {
		if !known[ns] {
			return fmt.Errorf("holistic set references unknown namespace %q", ns)
		}
	}
	return nil
}

// NamespaceNames returns namespace names in table order.
func (r *RoutingRules) NamespaceNames() []string {
	names := make([]string, len(r.Namespaces))
	for i, ns := range r.Namespaces {
		names[i] = ns.Name
	}
	return names
}

// Describe returns the description for a namespace, or empty string.
func (r *RoutingRules) Describe(name string) string {
	for _, ns := range r.Namespaces {
		if ns.Name == name {
			return ns.Description
		}
	}
	return ""
}

// IsHolistic reports whether the message contains any holistic keyword.
func (r *RoutingRules) IsHolistic(message string) bool {
	lower := strings.ToLower(message)
	for _, keyword := range r.Holistic.Keywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// MatchNamespaces returns every namespace, in table order, whose keyword
// list contains the intent label or matches the message as a substring.
func (r *RoutingRules) MatchNamespaces(intent, message string) []string {
	lowerIntent := strings.ToLower(strings.TrimSpace(intent))
	lowerMessage := strings.ToLower(message)

	var matched []string
	for _, ns := range r.Namespaces {
		if r.namespaceMatches(ns, lowerIntent, lowerMessage) {
			matched = append(matched, ns.Name)
		}
	}
	return matched
}

func (r *RoutingRules) namespaceMatches(ns NamespaceRule, intent, message string) bool {
	// Matching is keyword-driven only. Namespaces that should match their own
	// label (such as feng_shui) list it in their keyword table; general has an
	// empty table and enters solely through the caller's fallback.
	for _, keyword := range ns.Keywords {
		if keyword == intent || strings.Contains(message, keyword) {
			return true
		}
	}
	return false
}

// =============================================================================
// Safety Rules
// =============================================================================

// HarmfulRule lists keywords that block a response. CrisisKeywords is the
// subset that routes to the crisis-resource refusal.
type HarmfulRule struct {
	Keywords       []string `yaml:"keywords"`
	CrisisKeywords []string `yaml:"crisis_keywords"`
}

// Refusals holds the fixed replacement texts for blocked responses.
type Refusals struct {
	Crisis  string `yaml:"crisis"`
	Generic string `yaml:"generic"`
}

// DisclaimerRule describes one regulated-advice domain. A disclaimer is
// appended only when a topic keyword AND an advice indicator both appear
// in the response.
type DisclaimerRule struct {
	Type             string   `yaml:"type"`
	TopicKeywords    []string `yaml:"topic_keywords"`
	AdviceIndicators []string `yaml:"advice_indicators"`
	Template         string   `yaml:"template"`
}

// ToneRule lists the phrases that trigger a tone-repair rewrite.
type ToneRule struct {
	DismissivePhrases []string `yaml:"dismissive_phrases"`
}

// SafetyRules is the full safety table. Disclaimer order in the table is
// the precedence order: only the first matching domain is applied.
type SafetyRules struct {
	Harmful     HarmfulRule      `yaml:"harmful"`
	Refusals    Refusals         `yaml:"refusals"`
	Disclaimers []DisclaimerRule `yaml:"disclaimers"`
	Tone        ToneRule         `yaml:"tone"`
}

// Validate checks structural requirements the safety gate depends on.
func (s *SafetyRules) Validate() error {
	if len(s.Harmful.Keywords) == 0 {
		return fmt.Errorf("safety rules define no harmful keywords")
	}
	if s.Refusals.Crisis == "" || s.Refusals.Generic == "" {
		return fmt.Errorf("safety rules must define both refusal texts")
	}
	seen := make(map[string]bool, len(s.Disclaimers))
	for _, d := range s.Disclaimers {
		if d.Type == "" {
			return fmt.Errorf("safety rules contain a disclaimer with no type")
		}
		if seen[d.Type] {
			return fmt.Errorf("duplicate disclaimer type %q", d.Type)
		}
		seen[d.Type] = true
		if d.Template == "" {
			return fmt.Errorf("disclaimer %q has no template", d.Type)
		}
	}
	return nil
}

// FindHarmful returns the first harmful keyword present in the response,
// and whether it is a crisis keyword. Found is false when the response is
// clean.
func (s *SafetyRules) FindHarmful(response string) (keyword string, crisis bool, found bool) {
	lower := strings.ToLower(response)
	for _, kw := range s.Harmful.Keywords {
		if strings.Contains(lower, kw) {
			return kw, s.isCrisisKeyword(kw), true
		}
	}
	return "", false, false
}

func (s *SafetyRules) isCrisisKeyword(keyword string) bool {
	for _, kw := range s.Harmful.CrisisKeywords {
		if kw == keyword {
			return true
		}
	}
	return false
}

// FindDisclaimer returns the first disclaimer domain in precedence order
// whose topic keywords and advice indicators both match the response.
// Topic mention alone never triggers a disclaimer.
func (s *SafetyRules) FindDisclaimer(response string) (DisclaimerRule, bool) {
	lower := strings.ToLower(response)
	for _, d := range s.Disclaimers {
		if containsAny(lower, d.TopicKeywords) && containsAny(lower, d.AdviceIndicators) {
			return d, true
		}
	}
	return DisclaimerRule{}, false
}

// NeedsToneRepair reports whether the response contains a dismissive
// phrase.
func (s *SafetyRules) NeedsToneRepair(response string) bool {
	lower := strings.ToLower(response)
	return containsAny(lower, s.Tone.DismissivePhrases)
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// =============================================================================
// Loading
// =============================================================================

// LoadRoutingRules parses and validates the embedded routing table.
func LoadRoutingRules() (*RoutingRules, error) {
	return parseRoutingRules(EmbeddedRoutingRules)
}

// LoadRoutingRulesFile parses a routing table from an operator-supplied
// file, replacing the embedded defaults entirely.
func LoadRoutingRulesFile(path string) (*RoutingRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing rules %s: %w", path, err)
	}
	return parseRoutingRules(data)
}

func parseRoutingRules(data []byte) (*RoutingRules, error) {
	var rules RoutingRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal routing rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	lowerAll(rules.Holistic.Keywords)
	for i := range rules.Namespaces {
		lowerAll(rules.Namespaces[i].Keywords)
	}
	return &rules, nil
}

// LoadSafetyRules parses and validates the embedded safety table.
func LoadSafetyRules() (*SafetyRules, error) {
	return parseSafetyRules(EmbeddedSafetyRules)
}

// LoadSafetyRulesFile parses a safety table from an operator-supplied
// file, replacing the embedded defaults entirely.
func LoadSafetyRulesFile(path string) (*SafetyRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read safety rules %s: %w", path, err)
	}
	return parseSafetyRules(data)
}

func parseSafetyRules(data []byte) (*SafetyRules, error) {
	var rules SafetyRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal safety rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	lowerAll(rules.Harmful.Keywords)
	lowerAll(rules.Harmful.CrisisKeywords)
	lowerAll(rules.Tone.DismissivePhrases)
	for i := range rules.Disclaimers {
		lowerAll(rules.Disclaimers[i].TopicKeywords)
		lowerAll(rules.Disclaimers[i].AdviceIndicators)
	}
	return &rules, nil
}

func lowerAll(keywords []string) {
	for i, kw := range keywords {
		keywords[i] = strings.ToLower(kw)
	}
}
