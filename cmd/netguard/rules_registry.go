package main

import (
	"netguard/internal/rules"
	"netguard/internal/rules/builtin"

	"github.com/sirupsen/logrus"
)

// registerBuiltinRules registers the enabled rules from config
func registerBuiltinRules(engine *rules.Engine, configs []rules.Config, logger *logrus.Logger) {
	for _, ruleConfig := range configs {
		if !ruleConfig.Enabled {
			continue
		}

		switch ruleConfig.Name {
		case "ddos":
			threshold := int(ruleConfig.Threshold("packets_per_window", 1000))
			engine.RegisterRule(builtin.NewDDoSRule(true, ruleConfig.Severity, threshold, logger))
			logger.Debugf("Rule %s: %d packets per window", ruleConfig.Name, threshold)

		case "port_scan":
			threshold := int(ruleConfig.Threshold("distinct_ports", 10))
			engine.RegisterRule(builtin.NewPortScanRule(true, ruleConfig.Severity, threshold, logger))
			logger.Debugf("Rule %s: %d distinct ports", ruleConfig.Name, threshold)

		case "tcp_reset_surge":
			threshold := int(ruleConfig.Threshold("per_window", 10))
			engine.RegisterRule(builtin.NewTCPResetRule(true, ruleConfig.Severity, threshold, logger))
			logger.Debugf("Rule %s: %d resets per minute", ruleConfig.Name, threshold)

		case "suspicious_outbound":
			threshold := int(ruleConfig.Threshold("distinct_destinations", 50))
			engine.RegisterRule(builtin.NewOutboundRule(true, ruleConfig.Severity, threshold, logger))
			logger.Debugf("Rule %s: %d distinct destinations", ruleConfig.Name, threshold)

		default:
			logger.Warnf("Unknown rule type: %s", ruleConfig.Name)
		}
	}
}

// buildRuleEngine combines inline rules with those from the optional rules file.
func buildRuleEngine(configs []rules.Config, rulesFile string, logger *logrus.Logger) (*rules.Engine, error) {
	if rulesFile != "" {
		fromFile, err := rules.LoadRules(rulesFile)
		if err != nil {
			return nil, err
		}
		configs = append(append([]rules.Config(nil), configs...), fromFile...)
	}

	engine := rules.NewEngine(logger)
	registerBuiltinRules(engine, configs, logger)
	return engine, nil
}
