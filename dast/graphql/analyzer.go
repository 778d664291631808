// Package graphql performs schema-driven vulnerability analysis for
// GraphQL endpoints. The analyzer is a heuristic classifier over operation
// names and argument types: false positives are expected, the goal is
// coverage rather than precision.
package graphql

import (
	"fmt"
	"strings"

	"github.com/mqxerror/qa-guardian/dast/model"
)

// Rule is one heuristic over a schema operation. Rules are evaluated in
// declaration order and every matching rule emits a finding; new rules are
// appended without touching existing ones.
type Rule struct {
	Name    string
	Applies func(op model.GraphQLOperation) bool
	Build   func(op model.GraphQLOperation) model.GraphQLFinding
}

// rules is the fixed ordered rule set.
var rules = []Rule{
	{
		Name: "GraphQL Injection",
		Applies: func(op model.GraphQLOperation) bool {
			name := strings.ToLower(op.Name)
			return (strings.Contains(name, "search") || strings.Contains(name, "find")) && hasStringArg(op)
		},
		Build: func(op model.GraphQLOperation) model.GraphQLFinding {
			return finding(op, "GraphQL Injection", model.RiskHigh,
				fmt.Sprintf("Operation %q accepts free-text string arguments; search-style operations are the most common injection vector.", op.Name))
		},
	},
	{
		Name: "Batching Attack",
		Applies: func(op model.GraphQLOperation) bool {
			return op.ReturnsList && hasArgNamed(op, "limit")
		},
		Build: func(op model.GraphQLOperation) model.GraphQLFinding {
			return finding(op, "Batching Attack", model.RiskMedium,
				fmt.Sprintf("Operation %q returns a list with a client-controlled limit; unbounded list queries risk resource exhaustion.", op.Name))
		},
	},
	{
		Name: "IDOR",
		Applies: func(op model.GraphQLOperation) bool {
			return hasRequiredIDArg(op)
		},
		Build: func(op model.GraphQLOperation) model.GraphQLFinding {
			return finding(op, "IDOR", model.RiskHigh,
				fmt.Sprintf("Operation %q is keyed by a raw ID argument and is assumed to lack object-level authorization until proven otherwise.", op.Name))
		},
	},
	{
		Name: "Missing Rate Limiting",
		Applies: func(op model.GraphQLOperation) bool {
			name := strings.ToLower(op.Name)
			return name == "login" || name == "authenticate"
		},
		Build: func(op model.GraphQLOperation) model.GraphQLFinding {
			return finding(op, "Missing Rate Limiting", model.RiskMedium,
				fmt.Sprintf("Authentication operation %q should be rate limited to prevent credential stuffing.", op.Name))
		},
	},
	{
		Name: "Missing Authorization",
		Applies: func(op model.GraphQLOperation) bool {
			name := strings.ToLower(op.Name)
			return strings.Contains(name, "delete") || strings.Contains(name, "admin")
		},
		Build: func(op model.GraphQLOperation) model.GraphQLFinding {
			return finding(op, "Missing Authorization", model.RiskHigh,
				fmt.Sprintf("Operation %q performs a privileged action and must enforce authorization server-side.", op.Name))
		},
	},
}

func finding(op model.GraphQLOperation, name string, risk model.Risk, description string) model.GraphQLFinding {
	return model.GraphQLFinding{
		Name:          name,
		Risk:          risk,
		Description:   description,
		OperationName: op.Name,
		OperationType: op.Type,
	}
}

func hasStringArg(op model.GraphQLOperation) bool {
	for _, a := range op.Args {
		if strings.EqualFold(strings.Trim(a.Type, "[]!"), "String") {
			return true
		}
	}
	return false
}

func hasArgNamed(op model.GraphQLOperation, name string) bool {
	for _, a := range op.Args {
		if strings.EqualFold(a.Name, name) {
			return true
		}
	}
	return false
}

func hasRequiredIDArg(op model.GraphQLOperation) bool {
	for _, a := range op.Args {
		if a.Required && strings.EqualFold(strings.Trim(a.Type, "[]!"), "ID") {
			return true
		}
	}
	return false
}

// AnalyzeOperation runs every rule against one operation and returns all
// findings that apply.
func AnalyzeOperation(op model.GraphQLOperation) []model.GraphQLFinding {
	var findings []model.GraphQLFinding
	for _, r := range rules {
		if r.Applies(op) {
			findings = append(findings, r.Build(op))
		}
	}
	return findings
}

// AnalyzeSchema analyzes every operation of an introspected schema.
// Mutations are skipped when the config excludes them; subscriptions are
// always analyzed. When introspection is enabled on the target a
// schema-wide informational finding is added.
func AnalyzeSchema(schema *model.GraphQLSchema, cfg model.GraphQLScanConfig) []model.GraphQLFinding {
	var findings []model.GraphQLFinding
	if schema == nil {
		return findings
	}
	for _, op := range schema.Operations {
		if op.Type == model.OperationMutation && !cfg.IncludeMutations {
			continue
		}
		findings = append(findings, AnalyzeOperation(op)...)
	}
	if cfg.UseIntrospection {
		findings = append(findings, model.GraphQLFinding{
			Name:        "Introspection Enabled",
			Risk:        model.RiskInformational,
			Description: "The endpoint exposes its full schema via introspection. Disable introspection in production to reduce attack surface discovery.",
		})
	}
	return findings
}
