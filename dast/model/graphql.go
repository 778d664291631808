package model

import "time"

// GraphQLScanStatus is the lifecycle state of a GraphQL scan.
type GraphQLScanStatus string

const (
	GraphQLStatusIntrospecting GraphQLScanStatus = "introspecting"
	GraphQLStatusScanning      GraphQLScanStatus = "scanning"
	GraphQLStatusCompleted     GraphQLScanStatus = "completed"
	GraphQLStatusFailed        GraphQLScanStatus = "failed"
)

// GraphQLOperationType distinguishes queries, mutations and subscriptions.
type GraphQLOperationType string

const (
	OperationQuery        GraphQLOperationType = "query"
	OperationMutation     GraphQLOperationType = "mutation"
	OperationSubscription GraphQLOperationType = "subscription"
)

// GraphQLArgument is a typed argument of a schema operation.
type GraphQLArgument struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // e.g. String, ID, Int, [User]
	Required bool   `json:"required"`
}

// GraphQLOperation is one operation from an introspected schema.
type GraphQLOperation struct {
	Name        string               `json:"name"`
	Type        GraphQLOperationType `json:"type"`
	Args        []GraphQLArgument    `json:"args,omitempty"`
	ReturnType  string               `json:"return_type"`
	ReturnsList bool                 `json:"returns_list"`
}

// GraphQLTypeDef is a named type from an introspected schema.
type GraphQLTypeDef struct {
	Name   string   `json:"name"`
	Kind   string   `json:"kind"` // OBJECT, INPUT_OBJECT, ENUM, SCALAR
	Fields []string `json:"fields,omitempty"`
}

// GraphQLSchema is the result of introspecting an endpoint.
type GraphQLSchema struct {
	Operations []GraphQLOperation `json:"operations"`
	Types      []GraphQLTypeDef   `json:"types,omitempty"`
}

// GraphQLScanConfig drives one GraphQL scan.
type GraphQLScanConfig struct {
	Endpoint         string `json:"endpoint"`
	UseIntrospection bool   `json:"use_introspection"`
	AuthHeader       string `json:"auth_header,omitempty"`
	IncludeMutations bool   `json:"include_mutations"`
	MaxDepth         int    `json:"max_depth,omitempty"`
}

// GraphQLFinding is a security finding scoped to a schema operation. It
// shares the Risk taxonomy with REST findings.
type GraphQLFinding struct {
	ID            uint                 `gorm:"primaryKey" json:"-"`
	GraphQLScanID string               `gorm:"index" json:"-"`
	Name          string               `json:"name"`
	Risk          Risk                 `json:"risk"`
	Description   string               `json:"description"`
	OperationName string               `json:"operation_name,omitempty"`
	OperationType GraphQLOperationType `json:"operation_type,omitempty"`
}

// OperationTest records the analysis outcome for one operation.
type OperationTest struct {
	OperationName string `json:"operation_name"`
	Status        string `json:"status"` // tested, skipped
	FindingCount  int    `json:"finding_count"`
}

// GraphQLProgress is the live state of a GraphQL scan.
type GraphQLProgress struct {
	Phase            string `json:"phase"`
	Percentage       int    `json:"percentage"`
	CurrentOperation string `json:"current_operation,omitempty"`
}

// GraphQLScan is one schema-driven analysis of a GraphQL endpoint.
type GraphQLScan struct {
	ID             string            `gorm:"primaryKey" json:"id"`
	Config         GraphQLScanConfig `gorm:"serializer:json" json:"config"`
	Status         GraphQLScanStatus `gorm:"index" json:"status"`
	StartedAt      time.Time         `json:"started_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	Schema         *GraphQLSchema    `gorm:"serializer:json" json:"schema,omitempty"`
	OperationTests []OperationTest   `gorm:"serializer:json" json:"operation_tests,omitempty"`
	Findings       []GraphQLFinding  `gorm:"foreignKey:GraphQLScanID" json:"findings,omitempty"`
	Summary        Summary           `gorm:"embedded;embeddedPrefix:summary_" json:"summary"`
	Progress       GraphQLProgress   `gorm:"serializer:json" json:"progress"`
	Error          string            `json:"error,omitempty"`
}
