// Package agent defines the agent types that execute phases of the
// software-delivery workflow.
package agent

// Type identifies a specialized agent role.
type Type string

const (
	TypeAnalyst   Type = "analyst"
	TypeArchitect Type = "architect"
	TypeCoder     Type = "coder"
	TypeTester    Type = "tester"
	TypeDeployer  Type = "deployer"
)

// Types lists all known agent types.
func Types() []Type {
	return []Type{TypeAnalyst, TypeArchitect, TypeCoder, TypeTester, TypeDeployer}
}

// Known reports whether t is a recognized agent type.
func Known(t Type) bool {
	switch t {
	case TypeAnalyst, TypeArchitect, TypeCoder, TypeTester, TypeDeployer:
		return true
	}
	return false
}
